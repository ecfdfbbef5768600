package cli

import "go.uber.org/zap"

// debugLogger wraps zap for verbose diagnostics. It stays nil-safe so
// commands can log unconditionally.
type debugLogger struct {
	sugared *zap.SugaredLogger
}

func newDebugLogger(globals *Globals) *debugLogger {
	if globals == nil || !globals.Verbose {
		return &debugLogger{}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	logger, _ := cfg.Build()
	return &debugLogger{sugared: logger.Sugar()}
}

func (l *debugLogger) Debug(format string, args ...interface{}) {
	if l == nil || l.sugared == nil {
		return
	}
	l.sugared.Debugf(format, args...)
}

// Sugared exposes the underlying logger for components that take one
// directly; nil when verbose logging is off.
func (l *debugLogger) Sugared() *zap.SugaredLogger {
	if l == nil {
		return nil
	}
	return l.sugared
}
