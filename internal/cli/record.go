package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/mattn/go-isatty"

	"github.com/tracetap/tracetap/internal/persist"
	"github.com/tracetap/tracetap/internal/session"
	"github.com/tracetap/tracetap/internal/tracecfg"
)

// RecordCmd records a trace: generates the descriptor from the enabled
// probes, runs pre-flight checks, starts a session on the selected
// target and waits for it to finish.
type RecordCmd struct {
	setupFlags `embed:""`

	Transport  string `short:"t" help:"Transport id (adb, websocket)"`
	Target     string `help:"Target id or name; auto-selected when only one is reachable"`
	Platform   string `help:"Target platform (android, linux, chrome)"`
	Out        string `short:"o" help:"Output directory for the recorded trace"`
	AutoOpen   bool   `help:"Open the trace in the system viewer when finished"`
	SkipChecks bool   `help:"Start even if pre-flight checks cannot be verified"`
}

// progressOutput is the NDJSON row emitted once per poll interval
// while recording.
type progressOutput struct {
	Type       string  `json:"type"`
	Session    string  `json:"session"`
	State      string  `json:"state"`
	EtaSeconds float64 `json:"eta_seconds,omitempty"`
	BufferPct  float64 `json:"buffer_pct,omitempty"`
}

// Run executes the record command
func (c *RecordCmd) Run(globals *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, b, err := buildSetup(globals, &c.setupFlags)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_SETUP", err.Error())
	}
	pl := platformOf(globals, c.Platform)
	reg.GenerateConfig(b, pl)
	cfg, err := b.Build()
	if err != nil {
		return outputErrorCommon(globals, "CONFIG_BUILD", err.Error())
	}

	transports, err := buildTransports(globals)
	if err != nil {
		return outputErrorCommon(globals, "TRANSPORT_SETUP", err.Error())
	}
	t, err := pickTransport(globals, transports, c.Transport)
	if err != nil {
		return outputErrorCommon(globals, "UNKNOWN_TRANSPORT", err.Error())
	}

	wanted := c.Target
	if wanted == "" {
		wanted = globals.Config.Defaults.Target
	}
	target, err := resolveTarget(ctx, t, pl, wanted)
	if err != nil {
		return outputErrorCommon(globals, "TARGET_NOT_FOUND", err.Error())
	}
	globals.Debug("recording on %s (%s) via %s", target.Name, target.ID, t.ID())

	if !c.SkipChecks {
		results := t.Preflight(ctx, *target)
		failed := 0
		for _, res := range results {
			if !res.OK {
				failed++
				fmt.Fprintf(globals.Stderr, "pre-flight %s: %s", res.Name, res.Detail)
				if res.Remediation != "" {
					fmt.Fprintf(globals.Stderr, " (%s)", res.Remediation)
				}
				fmt.Fprintln(globals.Stderr)
			}
		}
		if failed > 0 {
			return outputErrorCommon(globals, "PREFLIGHT_FAILED",
				fmt.Sprintf("%d pre-flight checks failed", failed),
				"run 'tracetap checks' for details or pass --skip-checks")
		}
	}

	// Daemon-side deflate covers long traces; anything else compresses
	// client side on write.
	clientGzip := b.Compress && b.Mode != tracecfg.ModeLongTrace

	autoOpened := make(chan []byte, 1)
	params := session.Params{
		Transport:  t,
		Target:     target,
		Config:     cfg,
		Compressed: clientGzip,
		Log:        globals.logger.Sugared(),
	}
	if c.AutoOpen {
		params.AutoOpen = func(data []byte) {
			select {
			case autoOpened <- data:
			default:
			}
		}
	}

	ctrl := session.NewController()
	sess, err := ctrl.Start(ctx, params)
	if err != nil {
		return outputErrorCommon(globals, "SESSION_START", err.Error())
	}

	// First interrupt stops gracefully, a second abandons the recording.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := sess.Stop(stopCtx); err != nil {
			globals.Debug("stop: %v", err)
		}
		<-sigCh
		if err := sess.Cancel(stopCtx); err != nil {
			globals.Debug("cancel: %v", err)
		}
	}()

	c.waitWithProgress(globals, sess)

	switch sess.State() {
	case session.StateFinished:
	case session.StateCancelled:
		fmt.Fprintln(globals.Stderr, "Recording cancelled.")
		return nil
	default:
		for _, line := range sess.Logs() {
			fmt.Fprintln(globals.Stderr, line)
		}
		return outputErrorCommon(globals, "SESSION_ERROR", sess.Err())
	}

	var data []byte
	select {
	case data = <-autoOpened:
	default:
		fetchCtx, fetchCancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer fetchCancel()
		data, err = sess.TraceData(fetchCtx)
		if err != nil {
			return outputErrorCommon(globals, "TRACE_FETCH", err.Error())
		}
	}

	outDir := c.Out
	if outDir == "" {
		outDir = globals.Config.Defaults.OutputDir
	}
	path, err := writeTrace(outDir, sess.FileName(), data, clientGzip)
	if err != nil {
		return outputErrorCommon(globals, "TRACE_WRITE", err.Error())
	}

	if store, err := openStore(); err == nil {
		snap := persist.Capture(reg, b, t.ID(), target.ID, pl)
		if err := store.SaveLastUsed(snap); err != nil {
			globals.Debug("save last-used session: %v", err)
		}
	}

	if globals.Format == "ndjson" {
		json.NewEncoder(globals.Stdout).Encode(map[string]any{
			"type": "trace", "session": sess.ID(), "path": path, "bytes": len(data),
		})
	} else {
		fmt.Fprintf(globals.Stdout, "Trace written to %s (%d bytes)\n", path, len(data))
	}

	if c.AutoOpen {
		if err := openViewer(path); err != nil {
			globals.Debug("open viewer: %v", err)
		}
	}
	return nil
}

// waitWithProgress blocks until the session is terminal, emitting a
// progress line per second: ETA for bounded recordings, buffer fill
// where the transport reports it. On a terminal the line is redrawn in
// place; redirected output gets one line per tick.
func (c *RecordCmd) waitWithProgress(globals *Globals, sess *session.Session) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	enc := json.NewEncoder(globals.Stdout)
	interactive := false
	if f, ok := globals.Stdout.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	for {
		select {
		case <-sess.Done():
			if interactive {
				fmt.Fprintln(globals.Stdout)
			}
			return
		case <-ticker.C:
		}
		eta, bounded := sess.ETA()
		fill := sess.BufferFill()
		if globals.Format == "ndjson" {
			row := progressOutput{
				Type:      "progress",
				Session:   sess.ID(),
				State:     string(sess.State()),
				BufferPct: fill,
			}
			if bounded {
				row.EtaSeconds = eta.Seconds()
			}
			enc.Encode(row)
			continue
		}
		line := string(sess.State())
		if bounded {
			line += fmt.Sprintf(", %s left", eta.Round(time.Second))
		}
		if fill > 0 {
			line += fmt.Sprintf(" (buffer %.0f%%)", fill)
		}
		if interactive {
			fmt.Fprint(globals.Stdout, "\r"+line+"   ")
		} else {
			fmt.Fprintln(globals.Stdout, line)
		}
	}
}

// writeTrace writes the trace bytes, gzipping when requested. The
// session's file name already carries the .gz suffix in that case.
func writeTrace(dir, name string, data []byte, gzipData bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if gzipData {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return "", err
		}
		if err := zw.Close(); err != nil {
			return "", err
		}
		data = buf.Bytes()
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// openViewer hands the trace file to the system opener.
func openViewer(path string) error {
	opener := "xdg-open"
	if runtime.GOOS == "darwin" {
		opener = "open"
	}
	return exec.Command(opener, path).Start()
}
