package transport

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tracetap/tracetap/internal/probe"
	"github.com/tracetap/tracetap/internal/tracecfg"
)

const (
	adbTraceDir  = "/data/misc/perfetto-traces"
	adbPollEvery = time.Second
)

// ADB records through the platform adb binary over USB: devices are
// enumerated with `adb devices -l` and the on-device daemon is driven
// via `adb shell perfetto`.
type ADB struct {
	adbPath   string
	log       *zap.SugaredLogger
	pollEvery time.Duration

	// runCmd invokes the adb binary; replaced in tests.
	runCmd func(ctx context.Context, args ...string) (string, error)
}

// NewADB returns the USB transport. adbPath may be empty to resolve
// "adb" from PATH.
func NewADB(adbPath string, log *zap.SugaredLogger) *ADB {
	if adbPath == "" {
		adbPath = "adb"
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &ADB{adbPath: adbPath, log: log, pollEvery: adbPollEvery}
	a.runCmd = a.execAdb
	return a
}

func (a *ADB) ID() string          { return "adb" }
func (a *ADB) DisplayName() string { return "USB (adb)" }

var adbDeviceLine = regexp.MustCompile(`^(\S+)\s+device\b(.*)$`)

// ListTargets enumerates attached devices in the `device` state.
// Unauthorized and offline devices are skipped here; Preflight reports
// them with remediation instead.
func (a *ADB) ListTargets(ctx context.Context, pl probe.Platform) ([]Target, error) {
	if pl != "" && pl != probe.PlatformAndroid {
		return nil, nil
	}
	out, err := a.run(ctx, "devices", "-l")
	if err != nil {
		return nil, fmt.Errorf("adb devices: %w", err)
	}
	var targets []Target
	for _, line := range strings.Split(out, "\n")[1:] {
		m := adbDeviceLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		name := m[1]
		if model := extractField(m[2], "model:"); model != "" {
			name = strings.ReplaceAll(model, "_", " ")
		}
		targets = append(targets, Target{
			ID:        m[1],
			Name:      name,
			Platform:  probe.PlatformAndroid,
			Transport: a.ID(),
			Detail:    strings.TrimSpace(m[2]),
		})
	}
	return targets, nil
}

func extractField(props, prefix string) string {
	for _, f := range strings.Fields(props) {
		if strings.HasPrefix(f, prefix) {
			return strings.TrimPrefix(f, prefix)
		}
	}
	return ""
}

// Preflight verifies the adb binary, the device connection state, the
// on-device tracing daemon and the trace output directory. All four
// checks run regardless of earlier failures.
func (a *ADB) Preflight(ctx context.Context, target Target) []CheckResult {
	return runChecks(ctx, []check{
		{name: "adb binary", run: func(ctx context.Context) (string, string, bool) {
			path, err := exec.LookPath(a.adbPath)
			if err != nil {
				return err.Error(), "install the Android platform tools and ensure adb is on PATH", false
			}
			return path, "", true
		}},
		{name: "device state", run: func(ctx context.Context) (string, string, bool) {
			out, err := a.run(ctx, "-s", target.ID, "get-state")
			if err != nil {
				return err.Error(), "reconnect the device and accept the USB debugging prompt", false
			}
			state := strings.TrimSpace(out)
			if state != "device" {
				return fmt.Sprintf("device is %q", state), "accept the USB debugging prompt on the device", false
			}
			return state, "", true
		}},
		{name: "tracing daemon", run: func(ctx context.Context) (string, string, bool) {
			out, err := a.run(ctx, "-s", target.ID, "shell", "perfetto", "--version")
			if err != nil {
				return err.Error(), "the device build has no perfetto binary; use Android 10 or newer", false
			}
			return strings.TrimSpace(out), "", true
		}},
		{name: "trace directory", run: func(ctx context.Context) (string, string, bool) {
			_, err := a.run(ctx, "-s", target.ID, "shell", "test", "-d", adbTraceDir)
			if err != nil {
				return fmt.Sprintf("%s missing", adbTraceDir), "the device build does not support trace output; update the OS", false
			}
			return adbTraceDir, "", true
		}},
	})
}

var trailingPID = regexp.MustCompile(`(\d+)\s*$`)

// Start launches the on-device daemon in background mode with the
// textual descriptor on stdin, then monitors the daemon pid until it
// exits. Bounded-duration recordings finish on their own; unbounded
// ones run until Stop or Cancel.
func (a *ADB) Start(ctx context.Context, target Target, cfg *tracecfg.TraceConfig) (Handle, error) {
	var txt bytes.Buffer
	if err := cfg.WriteText(&txt); err != nil {
		return nil, err
	}
	outPath := fmt.Sprintf("%s/tracetap-%d.perfetto-trace", adbTraceDir, time.Now().UnixNano())

	cmd := exec.CommandContext(ctx, a.adbPath, "-s", target.ID,
		"shell", "perfetto", "--txt", "-c", "-", "-o", outPath, "--background")
	cmd.Stdin = &txt
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("start tracing: %v: %s", err, strings.TrimSpace(string(out)))
	}
	m := trailingPID.FindStringSubmatch(strings.TrimSpace(string(out)))
	if m == nil {
		return nil, fmt.Errorf("start tracing: daemon did not report a pid: %s", strings.TrimSpace(string(out)))
	}
	pid := m[1]
	a.log.Debugw("tracing started", "target", target.ID, "pid", pid, "out", outPath)

	h := &adbHandle{
		updateHub: newUpdateHub(),
		adb:       a,
		target:    target,
		pid:       pid,
		outPath:   outPath,
	}
	h.appendLog(strings.TrimSpace(string(out)))
	go h.watch()
	return h, nil
}

func (a *ADB) run(ctx context.Context, args ...string) (string, error) {
	return a.runCmd(ctx, args...)
}

func (a *ADB) execAdb(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, a.adbPath, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%v: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

type adbHandle struct {
	*updateHub
	adb     *ADB
	target  Target
	pid     string
	outPath string

	stopping        bool
	cancelRequested bool
}

// watch polls the daemon pid until it exits, then publishes the
// terminal state implied by how it went away. A failed pid probe alone
// does not mean the daemon finished: when the device itself is no
// longer reachable the recording is errored, not complete.
func (h *adbHandle) watch() {
	ticker := time.NewTicker(h.adb.pollEvery)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := h.adb.run(ctx, "-s", h.target.ID, "shell", "kill", "-0", h.pid)
		cancel()
		if err == nil {
			continue
		}
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		state, stateErr := h.adb.run(ctx, "-s", h.target.ID, "get-state")
		cancel()
		if stateErr != nil {
			h.publish(Update{State: StateErrored, Err: fmt.Sprintf("device unreachable: %v", stateErr)})
			return
		}
		if s := strings.TrimSpace(state); s != "device" {
			h.publish(Update{State: StateErrored, Err: fmt.Sprintf("device is %q", s)})
			return
		}
		h.mu.Lock()
		cancelled := h.cancelRequested
		h.mu.Unlock()
		if cancelled {
			h.publish(Update{State: StateCancelled})
		} else {
			h.publish(Update{State: StateFinished})
		}
		return
	}
}

// Stop asks the daemon to flush and exit; the watcher reports Finished
// once the pid is gone.
func (h *adbHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	already := h.stopping
	h.stopping = true
	h.mu.Unlock()
	if already {
		return nil
	}
	h.publish(Update{State: StateStopping})
	_, err := h.adb.run(ctx, "-s", h.target.ID, "shell", "kill", "-TERM", h.pid)
	return err
}

// Cancel kills the daemon and removes the partial output.
func (h *adbHandle) Cancel(ctx context.Context) error {
	h.mu.Lock()
	h.cancelRequested = true
	h.mu.Unlock()
	if _, err := h.adb.run(ctx, "-s", h.target.ID, "shell", "kill", "-KILL", h.pid); err != nil {
		return err
	}
	_, _ = h.adb.run(ctx, "-s", h.target.ID, "shell", "rm", "-f", h.outPath)
	return nil
}

// BufferUsage is not observable through the adb shell path.
func (h *adbHandle) BufferUsage(ctx context.Context) (float64, error) {
	return 0, ErrBufferUsageUnsupported
}

// TraceData pulls the finished trace off the device.
func (h *adbHandle) TraceData(ctx context.Context) ([]byte, error) {
	if st := h.State(); st != StateFinished {
		return nil, fmt.Errorf("trace not available in state %q", st)
	}
	cmd := exec.CommandContext(ctx, h.adb.adbPath, "-s", h.target.ID, "exec-out", "cat", h.outPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pull trace: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
