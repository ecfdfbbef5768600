package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/tracetap/tracetap/internal/config"
	"github.com/tracetap/tracetap/internal/persist"
	"github.com/tracetap/tracetap/internal/probe"
	"github.com/tracetap/tracetap/internal/tracecfg"
	"github.com/tracetap/tracetap/internal/transport"
)

// setupFlags are the recording-setup flags shared by the config,
// record and save commands. Precedence: explicit flags > loaded
// session > config file defaults.
type setupFlags struct {
	Session         string        `help:"Start from a saved session name, or 'last' for the most recent setup"`
	Probe           []string      `short:"p" help:"Enable a probe by id (repeatable)"`
	Mode            string        `help:"Record mode: stop_when_full, ring_buffer or long_trace"`
	Duration        time.Duration `help:"Recording duration; 0 records until stopped"`
	BufferSizeKB    int           `help:"Default buffer size in KB"`
	FlushPeriod     time.Duration `help:"Producer flush period for long traces"`
	FileWritePeriod time.Duration `help:"How often long traces are appended to the output file"`
	MaxFileSizeMB   int           `help:"Max output file size for long traces, in MB"`
	Compress        bool          `help:"Compress the recorded trace"`
}

// buildSetup assembles the probe registry and config builder for the
// requested recording setup.
func buildSetup(globals *Globals, f *setupFlags) (*probe.Registry, *tracecfg.Builder, error) {
	reg, err := probe.DefaultRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("probe catalog: %w", err)
	}
	b := tracecfg.NewBuilder()

	defaults := globals.Config.Defaults
	loadedSession := false
	if f.Session != "" {
		snap, err := loadSnapshot(globals, f.Session)
		if err != nil {
			return nil, nil, err
		}
		persist.Apply(snap, reg, b)
		loadedSession = true
		globals.Debug("loaded session %q", f.Session)
	}

	probes := f.Probe
	if len(probes) == 0 && !loadedSession {
		probes = defaults.Probes
	}
	for _, id := range probes {
		if _, ok := reg.Get(id); !ok {
			return nil, nil, fmt.Errorf("unknown probe %q (run 'tracetap probes' for the catalog)", id)
		}
		reg.SetEnabled(id, true)
	}

	if !loadedSession {
		applyConfigDefaults(b, defaults)
	}
	if err := applyFlagOverrides(b, f); err != nil {
		return nil, nil, err
	}
	return reg, b, nil
}

func applyConfigDefaults(b *tracecfg.Builder, d config.DefaultsConfig) {
	switch m := tracecfg.RecordMode(d.Mode); m {
	case tracecfg.ModeStopWhenFull, tracecfg.ModeRingBuffer, tracecfg.ModeLongTrace:
		b.Mode = m
	}
	if dur, err := time.ParseDuration(d.Duration); err == nil && dur > 0 {
		b.DurationMS = uint32(dur.Milliseconds())
	}
	if d.BufferSizeKB > 0 {
		b.DefaultBufSizeKB = uint32(d.BufferSizeKB)
	}
	if fp, err := time.ParseDuration(d.FlushPeriod); err == nil && fp > 0 {
		b.FlushPeriodMS = uint32(fp.Milliseconds())
	}
	if wp, err := time.ParseDuration(d.FileWritePeriod); err == nil && wp > 0 {
		b.FileWritePeriodMS = uint32(wp.Milliseconds())
	}
	if d.MaxFileSizeMB > 0 {
		b.MaxFileSizeMB = uint32(d.MaxFileSizeMB)
	}
	if d.Compress {
		b.Compress = true
	}
}

func applyFlagOverrides(b *tracecfg.Builder, f *setupFlags) error {
	if f.Mode != "" {
		switch m := tracecfg.RecordMode(f.Mode); m {
		case tracecfg.ModeStopWhenFull, tracecfg.ModeRingBuffer, tracecfg.ModeLongTrace:
			b.Mode = m
		default:
			return fmt.Errorf("unknown mode %q", f.Mode)
		}
	}
	if f.Duration > 0 {
		b.DurationMS = uint32(f.Duration.Milliseconds())
	}
	// Ring-buffer recordings run until explicitly stopped.
	if b.Mode == tracecfg.ModeRingBuffer && f.Duration == 0 {
		b.DurationMS = 0
	}
	if f.BufferSizeKB > 0 {
		b.DefaultBufSizeKB = uint32(f.BufferSizeKB)
	}
	if f.FlushPeriod > 0 {
		b.FlushPeriodMS = uint32(f.FlushPeriod.Milliseconds())
	}
	if f.FileWritePeriod > 0 {
		b.FileWritePeriodMS = uint32(f.FileWritePeriod.Milliseconds())
	}
	if f.MaxFileSizeMB > 0 {
		b.MaxFileSizeMB = uint32(f.MaxFileSizeMB)
	}
	if f.Compress {
		b.Compress = true
	}
	return nil
}

// buildTransports wires the configured transports into a registry.
func buildTransports(globals *Globals) (*transport.Registry, error) {
	d := globals.Config.Defaults
	log := globals.logger.Sugared()
	return transport.NewRegistry(
		transport.NewADB(d.AdbPath, log),
		transport.NewBridge(d.BridgeURL, log),
	)
}

// pickTransport resolves the transport selected by flag or config.
func pickTransport(globals *Globals, reg *transport.Registry, id string) (transport.Transport, error) {
	if id == "" {
		id = globals.Config.Defaults.Transport
	}
	t, ok := reg.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown transport %q", id)
	}
	return t, nil
}

// resolveTarget finds a target by id or name. An empty wanted id
// selects the sole reachable target, and is an error when there are
// none or several.
func resolveTarget(ctx context.Context, t transport.Transport, pl probe.Platform, wanted string) (*transport.Target, error) {
	targets, err := t.ListTargets(ctx, pl)
	if err != nil {
		return nil, err
	}
	if wanted == "" {
		switch len(targets) {
		case 0:
			return nil, fmt.Errorf("no targets reachable via %s", t.DisplayName())
		case 1:
			return &targets[0], nil
		default:
			return nil, fmt.Errorf("%d targets reachable via %s; pick one with --target", len(targets), t.DisplayName())
		}
	}
	for i := range targets {
		if targets[i].ID == wanted || targets[i].Name == wanted {
			return &targets[i], nil
		}
	}
	return nil, fmt.Errorf("target %q not found via %s", wanted, t.DisplayName())
}

// openStore opens the snapshot store in the per-user directory.
func openStore() (*persist.Store, error) {
	dir, err := persist.DefaultDir()
	if err != nil {
		return nil, err
	}
	return persist.NewStore(dir)
}

// loadSnapshot loads a named snapshot, with "last" meaning the
// implicit last-used setup.
func loadSnapshot(globals *Globals, name string) (*persist.Snapshot, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	if name == "last" {
		snap, err := store.LoadLastUsed()
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, fmt.Errorf("no last-used session recorded yet")
		}
		return snap, nil
	}
	return store.Load(name)
}

// platformOf returns the effective platform from flag or config.
func platformOf(globals *Globals, flag string) probe.Platform {
	if flag != "" {
		return probe.Platform(flag)
	}
	return probe.Platform(globals.Config.Defaults.Platform)
}
