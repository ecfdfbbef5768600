package probe

import (
	"github.com/samber/lo"

	"github.com/tracetap/tracetap/internal/tracecfg"
)

// Platform identifies a class of recording targets. A probe with a nil
// platform list works everywhere.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformLinux   Platform = "linux"
	PlatformChrome  Platform = "chrome"
)

// Probe is one user-toggleable tracing feature. IDs are stable
// serialization keys: they are never renumbered or reused across
// builds. GenConfig contributes the probe's slice of the descriptor and
// must be a pure function of the probe's settings; it may be re-run on
// every enablement or setting change.
type Probe struct {
	ID          string
	Title       string
	Description string
	DocURL      string

	// Platforms the probe supports; nil means all.
	Platforms []Platform

	// Settings keyed by a stable name, serialized into snapshots.
	Settings map[string]Setting

	// Deps are hard dependencies: enabling this probe force-enables
	// every probe listed here.
	Deps []string

	GenConfig func(b *tracecfg.Builder)
}

// SupportsPlatform reports whether the probe can run on pl.
func (p *Probe) SupportsPlatform(pl Platform) bool {
	if len(p.Platforms) == 0 {
		return true
	}
	return lo.Contains(p.Platforms, pl)
}
