package cli

import (
	"io"
	"os"

	"github.com/tracetap/tracetap/internal/config"
)

// Version information, set at build time via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

// CLI is the top-level command structure
type CLI struct {
	Format  string `help:"Output format: text or ndjson" enum:"text,ndjson" default:"${config_format}"`
	Verbose bool   `short:"v" help:"Enable verbose debug logging"`

	Targets  TargetsCmd  `cmd:"" help:"List reachable recording targets"`
	Probes   ProbesCmd   `cmd:"" help:"List available probes and their dependencies"`
	Checks   ChecksCmd   `cmd:"" help:"Run pre-flight checks against a target"`
	Config   ConfigCmd   `cmd:"" help:"Print the trace descriptor generated from the enabled probes"`
	Record   RecordCmd   `cmd:"" help:"Record a trace from a target"`
	Sessions SessionsCmd `cmd:"" help:"List saved recording sessions"`
	Save     SaveCmd     `cmd:"" help:"Save the given recording setup under a name"`
	Share    ShareCmd    `cmd:"" help:"Upload a saved session to write-once storage and print the link"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// Globals carries shared state into every command's Run.
type Globals struct {
	Format  string
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config

	logger *debugLogger
}

// NewGlobalsWithConfig builds Globals from parsed flags with config
// file fallbacks.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	g := &Globals{
		Format:  c.Format,
		Verbose: c.Verbose || cfg.Verbose,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
	g.logger = newDebugLogger(g)
	return g
}

// Debug logs a verbose diagnostic line; a no-op unless --verbose.
func (g *Globals) Debug(format string, args ...interface{}) {
	g.logger.Debug(format, args...)
}
