package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/tracetap/tracetap/internal/cli"
	"github.com/tracetap/tracetap/internal/config"
)

const quickStart = `tracetap - record system traces from connected targets

Quick start:
  tracetap targets                       List reachable devices
  tracetap probes                        List available probes
  tracetap record -p cpu_sched -p atrace --duration 10s

For help:
  tracetap --help                        All commands and flags
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Apply config defaults before parsing
	// These will be overridden by CLI flags if specified
	vars := kong.Vars{
		"config_format": cfg.Format,
	}

	ctx := kong.Parse(&c,
		kong.Name("tracetap"),
		kong.Description("tracetap: record system traces over USB or a WebSocket bridge"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	// Create globals with config fallbacks
	globals := cli.NewGlobalsWithConfig(&c, cfg)
	err = ctx.Run(globals)
	if err != nil {
		os.Exit(1)
	}
}
