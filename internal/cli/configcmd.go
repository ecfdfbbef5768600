package cli

import (
	"encoding/json"
)

// ConfigCmd prints the trace descriptor generated from the enabled
// probes, for inspection or for feeding a daemon by hand.
type ConfigCmd struct {
	setupFlags `embed:""`

	Platform string `help:"Target platform the descriptor is generated for"`
	JSON     bool   `help:"Emit the descriptor as JSON instead of textual proto"`
}

// Run executes the config command
func (c *ConfigCmd) Run(globals *Globals) error {
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

	if c.JSON || globals.Format == "ndjson" {
		enc := json.NewEncoder(globals.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	return cfg.WriteText(globals.Stdout)
}
