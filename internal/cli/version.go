package cli

import (
	"encoding/json"
	"fmt"
)

// VersionCmd shows version information
type VersionCmd struct{}

// Run executes the version command
func (c *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]string{
			"type":    "version",
			"version": Version,
			"commit":  Commit,
		})
	}
	fmt.Fprintf(globals.Stdout, "tracetap %s (%s)\n", Version, Commit)
	return nil
}
