package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/tracetap/tracetap/internal/transport"
)

// TargetsCmd lists the targets reachable through the configured
// transports.
type TargetsCmd struct {
	Transport string `short:"t" help:"Only query this transport id (adb, websocket)"`
	Platform  string `help:"Filter by platform (android, linux, chrome)"`
}

// targetOutput is the NDJSON row for one reachable target.
type targetOutput struct {
	Type string `json:"type"`
	transport.Target
}

// Run executes the targets command
func (c *TargetsCmd) Run(globals *Globals) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reg, err := buildTransports(globals)
	if err != nil {
		return outputErrorCommon(globals, "TRANSPORT_SETUP", err.Error())
	}

	transports := reg.All()
	if c.Transport != "" {
		t, ok := reg.Get(c.Transport)
		if !ok {
			return outputErrorCommon(globals, "UNKNOWN_TRANSPORT", fmt.Sprintf("unknown transport %q", c.Transport))
		}
		transports = []transport.Transport{t}
	}

	pl := platformOf(globals, c.Platform)
	var targets []transport.Target
	for _, t := range transports {
		found, err := t.ListTargets(ctx, pl)
		if err != nil {
			// One unreachable transport should not hide the others'
			// targets; surface it as a diagnostic instead.
			globals.Debug("list targets via %s: %v", t.ID(), err)
			fmt.Fprintf(globals.Stderr, "warning: %s: %v\n", t.DisplayName(), err)
			continue
		}
		targets = append(targets, found...)
	}

	if globals.Format == "ndjson" {
		enc := json.NewEncoder(globals.Stdout)
		for _, t := range targets {
			if err := enc.Encode(targetOutput{Type: "target", Target: t}); err != nil {
				return err
			}
		}
		return nil
	}

	if len(targets) == 0 {
		fmt.Fprintln(globals.Stdout, "No targets reachable.")
		return nil
	}
	tbl := tablewriter.NewWriter(globals.Stdout)
	tbl.Header("ID", "Name", "Platform", "Transport")
	for _, t := range targets {
		tbl.Append([]string{t.ID, t.Name, string(t.Platform), t.Transport})
	}
	return tbl.Render()
}
