package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tracetap/tracetap/internal/transport"
)

// ChecksCmd runs the selected transport's pre-flight diagnostics
// against a target. Every check runs even when earlier ones fail, so
// the output is the complete picture, not just the first problem.
type ChecksCmd struct {
	Transport string `short:"t" help:"Transport id (adb, websocket)"`
	Target    string `help:"Target id or name; auto-selected when only one is reachable"`
	Platform  string `help:"Target platform (android, linux, chrome)"`
}

// checkOutput is the NDJSON row for one pre-flight result.
type checkOutput struct {
	Type string `json:"type"`
	transport.CheckResult
}

// Run executes the checks command
func (c *ChecksCmd) Run(globals *Globals) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	reg, err := buildTransports(globals)
	if err != nil {
		return outputErrorCommon(globals, "TRANSPORT_SETUP", err.Error())
	}
	t, err := pickTransport(globals, reg, c.Transport)
	if err != nil {
		return outputErrorCommon(globals, "UNKNOWN_TRANSPORT", err.Error())
	}

	wanted := c.Target
	if wanted == "" {
		wanted = globals.Config.Defaults.Target
	}
	target, err := resolveTarget(ctx, t, platformOf(globals, c.Platform), wanted)
	if err != nil {
		return outputErrorCommon(globals, "TARGET_NOT_FOUND", err.Error())
	}

	results := t.Preflight(ctx, *target)

	failed := 0
	if globals.Format == "ndjson" {
		enc := json.NewEncoder(globals.Stdout)
		for _, res := range results {
			if !res.OK {
				failed++
			}
			if err := enc.Encode(checkOutput{Type: "check", CheckResult: res}); err != nil {
				return err
			}
		}
	} else {
		fmt.Fprintf(globals.Stdout, "Pre-flight checks for %s via %s:\n", target.Name, t.DisplayName())
		for _, res := range results {
			mark := "ok "
			if !res.OK {
				mark = "FAIL"
				failed++
			}
			fmt.Fprintf(globals.Stdout, "  [%s] %s", mark, res.Name)
			if res.Detail != "" {
				fmt.Fprintf(globals.Stdout, ": %s", res.Detail)
			}
			fmt.Fprintln(globals.Stdout)
			if res.Remediation != "" {
				fmt.Fprintf(globals.Stdout, "         %s\n", res.Remediation)
			}
		}
	}

	if failed > 0 {
		return outputErrorCommon(globals, "PREFLIGHT_FAILED",
			fmt.Sprintf("%d of %d checks failed", failed, len(results)))
	}
	return nil
}
