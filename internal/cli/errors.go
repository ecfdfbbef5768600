package cli

import (
	"encoding/json"
	"errors"
	"fmt"
)

// errorOutput is the machine-readable failure shape emitted in ndjson
// mode so scripted callers always get structured errors.
type errorOutput struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// outputErrorCommon normalizes error emission across commands,
// respecting ndjson vs text formats.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	h := ""
	if len(hint) > 0 {
		h = hint[0]
	}
	if globals != nil && globals.Format == "ndjson" {
		json.NewEncoder(globals.Stdout).Encode(errorOutput{
			Type:    "error",
			Code:    code,
			Message: message,
			Hint:    h,
		})
	} else if globals != nil {
		fmt.Fprintf(globals.Stderr, "Error [%s]: %s", code, message)
		if h != "" {
			fmt.Fprintf(globals.Stderr, " (hint: %s)", h)
		}
		fmt.Fprintln(globals.Stderr)
	}
	return errors.New(message)
}
