package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tracetap/tracetap/internal/persist"
)

// SessionsCmd lists the named saved sessions.
type SessionsCmd struct{}

// Run executes the sessions command
func (c *SessionsCmd) Run(globals *Globals) error {
	store, err := openStore()
	if err != nil {
		return outputErrorCommon(globals, "STORE_OPEN", err.Error())
	}
	names, err := store.List()
	if err != nil {
		return outputErrorCommon(globals, "STORE_LIST", err.Error())
	}

	if globals.Format == "ndjson" {
		enc := json.NewEncoder(globals.Stdout)
		for _, name := range names {
			if err := enc.Encode(map[string]string{"type": "session", "name": name}); err != nil {
				return err
			}
		}
		return nil
	}
	if len(names) == 0 {
		fmt.Fprintln(globals.Stdout, "No saved sessions.")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(globals.Stdout, name)
	}
	return nil
}

// SaveCmd captures a recording setup under a name for later reuse with
// --session.
type SaveCmd struct {
	setupFlags `embed:""`

	Name      string `arg:"" help:"Name to save the session under"`
	Transport string `short:"t" help:"Transport id to record with the session"`
	Target    string `help:"Target id to record with the session"`
	Platform  string `help:"Target platform"`
}

// Run executes the save command
func (c *SaveCmd) Run(globals *Globals) error {
	reg, b, err := buildSetup(globals, &c.setupFlags)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_SETUP", err.Error())
	}

	transportID := c.Transport
	if transportID == "" {
		transportID = globals.Config.Defaults.Transport
	}
	snap := persist.Capture(reg, b, transportID, c.Target, platformOf(globals, c.Platform))

	store, err := openStore()
	if err != nil {
		return outputErrorCommon(globals, "STORE_OPEN", err.Error())
	}
	if err := store.Save(c.Name, snap); err != nil {
		return outputErrorCommon(globals, "STORE_SAVE", err.Error())
	}

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]any{
			"type": "saved", "name": c.Name, "probes": len(snap.Probes),
		})
	}
	fmt.Fprintf(globals.Stdout, "Saved session %q (%d probes)\n", c.Name, len(snap.Probes))
	return nil
}

// ShareCmd uploads a saved session to write-once storage and prints
// the content-addressed link. Publishing is one way: the link cannot
// be revoked afterwards.
type ShareCmd struct {
	Name string `arg:"" help:"Saved session name, or 'last'"`
}

// Run executes the share command
func (c *ShareCmd) Run(globals *Globals) error {
	if globals.Config.ShareURL == "" {
		return outputErrorCommon(globals, "SHARE_UNCONFIGURED",
			"no share storage configured", "set share_url in the config file or TRACETAP_SHARE_URL")
	}
	snap, err := loadSnapshot(globals, c.Name)
	if err != nil {
		return outputErrorCommon(globals, "SESSION_NOT_FOUND", err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	url, err := persist.NewSharer(globals.Config.ShareURL).Share(ctx, snap)
	if err != nil {
		return outputErrorCommon(globals, "SHARE_FAILED", err.Error())
	}

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]string{
			"type": "share", "name": c.Name, "url": url,
		})
	}
	fmt.Fprintln(globals.Stdout, url)
	return nil
}
