package cli

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/tracetap/tracetap/internal/probe"
)

// ProbesCmd lists the probe catalog with dependencies and settings.
type ProbesCmd struct{}

// probeOutput is the NDJSON row for one catalog entry.
type probeOutput struct {
	Type        string   `json:"type"`
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Platforms   []string `json:"platforms,omitempty"`
	Deps        []string `json:"deps,omitempty"`
	Settings    []string `json:"settings,omitempty"`
}

// Run executes the probes command
func (c *ProbesCmd) Run(globals *Globals) error {
	reg, err := probe.DefaultRegistry()
	if err != nil {
		return outputErrorCommon(globals, "PROBE_CATALOG", err.Error())
	}

	rows := lo.Map(reg.All(), func(p *probe.Probe, _ int) probeOutput {
		settings := lo.Keys(p.Settings)
		sort.Strings(settings)
		return probeOutput{
			Type:        "probe",
			ID:          p.ID,
			Title:       p.Title,
			Description: p.Description,
			Platforms: lo.Map(p.Platforms, func(pl probe.Platform, _ int) string {
				return string(pl)
			}),
			Deps:     p.Deps,
			Settings: settings,
		}
	})

	if globals.Format == "ndjson" {
		enc := json.NewEncoder(globals.Stdout)
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	}

	tbl := tablewriter.NewWriter(globals.Stdout)
	tbl.Header("ID", "Title", "Platforms", "Depends on", "Settings")
	for _, row := range rows {
		platforms := "all"
		if len(row.Platforms) > 0 {
			platforms = strings.Join(row.Platforms, ",")
		}
		tbl.Append([]string{
			row.ID, row.Title, platforms,
			strings.Join(row.Deps, ","), strings.Join(row.Settings, ","),
		})
	}
	return tbl.Render()
}
