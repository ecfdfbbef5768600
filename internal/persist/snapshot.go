package persist

import (
	"encoding/json"

	"github.com/tracetap/tracetap/internal/probe"
	"github.com/tracetap/tracetap/internal/tracecfg"
)

// SchemaVersion of the snapshot document. Readers ignore fields and
// probe ids they do not recognize, so older and newer builds exchange
// snapshots without migrations.
const SchemaVersion = 1

// Snapshot is the JSON-serializable shape of one recording setup:
// which probes are on, their settings, the session-wide scalars and the
// transport/target selection. Disabled probes are omitted entirely.
type Snapshot struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`

	Probes map[string]map[string]json.RawMessage `json:"probes"`

	Mode              tracecfg.RecordMode `json:"mode"`
	DurationMS        uint32              `json:"durationMs,omitempty"`
	MaxFileSizeMB     uint32              `json:"maxFileSizeMb,omitempty"`
	FlushPeriodMS     uint32              `json:"flushPeriodMs,omitempty"`
	FileWritePeriodMS uint32              `json:"fileWritePeriodMs,omitempty"`
	Compress          bool                `json:"compress,omitempty"`
	DefaultBufferKB   uint32              `json:"defaultBufferSizeKb,omitempty"`

	Transport string         `json:"transport,omitempty"`
	Target    string         `json:"target,omitempty"`
	Platform  probe.Platform `json:"platform,omitempty"`
}

// Capture serializes the current registry and builder state. Probes are
// walked in dependency order and only effective-enabled ones appear,
// each with its settings' serialized values.
func Capture(reg *probe.Registry, b *tracecfg.Builder, transportID, targetID string, pl probe.Platform) *Snapshot {
	snap := &Snapshot{
		Type:          "recording_snapshot",
		SchemaVersion: SchemaVersion,
		Probes:        make(map[string]map[string]json.RawMessage),

		Mode:              b.Mode,
		DurationMS:        b.DurationMS,
		MaxFileSizeMB:     b.MaxFileSizeMB,
		FlushPeriodMS:     b.FlushPeriodMS,
		FileWritePeriodMS: b.FileWritePeriodMS,
		Compress:          b.Compress,
		DefaultBufferKB:   b.DefaultBufSizeKB,

		Transport: transportID,
		Target:    targetID,
		Platform:  pl,
	}
	for _, p := range reg.EnabledInOrder(pl) {
		values := make(map[string]json.RawMessage, len(p.Settings))
		for name, setting := range p.Settings {
			values[name] = setting.Serialize()
		}
		snap.Probes[p.ID] = values
	}
	return snap
}

// Apply restores a snapshot into the registry and builder. Restoration
// is best effort and never fails partway: unknown probe ids and setting
// names are skipped, malformed values leave that setting's default
// untouched, and every recognized part is applied regardless of what
// else was unrecognized.
func Apply(snap *Snapshot, reg *probe.Registry, b *tracecfg.Builder) {
	for id, values := range snap.Probes {
		p, ok := reg.Get(id)
		if !ok {
			continue
		}
		reg.SetEnabled(id, true)
		for name, raw := range values {
			setting, ok := p.Settings[name]
			if !ok {
				continue
			}
			setting.Deserialize(raw)
		}
	}

	switch snap.Mode {
	case tracecfg.ModeStopWhenFull, tracecfg.ModeRingBuffer, tracecfg.ModeLongTrace:
		b.Mode = snap.Mode
	}
	b.DurationMS = snap.DurationMS
	b.MaxFileSizeMB = snap.MaxFileSizeMB
	b.FlushPeriodMS = snap.FlushPeriodMS
	b.FileWritePeriodMS = snap.FileWritePeriodMS
	b.Compress = snap.Compress
	if snap.DefaultBufferKB > 0 {
		b.DefaultBufSizeKB = snap.DefaultBufferKB
	}
}

// Decode parses a snapshot document. Only a structurally invalid JSON
// body is an error; unknown fields are ignored.
func Decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.Probes == nil {
		snap.Probes = make(map[string]map[string]json.RawMessage)
	}
	return &snap, nil
}

// Encode renders the snapshot as indented JSON, the on-disk and shared
// representation.
func (s *Snapshot) Encode() ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
