package probe

import (
	"encoding/json"

	"github.com/samber/lo"
)

// Setting is a self-contained piece of probe state. Serialize emits the
// current value; Deserialize restores it only when the input shape
// matches and never returns an error: unrecognized input leaves the
// current value untouched so a partially corrupt snapshot degrades to
// defaults field by field.
type Setting interface {
	Serialize() json.RawMessage
	Deserialize(raw json.RawMessage)
}

// Toggle is a boolean setting.
type Toggle struct {
	Value bool
}

func (t *Toggle) Serialize() json.RawMessage {
	raw, _ := json.Marshal(t.Value)
	return raw
}

func (t *Toggle) Deserialize(raw json.RawMessage) {
	var v bool
	if err := json.Unmarshal(raw, &v); err == nil {
		t.Value = v
	}
}

// Slider is a bounded integer setting (poll intervals, sampling rates,
// buffer sizes). Out-of-range input clamps to the nearest bound.
type Slider struct {
	Value int
	Min   int
	Max   int
	Unit  string
}

func (s *Slider) Serialize() json.RawMessage {
	raw, _ := json.Marshal(s.Value)
	return raw
}

func (s *Slider) Deserialize(raw json.RawMessage) {
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return
	}
	if v < s.Min {
		v = s.Min
	}
	if v > s.Max {
		v = s.Max
	}
	s.Value = v
}

// Text is a free-form string setting, optionally comma separated into a
// list by its consumer.
type Text struct {
	Value string
}

func (t *Text) Serialize() json.RawMessage {
	raw, _ := json.Marshal(t.Value)
	return raw
}

func (t *Text) Deserialize(raw json.RawMessage) {
	var v string
	if err := json.Unmarshal(raw, &v); err == nil {
		t.Value = v
	}
}

// MultiSelect holds a subset of a fixed option list. Deserializing
// keeps only values that are still valid options, so snapshots written
// by builds with a different option set restore cleanly.
type MultiSelect struct {
	Options  []string
	Selected []string
}

func (m *MultiSelect) Serialize() json.RawMessage {
	selected := m.Selected
	if selected == nil {
		selected = []string{}
	}
	raw, _ := json.Marshal(selected)
	return raw
}

func (m *MultiSelect) Deserialize(raw json.RawMessage) {
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		return
	}
	m.Selected = lo.Filter(v, func(s string, _ int) bool {
		return lo.Contains(m.Options, s)
	})
}
