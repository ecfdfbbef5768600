package probe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToggleDeserialize(t *testing.T) {
	tg := &Toggle{}
	tg.Deserialize(json.RawMessage(`true`))
	assert.True(t, tg.Value)

	// Wrong shape leaves the current value untouched.
	tg.Deserialize(json.RawMessage(`"yes"`))
	assert.True(t, tg.Value)
	tg.Deserialize(json.RawMessage(`{`))
	assert.True(t, tg.Value)
}

func TestSliderClampsAndGuards(t *testing.T) {
	s := &Slider{Value: 1000, Min: 100, Max: 5000}

	s.Deserialize(json.RawMessage(`250`))
	assert.Equal(t, 250, s.Value)

	s.Deserialize(json.RawMessage(`999999`))
	assert.Equal(t, 5000, s.Value)

	s.Deserialize(json.RawMessage(`1`))
	assert.Equal(t, 100, s.Value)

	s.Deserialize(json.RawMessage(`"fast"`))
	assert.Equal(t, 100, s.Value, "malformed input leaves the value alone")
}

func TestTextDeserialize(t *testing.T) {
	txt := &Text{Value: "default"}
	txt.Deserialize(json.RawMessage(`42`))
	assert.Equal(t, "default", txt.Value)

	txt.Deserialize(json.RawMessage(`"com.example.app"`))
	assert.Equal(t, "com.example.app", txt.Value)
}

func TestMultiSelectDropsUnknownOptions(t *testing.T) {
	m := &MultiSelect{Options: []string{"gfx", "input", "view"}}
	m.Deserialize(json.RawMessage(`["gfx", "webview", "view"]`))
	assert.Equal(t, []string{"gfx", "view"}, m.Selected)

	// Wrong shape leaves the selection untouched.
	m.Deserialize(json.RawMessage(`"gfx"`))
	assert.Equal(t, []string{"gfx", "view"}, m.Selected)
}

func TestSettingsRoundTrip(t *testing.T) {
	src := &MultiSelect{Options: []string{"a", "b", "c"}, Selected: []string{"b", "c"}}
	dst := &MultiSelect{Options: []string{"a", "b", "c"}}
	dst.Deserialize(src.Serialize())
	assert.Equal(t, src.Selected, dst.Selected)

	slider := &Slider{Value: 4096, Min: 0, Max: 10000}
	restored := &Slider{Min: 0, Max: 10000}
	restored.Deserialize(slider.Serialize())
	assert.Equal(t, slider.Value, restored.Value)
}
