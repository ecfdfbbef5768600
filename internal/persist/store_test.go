package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracetap/tracetap/internal/tracecfg"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Type:          "recording_snapshot",
		SchemaVersion: SchemaVersion,
		Probes: map[string]map[string]json.RawMessage{
			"cpu_sched": {},
		},
		Mode:       tracecfg.ModeStopWhenFull,
		DurationMS: 10_000,
		Transport:  "adb",
		Target:     "emulator-5554",
	}
}

func TestStoreSaveLoadDeleteList(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save("gfx-jank", testSnapshot()))
	require.NoError(t, store.Save("boot", testSnapshot()))

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"boot", "gfx-jank"}, names)

	snap, err := store.Load("gfx-jank")
	require.NoError(t, err)
	assert.Equal(t, uint32(10_000), snap.DurationMS)
	assert.Equal(t, "adb", snap.Transport)

	require.NoError(t, store.Delete("boot"))
	names, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"gfx-jank"}, names)

	_, err = store.Load("boot")
	require.Error(t, err)
}

func TestStoreSaveReplacesExisting(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	first := testSnapshot()
	require.NoError(t, store.Save("same", first))

	second := testSnapshot()
	second.DurationMS = 99_000
	require.NoError(t, store.Save("same", second))

	snap, err := store.Load("same")
	require.NoError(t, err)
	assert.Equal(t, uint32(99_000), snap.DurationMS)
}

func TestStoreRejectsInvalidNames(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "  ", "a/b", `a\b`, ".hidden", ".last"} {
		t.Run("name "+name, func(t *testing.T) {
			assert.Error(t, store.Save(name, testSnapshot()))
			_, loadErr := store.Load(name)
			assert.Error(t, loadErr)
		})
	}
}

func TestStoreLastUsed(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	// No last-used yet is not an error.
	snap, err := store.LoadLastUsed()
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, store.SaveLastUsed(testSnapshot()))
	snap, err = store.LoadLastUsed()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "emulator-5554", snap.Target)

	// The implicit snapshot never shows up in the named listing.
	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "sessions")
	_, err := NewStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
