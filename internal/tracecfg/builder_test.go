package tracecfg

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataSourceGetOrCreate(t *testing.T) {
	b := NewBuilder()

	ds1 := b.DataSource(SourceFtrace, "")
	ds2 := b.DataSource(SourceFtrace, "")
	require.Same(t, ds1, ds2, "same (name, buffer) pair must return the same object")

	// Mutations from different call sites are all visible.
	ds1.AppendList("ftrace_events", "sched/sched_switch")
	ds2.AppendList("ftrace_events", "power/cpu_idle")
	assert.Equal(t, []string{"sched/sched_switch", "power/cpu_idle"}, ds1.List("ftrace_events"))

	// A different buffer is a different source.
	b.AddBuffer("aux", 1024, FillPolicyUnspecified)
	ds3 := b.DataSource(SourceFtrace, "aux")
	assert.NotSame(t, ds1, ds3)
}

func TestMergeIsOrderIndependent(t *testing.T) {
	contribA := func(b *Builder) { b.AddFtraceEvents("sched/sched_switch") }
	contribB := func(b *Builder) { b.AddFtraceEvents("power/cpu_idle") }

	build := func(fns ...func(*Builder)) *TraceConfig {
		b := NewBuilder()
		for _, fn := range fns {
			fn(b)
		}
		cfg, err := b.Build()
		require.NoError(t, err)
		return cfg
	}

	ab := build(contribA, contribB)
	ba := build(contribB, contribA)

	require.Len(t, ab.DataSources, 1)
	assert.ElementsMatch(t,
		ab.DataSources[0].Config.Lists["ftrace_events"],
		ba.DataSources[0].Config.Lists["ftrace_events"])
	assert.Contains(t, ab.DataSources[0].Config.Lists["ftrace_events"], "sched/sched_switch")
	assert.Contains(t, ab.DataSources[0].Config.Lists["ftrace_events"], "power/cpu_idle")
}

func TestAppendListDeduplicates(t *testing.T) {
	b := NewBuilder()
	b.AddFtraceEvents("sched/sched_switch")
	b.AddFtraceEvents("sched/sched_switch", "power/cpu_frequency")

	ds := b.DataSource(SourceFtrace, "")
	assert.Equal(t, []string{"sched/sched_switch", "power/cpu_frequency"}, ds.List("ftrace_events"))
}

func TestScalarFirstWins(t *testing.T) {
	b := NewBuilder()
	ds := b.DataSource(SourceSysStats, "")
	ds.SetScalar("meminfo_period_ms", 1000)
	ds.SetScalar("meminfo_period_ms", 250)

	v, ok := ds.Scalar("meminfo_period_ms")
	require.True(t, ok)
	assert.Equal(t, 1000, v)
}

func TestAddBufferDuplicatePanics(t *testing.T) {
	b := NewBuilder()
	b.AddBuffer("aux", 1024, FillPolicyUnspecified)
	assert.Panics(t, func() { b.AddBuffer("aux", 2048, FillPolicyUnspecified) })
	assert.Panics(t, func() { b.AddBuffer(DefaultBufferID, 2048, FillPolicyUnspecified) })
}

func TestBuildResolvesBufferIndices(t *testing.T) {
	b := NewBuilder()
	b.AddBuffer("heap", 32*1024, FillPolicyDiscard)
	b.DataSource(SourceFtrace, "").AppendList("ftrace_events", "sched/sched_switch")
	b.DataSource(SourceHeapprofd, "heap")

	cfg, err := b.Build()
	require.NoError(t, err)
	require.Len(t, cfg.Buffers, 2)
	require.Len(t, cfg.DataSources, 2)
	assert.Equal(t, uint32(0), cfg.DataSources[0].Config.TargetBuffer)
	assert.Equal(t, uint32(1), cfg.DataSources[1].Config.TargetBuffer)
}

func TestBuildFailsOnUnknownBuffer(t *testing.T) {
	b := NewBuilder()
	b.DataSource(SourceFtrace, "missing")

	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown buffer "missing"`)
}

func TestFillPolicyFollowsMode(t *testing.T) {
	t.Run("stop when full discards", func(t *testing.T) {
		b := NewBuilder()
		cfg, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, FillPolicyDiscard, cfg.Buffers[0].FillPolicy)
	})

	t.Run("ring buffer wraps", func(t *testing.T) {
		b := NewBuilder()
		b.Mode = ModeRingBuffer
		cfg, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, FillPolicyRingBuffer, cfg.Buffers[0].FillPolicy)
	})

	t.Run("per buffer override wins", func(t *testing.T) {
		b := NewBuilder()
		b.Mode = ModeRingBuffer
		b.AddBuffer("aux", 1024, FillPolicyDiscard)
		cfg, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, FillPolicyDiscard, cfg.Buffers[1].FillPolicy)
	})
}

func TestLongTraceFieldsOnlyInLongTraceMode(t *testing.T) {
	b := NewBuilder()
	b.MaxFileSizeMB = 100
	b.FlushPeriodMS = 2000
	b.FileWritePeriodMS = 2500
	b.Compress = true

	cfg, err := b.Build()
	require.NoError(t, err)
	assert.False(t, cfg.WriteIntoFile)
	assert.Zero(t, cfg.FileWritePeriodMS)
	assert.Zero(t, cfg.MaxFileSizeBytes)
	assert.Empty(t, cfg.Compression)

	b.Mode = ModeLongTrace
	cfg, err = b.Build()
	require.NoError(t, err)
	assert.True(t, cfg.WriteIntoFile)
	assert.Equal(t, uint64(100)*1024*1024, cfg.MaxFileSizeBytes)
	assert.Equal(t, uint32(2000), cfg.FlushPeriodMS)
	assert.Equal(t, uint32(2500), cfg.FileWritePeriodMS, "file write period is not the flush period")
	assert.Equal(t, "COMPRESSION_TYPE_DEFLATE", cfg.Compression)
}

func TestFileWritePeriodUnsetLeavesDaemonDefault(t *testing.T) {
	b := NewBuilder()
	b.Mode = ModeLongTrace
	b.FlushPeriodMS = 2000

	cfg, err := b.Build()
	require.NoError(t, err)
	assert.True(t, cfg.WriteIntoFile)
	assert.Zero(t, cfg.FileWritePeriodMS)
	assert.Equal(t, uint32(2000), cfg.FlushPeriodMS)
}

func TestResetForGeneration(t *testing.T) {
	b := NewBuilder()
	b.AddBuffer("aux", 1024, FillPolicyUnspecified)
	b.AddFtraceEvents("sched/sched_switch")
	b.DurationMS = 5000

	b.ResetForGeneration()

	assert.True(t, b.HasBuffer(DefaultBufferID), "default buffer survives resets")
	assert.False(t, b.HasBuffer("aux"))
	assert.Empty(t, b.DataSource(SourceFtrace, "").List("ftrace_events"))
	assert.Equal(t, uint32(5000), b.DurationMS, "scalars survive resets")
}

func TestWriteText(t *testing.T) {
	b := NewBuilder()
	b.DurationMS = 10000
	b.AddFtraceEvents("sched/sched_switch")

	cfg, err := b.Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteText(&buf))
	out := buf.String()

	assert.Contains(t, out, "size_kb: 65536")
	assert.Contains(t, out, `name: "linux.ftrace"`)
	assert.Contains(t, out, "ftrace_config {")
	assert.Contains(t, out, `ftrace_events: "sched/sched_switch"`)
	assert.Contains(t, out, "duration_ms: 10000")
	assert.True(t, strings.Contains(out, "target_buffer: 0"))
}

func TestSourceConfigJSON(t *testing.T) {
	b := NewBuilder()
	b.AddFtraceEvents("power/cpu_idle")
	cfg, err := b.Build()
	require.NoError(t, err)

	raw, err := json.Marshal(cfg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	sources := decoded["dataSources"].([]any)
	require.Len(t, sources, 1)
	conf := sources[0].(map[string]any)["config"].(map[string]any)
	assert.Equal(t, "linux.ftrace", conf["name"])
	ftrace := conf["ftrace_config"].(map[string]any)
	assert.Equal(t, []any{"power/cpu_idle"}, ftrace["ftrace_events"])
}
