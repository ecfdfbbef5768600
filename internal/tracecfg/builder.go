package tracecfg

import (
	"fmt"
)

// DefaultBufferID is the buffer every data source writes into unless a
// probe routes it elsewhere. It always exists and survives generation
// resets; only additional buffers are cleared between passes.
const DefaultBufferID = "default"

// DefaultBufferSizeKB is the initial size of the default buffer.
const DefaultBufferSizeKB = 64 * 1024

// Well-known data source names on the daemon side.
const (
	SourceFtrace       = "linux.ftrace"
	SourceProcessStats = "linux.process_stats"
	SourceSysStats     = "linux.sys_stats"
	SourcePerf         = "linux.perf"
	SourceAndroidLog   = "android.log"
	SourceAndroidPower = "android.power"
	SourcePackagesList = "android.packages_list"
	SourceHeapprofd    = "android.heapprofd"
	SourceTrackEvent   = "track_event"
)

type sourceKey struct {
	name   string
	buffer string
}

type buffer struct {
	id         string
	sizeKB     uint32
	fillPolicy FillPolicy
}

// DataSource is one mutable data source entry of an in-progress
// descriptor. Multiple probes contributing to the same (name, buffer)
// pair share the same DataSource, so contributions merge rather than
// clobber: list parameters append (set union, first-insertion order),
// scalar parameters are first-wins.
type DataSource struct {
	name    string
	buffer  string
	section string
	lists   map[string][]string
	seen    map[string]map[string]struct{}
	scalars map[string]any
}

// SetSection names the nested config block the source's parameters are
// emitted under. First caller wins; later conflicting values are ignored.
func (d *DataSource) SetSection(section string) *DataSource {
	if d.section == "" {
		d.section = section
	}
	return d
}

// AppendList adds values to a list-valued parameter, skipping values
// already present. The resulting list depends only on the union of
// contributions, not on which probe contributed first.
func (d *DataSource) AppendList(key string, values ...string) *DataSource {
	if d.seen[key] == nil {
		d.seen[key] = make(map[string]struct{})
	}
	for _, v := range values {
		if _, dup := d.seen[key][v]; dup {
			continue
		}
		d.seen[key][v] = struct{}{}
		d.lists[key] = append(d.lists[key], v)
	}
	return d
}

// SetScalar sets a scalar parameter if no probe has set it yet.
func (d *DataSource) SetScalar(key string, value any) *DataSource {
	if _, ok := d.scalars[key]; !ok {
		d.scalars[key] = value
	}
	return d
}

// List returns the current contents of a list parameter.
func (d *DataSource) List(key string) []string { return d.lists[key] }

// Scalar returns a scalar parameter and whether it has been set.
func (d *DataSource) Scalar(key string) (any, bool) {
	v, ok := d.scalars[key]
	return v, ok
}

// Builder accumulates an in-progress trace-collection descriptor:
// ordered named buffers, data sources keyed by (name, target buffer)
// and the session-wide scalar settings. It is owned by the probe
// registry's generation pass; other code reads it but never mutates it.
type Builder struct {
	buffers []*buffer
	byID    map[string]*buffer

	sources  []*DataSource
	srcByKey map[sourceKey]*DataSource

	Mode          RecordMode
	DurationMS    uint32
	MaxFileSizeMB uint32
	FlushPeriodMS uint32

	// FileWritePeriodMS controls how often the daemon appends buffered
	// data to the output file in long-trace mode. Zero leaves the
	// daemon's own default in effect; it is distinct from FlushPeriodMS,
	// which drains producers into the buffers.
	FileWritePeriodMS uint32
	Compress          bool
	DefaultBufSizeKB  uint32
}

// NewBuilder returns a Builder holding only the default buffer and
// stop-when-full defaults.
func NewBuilder() *Builder {
	b := &Builder{
		byID:             make(map[string]*buffer),
		srcByKey:         make(map[sourceKey]*DataSource),
		Mode:             ModeStopWhenFull,
		DefaultBufSizeKB: DefaultBufferSizeKB,
	}
	b.addBuffer(DefaultBufferID, b.DefaultBufSizeKB, FillPolicyUnspecified)
	return b
}

// AddBuffer allocates a named buffer. Buffer ids are allocated once per
// generation pass; re-adding an existing id is a registration defect and
// panics rather than silently merging.
func (b *Builder) AddBuffer(id string, sizeKB uint32, policy FillPolicy) {
	if _, exists := b.byID[id]; exists {
		panic(fmt.Sprintf("tracecfg: buffer %q already exists", id))
	}
	b.addBuffer(id, sizeKB, policy)
}

func (b *Builder) addBuffer(id string, sizeKB uint32, policy FillPolicy) {
	buf := &buffer{id: id, sizeKB: sizeKB, fillPolicy: policy}
	b.buffers = append(b.buffers, buf)
	b.byID[id] = buf
}

// HasBuffer reports whether a buffer id has been allocated.
func (b *Builder) HasBuffer(id string) bool {
	_, ok := b.byID[id]
	return ok
}

// DataSource returns the mutable config object for (name, targetBuffer),
// creating it on first use. An empty targetBuffer selects the default
// buffer. Calling it again with the same pair returns the same object.
func (b *Builder) DataSource(name, targetBuffer string) *DataSource {
	if targetBuffer == "" {
		targetBuffer = DefaultBufferID
	}
	key := sourceKey{name: name, buffer: targetBuffer}
	if ds, ok := b.srcByKey[key]; ok {
		return ds
	}
	ds := &DataSource{
		name:    name,
		buffer:  targetBuffer,
		lists:   make(map[string][]string),
		seen:    make(map[string]map[string]struct{}),
		scalars: make(map[string]any),
	}
	b.srcByKey[key] = ds
	b.sources = append(b.sources, ds)
	return ds
}

// AddFtraceEvents enables kernel ftrace events (e.g. "sched/sched_switch")
// on the default-buffer ftrace source.
func (b *Builder) AddFtraceEvents(events ...string) {
	b.DataSource(SourceFtrace, "").SetSection("ftrace_config").
		AppendList("ftrace_events", events...)
}

// AddAtraceCategories enables system-wide atrace categories (gfx, input,
// view, ...).
func (b *Builder) AddAtraceCategories(categories ...string) {
	b.DataSource(SourceFtrace, "").SetSection("ftrace_config").
		AppendList("atrace_categories", categories...)
}

// AddAtraceApps enables userspace atrace for the given app names; "*"
// means all apps.
func (b *Builder) AddAtraceApps(apps ...string) {
	b.DataSource(SourceFtrace, "").SetSection("ftrace_config").
		AppendList("atrace_apps", apps...)
}

// AddTrackEventCategories enables in-process track_event categories.
func (b *Builder) AddTrackEventCategories(categories ...string) {
	b.DataSource(SourceTrackEvent, "").SetSection("track_event_config").
		AppendList("enabled_categories", categories...)
}

// ResetForGeneration drops all data sources and every non-default
// buffer, keeping the session-wide scalars. The registry calls this at
// the start of each generation pass so the descriptor reflects exactly
// the currently enabled probes.
func (b *Builder) ResetForGeneration() {
	def := b.byID[DefaultBufferID]
	def.sizeKB = b.DefaultBufSizeKB
	b.buffers = []*buffer{def}
	b.byID = map[string]*buffer{DefaultBufferID: def}
	b.sources = nil
	b.srcByKey = make(map[sourceKey]*DataSource)
}

// Build produces the final wire descriptor. Symbolic buffer ids are
// resolved to numeric indices in insertion order; a data source naming
// an unallocated buffer is a hard error since the wire format encodes
// buffer references positionally.
func (b *Builder) Build() (*TraceConfig, error) {
	cfg := &TraceConfig{
		DurationMS:    b.DurationMS,
		FlushPeriodMS: b.FlushPeriodMS,
	}

	index := make(map[string]uint32, len(b.buffers))
	for i, buf := range b.buffers {
		index[buf.id] = uint32(i)
		policy := buf.fillPolicy
		if policy == FillPolicyUnspecified {
			policy = b.defaultFillPolicy()
		}
		cfg.Buffers = append(cfg.Buffers, BufferConfig{
			SizeKB:     buf.sizeKB,
			FillPolicy: policy,
		})
	}

	for _, ds := range b.sources {
		idx, ok := index[ds.buffer]
		if !ok {
			return nil, fmt.Errorf(
				"data source %q references unknown buffer %q", ds.name, ds.buffer)
		}
		cfg.DataSources = append(cfg.DataSources, DataSourceConfig{
			Config: SourceConfig{
				Name:         ds.name,
				TargetBuffer: idx,
				Section:      ds.section,
				Lists:        ds.lists,
				Scalars:      ds.scalars,
			},
		})
	}

	if b.Mode == ModeLongTrace {
		cfg.WriteIntoFile = true
		cfg.FileWritePeriodMS = b.FileWritePeriodMS
		if b.MaxFileSizeMB > 0 {
			cfg.MaxFileSizeBytes = uint64(b.MaxFileSizeMB) * 1024 * 1024
		}
		if b.Compress {
			cfg.Compression = "COMPRESSION_TYPE_DEFLATE"
		}
	}
	return cfg, nil
}

func (b *Builder) defaultFillPolicy() FillPolicy {
	if b.Mode == ModeStopWhenFull {
		return FillPolicyDiscard
	}
	return FillPolicyRingBuffer
}
