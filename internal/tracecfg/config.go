package tracecfg

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// RecordMode selects how the tracing daemon handles a full buffer and
// whether the trace is streamed to a file while recording.
type RecordMode string

const (
	// ModeStopWhenFull stops the recording once any buffer fills up.
	ModeStopWhenFull RecordMode = "stop_when_full"
	// ModeRingBuffer keeps overwriting the oldest data; the recording
	// runs until explicitly stopped.
	ModeRingBuffer RecordMode = "ring_buffer"
	// ModeLongTrace periodically flushes buffers into the output file so
	// the trace can outgrow memory.
	ModeLongTrace RecordMode = "long_trace"
)

// FillPolicy is the per-buffer overflow policy understood by the daemon.
type FillPolicy string

const (
	// FillPolicyUnspecified defers to the session-wide record mode.
	FillPolicyUnspecified FillPolicy = ""
	FillPolicyRingBuffer  FillPolicy = "RING_BUFFER"
	FillPolicyDiscard     FillPolicy = "DISCARD"
)

// TraceConfig is the finalized collection descriptor handed to a
// transport. Buffer references are numeric indices into Buffers, in
// insertion order. The binary encoding of this descriptor is owned by
// the daemon protocol; this package only populates valid combinations.
type TraceConfig struct {
	Buffers     []BufferConfig     `json:"buffers"`
	DataSources []DataSourceConfig `json:"dataSources"`

	DurationMS    uint32 `json:"durationMs,omitempty"`
	FlushPeriodMS uint32 `json:"flushPeriodMs,omitempty"`

	// Long-trace streaming fields. Only populated in ModeLongTrace.
	WriteIntoFile     bool   `json:"writeIntoFile,omitempty"`
	FileWritePeriodMS uint32 `json:"fileWritePeriodMs,omitempty"`
	MaxFileSizeBytes  uint64 `json:"maxFileSizeBytes,omitempty"`
	Compression       string `json:"compressionType,omitempty"`
}

// BufferConfig describes one in-memory buffer allocation on the target.
type BufferConfig struct {
	SizeKB     uint32     `json:"sizeKb"`
	FillPolicy FillPolicy `json:"fillPolicy"`
}

// DataSourceConfig wraps one data source entry of the descriptor.
type DataSourceConfig struct {
	Config SourceConfig `json:"config"`
}

// SourceConfig is the per-source config block: the source name, the
// resolved buffer index and the source-specific parameters grouped
// under the source's config section (e.g. ftrace_config).
type SourceConfig struct {
	Name         string `json:"name"`
	TargetBuffer uint32 `json:"targetBuffer"`

	// Section is the name of the nested config block the parameters
	// live in, empty when they sit directly under config.
	Section string              `json:"-"`
	Lists   map[string][]string `json:"-"`
	Scalars map[string]any      `json:"-"`
}

// MarshalJSON flattens the parameter maps into the (optional) nested
// section block so the JSON shape mirrors the daemon's descriptor.
func (s SourceConfig) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"name":         s.Name,
		"targetBuffer": s.TargetBuffer,
	}
	params := map[string]any{}
	for k, v := range s.Lists {
		params[k] = v
	}
	for k, v := range s.Scalars {
		params[k] = v
	}
	if len(params) > 0 {
		if s.Section != "" {
			out[s.Section] = params
		} else {
			for k, v := range params {
				out[k] = v
			}
		}
	}
	return json.Marshal(out)
}

// WriteText emits the descriptor in the textual proto form accepted by
// daemons invoked with a textual config flag.
func (c *TraceConfig) WriteText(w io.Writer) error {
	for _, b := range c.Buffers {
		fmt.Fprintf(w, "buffers: {\n")
		fmt.Fprintf(w, "    size_kb: %d\n", b.SizeKB)
		if b.FillPolicy != FillPolicyUnspecified {
			fmt.Fprintf(w, "    fill_policy: %s\n", b.FillPolicy)
		}
		fmt.Fprintf(w, "}\n\n")
	}
	for _, ds := range c.DataSources {
		s := ds.Config
		fmt.Fprintf(w, "data_sources: {\n")
		fmt.Fprintf(w, "    config {\n")
		fmt.Fprintf(w, "        name: %q\n", s.Name)
		fmt.Fprintf(w, "        target_buffer: %d\n", s.TargetBuffer)
		indent := "        "
		if s.Section != "" {
			fmt.Fprintf(w, "        %s {\n", s.Section)
			indent = "            "
		}
		for _, k := range sortedKeys(s.Lists) {
			for _, v := range s.Lists[k] {
				fmt.Fprintf(w, "%s%s: %q\n", indent, k, v)
			}
		}
		for _, k := range sortedAnyKeys(s.Scalars) {
			fmt.Fprintf(w, "%s%s: %s\n", indent, k, textScalar(s.Scalars[k]))
		}
		if s.Section != "" {
			fmt.Fprintf(w, "        }\n")
		}
		fmt.Fprintf(w, "    }\n")
		fmt.Fprintf(w, "}\n\n")
	}
	if c.DurationMS > 0 {
		fmt.Fprintf(w, "duration_ms: %d\n", c.DurationMS)
	}
	if c.FlushPeriodMS > 0 {
		fmt.Fprintf(w, "flush_period_ms: %d\n", c.FlushPeriodMS)
	}
	if c.WriteIntoFile {
		fmt.Fprintf(w, "write_into_file: true\n")
		if c.FileWritePeriodMS > 0 {
			fmt.Fprintf(w, "file_write_period_ms: %d\n", c.FileWritePeriodMS)
		}
		if c.MaxFileSizeBytes > 0 {
			fmt.Fprintf(w, "max_file_size_bytes: %d\n", c.MaxFileSizeBytes)
		}
	}
	if c.Compression != "" {
		fmt.Fprintf(w, "compression_type: %s\n", c.Compression)
	}
	return nil
}

func textScalar(v any) string {
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("%q", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedAnyKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
