package probe

import (
	"strings"

	"github.com/tracetap/tracetap/internal/tracecfg"
)

// AtraceCategories are the userspace annotation categories offered by
// the atrace probe.
var AtraceCategories = []string{
	"gfx", "input", "view", "webview", "wm", "am", "audio", "video",
	"dalvik", "binder_driver", "sync", "disk", "freq", "idle", "sched",
}

// LogBuffers are the logcat ring buffers selectable on Android targets.
var LogBuffers = []string{
	"LID_DEFAULT", "LID_RADIO", "LID_EVENTS", "LID_SYSTEM", "LID_CRASH", "LID_KERNEL",
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// DefaultCatalog returns the built-in probe set. Probe ids are
// serialization keys and must stay stable across releases.
func DefaultCatalog() []*Probe {
	procPollMS := &Slider{Value: 0, Min: 0, Max: 60000, Unit: "ms"}
	sysPollMS := &Slider{Value: 1000, Min: 100, Max: 60000, Unit: "ms"}
	atraceCats := &MultiSelect{Options: AtraceCategories}
	atraceApps := &Text{}
	logBuffers := &MultiSelect{
		Options:  LogBuffers,
		Selected: []string{"LID_DEFAULT", "LID_SYSTEM", "LID_CRASH"},
	}
	heapSampling := &Slider{Value: 4096, Min: 256, Max: 65536, Unit: "B"}
	heapProcesses := &Text{}
	trackEventCats := &Text{}
	batteryPollMS := &Slider{Value: 1000, Min: 250, Max: 60000, Unit: "ms"}

	return []*Probe{
		{
			ID:          "process_tree",
			Title:       "Process and thread names",
			Description: "Periodic snapshots of the process tree so raw pids/tids resolve to names.",
			Settings:    map[string]Setting{"poll_ms": procPollMS},
			GenConfig: func(b *tracecfg.Builder) {
				ds := b.DataSource(tracecfg.SourceProcessStats, "").
					SetSection("process_stats_config")
				ds.SetScalar("scan_all_processes_on_start", true)
				if procPollMS.Value > 0 {
					ds.SetScalar("proc_stats_poll_ms", procPollMS.Value)
				}
			},
		},
		{
			ID:          "cpu_sched",
			Title:       "CPU scheduling details",
			Description: "Kernel scheduler events: which thread runs on which core and when.",
			DocURL:      "https://perfetto.dev/docs/data-sources/cpu-scheduling",
			Deps:        []string{"process_tree"},
			GenConfig: func(b *tracecfg.Builder) {
				b.AddFtraceEvents(
					"sched/sched_switch",
					"sched/sched_wakeup",
					"sched/sched_waking",
					"power/suspend_resume",
				)
			},
		},
		{
			ID:          "cpu_freq",
			Title:       "CPU frequency and idle states",
			Description: "Frequency scaling and idle-state transitions per core.",
			GenConfig: func(b *tracecfg.Builder) {
				b.AddFtraceEvents("power/cpu_frequency", "power/cpu_idle")
			},
		},
		{
			ID:          "sys_stats",
			Title:       "System memory and counters",
			Description: "Polled /proc counters: meminfo, vmstat and friends.",
			Settings:    map[string]Setting{"poll_ms": sysPollMS},
			GenConfig: func(b *tracecfg.Builder) {
				b.DataSource(tracecfg.SourceSysStats, "").
					SetSection("sys_stats_config").
					SetScalar("meminfo_period_ms", sysPollMS.Value).
					AppendList("meminfo_counters",
						"MEMINFO_MEM_TOTAL",
						"MEMINFO_MEM_FREE",
						"MEMINFO_MEM_AVAILABLE",
						"MEMINFO_SWAP_CACHED",
					)
			},
		},
		{
			ID:          "atrace",
			Title:       "Atrace userspace annotations",
			Description: "Framework and app annotations via atrace categories.",
			Platforms:   []Platform{PlatformAndroid},
			Settings: map[string]Setting{
				"categories": atraceCats,
				"apps":       atraceApps,
			},
			GenConfig: func(b *tracecfg.Builder) {
				b.AddAtraceCategories(atraceCats.Selected...)
				b.AddAtraceApps(splitCommaList(atraceApps.Value)...)
			},
		},
		{
			ID:          "android_log",
			Title:       "Android log (logcat)",
			Description: "Record logcat buffers alongside the trace.",
			Platforms:   []Platform{PlatformAndroid},
			Settings:    map[string]Setting{"buffers": logBuffers},
			GenConfig: func(b *tracecfg.Builder) {
				b.DataSource(tracecfg.SourceAndroidLog, "").
					SetSection("android_log_config").
					AppendList("log_ids", logBuffers.Selected...)
			},
		},
		{
			ID:          "power_rails",
			Title:       "Battery and power rails",
			Description: "Battery counters and, where available, power rail measurements.",
			Platforms:   []Platform{PlatformAndroid},
			Settings:    map[string]Setting{"poll_ms": batteryPollMS},
			GenConfig: func(b *tracecfg.Builder) {
				b.DataSource(tracecfg.SourceAndroidPower, "").
					SetSection("android_power_config").
					SetScalar("battery_poll_ms", batteryPollMS.Value).
					AppendList("battery_counters",
						"BATTERY_COUNTER_CAPACITY_PERCENT",
						"BATTERY_COUNTER_CHARGE",
						"BATTERY_COUNTER_CURRENT",
					)
			},
		},
		{
			ID:          "heap_profiling",
			Title:       "Native heap profiling",
			Description: "Sampled malloc/free stacks for selected processes. Writes into its own buffer so heavy allocators cannot evict other sources.",
			Platforms:   []Platform{PlatformAndroid, PlatformLinux},
			Deps:        []string{"process_tree"},
			Settings: map[string]Setting{
				"sampling_interval_bytes": heapSampling,
				"processes":               heapProcesses,
			},
			GenConfig: func(b *tracecfg.Builder) {
				b.AddBuffer("heap", 32*1024, tracecfg.FillPolicyDiscard)
				ds := b.DataSource(tracecfg.SourceHeapprofd, "heap").
					SetSection("heapprofd_config")
				ds.SetScalar("sampling_interval_bytes", heapSampling.Value)
				ds.AppendList("process_cmdline", splitCommaList(heapProcesses.Value)...)
			},
		},
		{
			ID:          "track_event",
			Title:       "In-app track events",
			Description: "Instrumentation emitted by apps using the tracing SDK.",
			Settings:    map[string]Setting{"categories": trackEventCats},
			GenConfig: func(b *tracecfg.Builder) {
				cats := splitCommaList(trackEventCats.Value)
				if len(cats) == 0 {
					cats = []string{"*"}
				}
				b.AddTrackEventCategories(cats...)
			},
		},
	}
}

// DefaultRegistry builds a registry from the built-in catalog. The
// catalog is validated at startup, so an error here is a build defect.
func DefaultRegistry() (*Registry, error) {
	return NewRegistry(DefaultCatalog()...)
}
