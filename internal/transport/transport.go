package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tracetap/tracetap/internal/probe"
	"github.com/tracetap/tracetap/internal/tracecfg"
)

// Target is one connectable device or process capable of recording a
// trace, as enumerated by a transport.
type Target struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Platform  probe.Platform `json:"platform"`
	Transport string         `json:"transport"`
	Detail    string         `json:"detail,omitempty"`
}

// State is the lifecycle state a live handle reports via Updates.
type State string

const (
	StateRecording State = "recording"
	StateStopping  State = "stopping"
	StateFinished  State = "finished"
	StateCancelled State = "cancelled"
	StateErrored   State = "errored"
)

// Terminal reports whether no further updates can follow s.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateCancelled || s == StateErrored
}

// Update is one lifecycle notification pushed by a transport. Err is
// set only alongside StateErrored.
type Update struct {
	State State
	Err   string
}

// ErrBufferUsageUnsupported is returned by handles whose transport has
// no buffer-occupancy telemetry; callers skip the fill gauge.
var ErrBufferUsageUnsupported = errors.New("transport does not report buffer usage")

// Handle is a live recording started by a transport. Lifecycle changes
// are pushed on Updates; the channel closes after a terminal update.
type Handle interface {
	// Stop ends the recording gracefully, flushing buffered data.
	Stop(ctx context.Context) error
	// Cancel abandons the recording without flushing.
	Cancel(ctx context.Context) error
	// BufferUsage returns the fill level of the fullest buffer, 0..100.
	BufferUsage(ctx context.Context) (float64, error)
	// TraceData returns the recorded trace bytes once finished.
	TraceData(ctx context.Context) ([]byte, error)
	// Logs returns the daemon log lines accumulated so far.
	Logs() []string
	Updates() <-chan Update
}

// Transport reaches targets over one connection mechanism (USB,
// WebSocket bridge, ...). Start either returns a live handle or a
// structured error; connection failures surface as errors, never as an
// indefinite hang.
type Transport interface {
	ID() string
	DisplayName() string
	ListTargets(ctx context.Context, pl probe.Platform) ([]Target, error)
	// Preflight runs every named diagnostic to completion, even when
	// earlier checks fail, so the caller sees all problems at once.
	Preflight(ctx context.Context, target Target) []CheckResult
	Start(ctx context.Context, target Target, cfg *tracecfg.TraceConfig) (Handle, error)
}

// Registry holds the configured transports keyed by id, preserving
// registration order for display.
type Registry struct {
	byID  map[string]Transport
	order []Transport
}

func NewRegistry(transports ...Transport) (*Registry, error) {
	r := &Registry{byID: make(map[string]Transport, len(transports))}
	for _, t := range transports {
		if _, dup := r.byID[t.ID()]; dup {
			return nil, fmt.Errorf("transport %q registered twice", t.ID())
		}
		r.byID[t.ID()] = t
		r.order = append(r.order, t)
	}
	return r, nil
}

// Get returns the transport with the given id.
func (r *Registry) Get(id string) (Transport, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// All returns the transports in registration order.
func (r *Registry) All() []Transport { return r.order }

// updateHub fans lifecycle updates out to a handle's consumer and
// remembers the latest state. Transports embed it to get the push side
// of the Handle contract.
type updateHub struct {
	mu      sync.Mutex
	ch      chan Update
	state   State
	lastErr string
	closed  bool
	logs    []string
}

func newUpdateHub() *updateHub {
	return &updateHub{ch: make(chan Update, 8), state: StateRecording}
}

// publish records and forwards a lifecycle update. Updates after a
// terminal state are dropped; the channel closes on the first terminal
// update. A lagging consumer may miss intermediate updates, but the
// terminal update is always delivered.
func (h *updateHub) publish(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.state = u.State
	h.lastErr = u.Err
	for {
		select {
		case h.ch <- u:
		default:
			if u.State.Terminal() {
				// The consumer drives its state machine off this
				// channel; a lost terminal update would strand it.
				// Discard the oldest buffered update to make room.
				select {
				case <-h.ch:
				default:
				}
				continue
			}
			// Intermediate update and the consumer has fallen behind;
			// the latest state is still observable via State().
		}
		break
	}
	if u.State.Terminal() {
		h.closed = true
		close(h.ch)
	}
}

func (h *updateHub) appendLog(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, line)
}

// State returns the latest published state.
func (h *updateHub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *updateHub) Logs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.logs))
	copy(out, h.logs)
	return out
}

func (h *updateHub) Updates() <-chan Update { return h.ch }
