package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/tracetap/tracetap/internal/tracecfg"
	"github.com/tracetap/tracetap/internal/transport"
)

// State is the lifecycle of one recording attempt.
type State string

const (
	StateInitializing State = "initializing"
	StateRecording    State = "recording"
	StateStopping     State = "stopping"
	StateFinished     State = "finished"
	StateCancelled    State = "cancelled"
	StateErrored      State = "errored"
)

// Terminal reports whether the session can transition no further.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateCancelled || s == StateErrored
}

// DefaultPollInterval is how often the buffer fill gauge is refreshed.
// Polling is telemetry only; state transitions come exclusively from
// transport push updates.
const DefaultPollInterval = time.Second

// Params configures one recording session.
type Params struct {
	Transport transport.Transport
	// Target may be nil, in which case the session errors immediately
	// without contacting the transport.
	Target *transport.Target
	Config *tracecfg.TraceConfig

	// Compressed marks the output as deflate-compressed, reflected in
	// the generated file name.
	Compressed bool

	// AutoOpen, when set, receives the finished trace bytes exactly
	// once, even if the transport delivers duplicate finish updates.
	AutoOpen func(data []byte)

	Clock        clock.Clock
	Log          *zap.SugaredLogger
	PollInterval time.Duration
}

// Session tracks one live recording attempt against one target. All
// transitions are driven by the transport's pushed updates; the
// buffer-fill poller never changes state.
type Session struct {
	id       string
	fileName string
	params   Params
	clk      clock.Clock
	log      *zap.SugaredLogger

	mu         sync.Mutex
	state      State
	errMsg     string
	handle     transport.Handle
	startedAt  time.Time
	bufferFill float64
	autoOpened bool

	done chan struct{}
}

// New creates a session in the initializing state. A missing target is
// a known-invalid precondition and errors the session up front.
func New(p Params) *Session {
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	if p.Log == nil {
		p.Log = zap.NewNop().Sugar()
	}
	if p.PollInterval == 0 {
		p.PollInterval = DefaultPollInterval
	}
	now := p.Clock.Now()
	s := &Session{
		id:       fmt.Sprintf("rec-%d", now.UnixNano()),
		fileName: traceFileName(now, p.Compressed),
		params:   p,
		clk:      p.Clock,
		log:      p.Log,
		state:    StateInitializing,
		done:     make(chan struct{}),
	}
	if p.Target == nil {
		s.fail("no target selected")
	}
	return s
}

func traceFileName(t time.Time, compressed bool) string {
	name := fmt.Sprintf("tracetap-%s.perfetto-trace", t.Format("20060102-150405"))
	if compressed {
		name += ".gz"
	}
	return name
}

// ID returns the generated session id.
func (s *Session) ID() string { return s.id }

// FileName returns the computed output file name.
func (s *Session) FileName() string { return s.fileName }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fatal error message, empty unless errored.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// BufferFill returns the last polled buffer occupancy, 0..100.
func (s *Session) BufferFill() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferFill
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// ETA returns the remaining recording time. The second return is false
// when the session has no declared duration (ring-buffer/indefinite
// mode). Once a terminal state is reached the ETA clamps to zero.
func (s *Session) ETA() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params.Config == nil || s.params.Config.DurationMS == 0 {
		return 0, false
	}
	if s.state.Terminal() || s.startedAt.IsZero() {
		return 0, true
	}
	end := s.startedAt.Add(time.Duration(s.params.Config.DurationMS) * time.Millisecond)
	remaining := end.Sub(s.clk.Now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Start hands the descriptor to the transport and begins consuming its
// lifecycle updates. It is a no-op on a session that already failed
// construction.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInitializing {
		err := s.errMsg
		s.mu.Unlock()
		return fmt.Errorf("session not startable: %s", err)
	}
	s.mu.Unlock()

	h, err := s.params.Transport.Start(ctx, *s.params.Target, s.params.Config)
	if err != nil {
		s.fail(err.Error())
		return err
	}

	s.mu.Lock()
	s.handle = h
	s.state = StateRecording
	s.startedAt = s.clk.Now()
	s.mu.Unlock()
	s.log.Debugw("session recording", "id", s.id, "target", s.params.Target.ID)

	go s.consumeUpdates(h)
	go s.pollBufferFill(h)
	return nil
}

// Stop requests a graceful stop; the terminal state arrives via the
// transport's updates.
func (s *Session) Stop(ctx context.Context) error {
	h := s.currentHandle()
	if h == nil {
		return fmt.Errorf("session has no live recording")
	}
	s.transition(transport.Update{State: transport.StateStopping})
	return h.Stop(ctx)
}

// Cancel abandons the recording without flushing.
func (s *Session) Cancel(ctx context.Context) error {
	h := s.currentHandle()
	if h == nil {
		return fmt.Errorf("session has no live recording")
	}
	s.transition(transport.Update{State: transport.StateStopping})
	return h.Cancel(ctx)
}

// TraceData returns the recorded bytes once the session finished.
func (s *Session) TraceData(ctx context.Context) ([]byte, error) {
	h := s.currentHandle()
	if h == nil {
		return nil, fmt.Errorf("session has no live recording")
	}
	return h.TraceData(ctx)
}

// Logs returns the daemon log lines accumulated so far. Logs survive a
// session error so partial diagnostics stay visible.
func (s *Session) Logs() []string {
	h := s.currentHandle()
	if h == nil {
		return nil
	}
	return h.Logs()
}

func (s *Session) currentHandle() transport.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// consumeUpdates applies every pushed lifecycle update in arrival
// order. Several updates may arrive back to back; each is applied
// independently and updates after a terminal state are ignored.
func (s *Session) consumeUpdates(h transport.Handle) {
	for u := range h.Updates() {
		s.transition(u)
	}
}

func (s *Session) transition(u transport.Update) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	switch u.State {
	case transport.StateRecording:
		s.state = StateRecording
	case transport.StateStopping:
		s.state = StateStopping
	case transport.StateCancelled:
		s.state = StateCancelled
	case transport.StateFinished:
		s.state = StateFinished
	case transport.StateErrored:
		s.state = StateErrored
		s.errMsg = u.Err
	}
	terminal := s.state.Terminal()
	finished := s.state == StateFinished
	s.mu.Unlock()

	if finished {
		s.maybeAutoOpen()
	}
	if terminal {
		close(s.done)
		s.log.Debugw("session terminal", "id", s.id, "state", u.State, "err", u.Err)
	}
}

// maybeAutoOpen hands the trace to the viewer callback at most once.
// The flag is set before the handoff is invoked, so a duplicate finish
// notification observed concurrently cannot double-trigger it.
func (s *Session) maybeAutoOpen() {
	s.mu.Lock()
	if s.autoOpened || s.params.AutoOpen == nil {
		s.mu.Unlock()
		return
	}
	s.autoOpened = true
	h := s.handle
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	data, err := h.TraceData(ctx)
	if err != nil {
		s.log.Debugw("auto-open skipped", "id", s.id, "err", err)
		return
	}
	s.params.AutoOpen(data)
}

// pollBufferFill refreshes the occupancy gauge on a fixed interval
// until the session is terminal. Transports without occupancy
// telemetry end the poller on the first probe.
func (s *Session) pollBufferFill(h transport.Handle) {
	ticker := s.clk.Ticker(s.params.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.params.PollInterval)
		pct, err := h.BufferUsage(ctx)
		cancel()
		if err != nil {
			if err == transport.ErrBufferUsageUnsupported {
				return
			}
			continue
		}
		s.mu.Lock()
		s.bufferFill = pct
		s.mu.Unlock()
	}
}

func (s *Session) fail(msg string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateErrored
	s.errMsg = msg
	s.mu.Unlock()
	close(s.done)
}
