package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracetap/tracetap/internal/probe"
	"github.com/tracetap/tracetap/internal/tracecfg"
	"github.com/tracetap/tracetap/internal/transport"
)

// fakeHandle is a scriptable transport handle.
type fakeHandle struct {
	mu        sync.Mutex
	updates   chan transport.Update
	trace     []byte
	usage     float64
	stopped   bool
	cancelled bool
	logs      []string
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{updates: make(chan transport.Update, 8)}
}

func (h *fakeHandle) push(u transport.Update) { h.updates <- u }

func (h *fakeHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) Cancel(ctx context.Context) error {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.push(transport.Update{State: transport.StateCancelled})
	return nil
}

func (h *fakeHandle) BufferUsage(ctx context.Context) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.usage, nil
}

func (h *fakeHandle) TraceData(ctx context.Context) ([]byte, error) {
	return h.trace, nil
}

func (h *fakeHandle) Logs() []string                   { return h.logs }
func (h *fakeHandle) Updates() <-chan transport.Update { return h.updates }

// fakeTransport hands out a pre-built handle.
type fakeTransport struct {
	handle   transport.Handle
	startErr error
}

func (t *fakeTransport) ID() string          { return "fake" }
func (t *fakeTransport) DisplayName() string { return "Fake" }

func (t *fakeTransport) ListTargets(ctx context.Context, pl probe.Platform) ([]transport.Target, error) {
	return []transport.Target{{ID: "dev-1", Name: "Device", Transport: "fake"}}, nil
}

func (t *fakeTransport) Preflight(ctx context.Context, target transport.Target) []transport.CheckResult {
	return nil
}

func (t *fakeTransport) Start(ctx context.Context, target transport.Target, cfg *tracecfg.TraceConfig) (transport.Handle, error) {
	if t.startErr != nil {
		return nil, t.startErr
	}
	return t.handle, nil
}

func testTarget() *transport.Target {
	return &transport.Target{ID: "dev-1", Name: "Device", Transport: "fake"}
}

func testConfig(durationMS uint32) *tracecfg.TraceConfig {
	return &tracecfg.TraceConfig{DurationMS: durationMS}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if s.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state %q never reached, stuck at %q", want, s.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNoTargetFailsImmediately(t *testing.T) {
	s := New(Params{Transport: &fakeTransport{}, Config: testConfig(0)})
	assert.Equal(t, StateErrored, s.State())
	assert.Equal(t, "no target selected", s.Err())

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel must be closed for a failed precondition")
	}

	err := s.Start(context.Background())
	require.Error(t, err, "a dead session must not contact the transport")
}

func TestLifecycleToFinished(t *testing.T) {
	h := newFakeHandle()
	h.trace = []byte("trace-bytes")
	s := New(Params{
		Transport: &fakeTransport{handle: h},
		Target:    testTarget(),
		Config:    testConfig(1000),
	})
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRecording, s.State())

	h.push(transport.Update{State: transport.StateStopping})
	waitState(t, s, StateStopping)

	h.push(transport.Update{State: transport.StateFinished})
	waitState(t, s, StateFinished)

	data, err := s.TraceData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("trace-bytes"), data)
}

func TestTransportErrorMovesToErrored(t *testing.T) {
	h := newFakeHandle()
	s := New(Params{
		Transport: &fakeTransport{handle: h},
		Target:    testTarget(),
		Config:    testConfig(0),
	})
	require.NoError(t, s.Start(context.Background()))

	h.push(transport.Update{State: transport.StateErrored, Err: "device disconnected"})
	waitState(t, s, StateErrored)
	assert.Equal(t, "device disconnected", s.Err())
}

func TestAutoOpenFiresExactlyOnce(t *testing.T) {
	h := newFakeHandle()
	h.trace = []byte("payload")

	var mu sync.Mutex
	calls := 0
	s := New(Params{
		Transport: &fakeTransport{handle: h},
		Target:    testTarget(),
		Config:    testConfig(0),
		AutoOpen: func(data []byte) {
			mu.Lock()
			calls++
			mu.Unlock()
		},
	})
	require.NoError(t, s.Start(context.Background()))

	// Duplicate finish notifications must not double-trigger the
	// viewer handoff.
	s.transition(transport.Update{State: transport.StateFinished})
	s.transition(transport.Update{State: transport.StateFinished})
	waitState(t, s, StateFinished)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestETA(t *testing.T) {
	t.Run("undefined without duration", func(t *testing.T) {
		s := New(Params{Transport: &fakeTransport{handle: newFakeHandle()},
			Target: testTarget(), Config: testConfig(0)})
		_, bounded := s.ETA()
		assert.False(t, bounded)
	})

	t.Run("counts down and clamps at terminal", func(t *testing.T) {
		clk := clock.NewMock()
		h := newFakeHandle()
		s := New(Params{
			Transport: &fakeTransport{handle: h},
			Target:    testTarget(),
			Config:    testConfig(10_000),
			Clock:     clk,
		})
		require.NoError(t, s.Start(context.Background()))

		eta, bounded := s.ETA()
		require.True(t, bounded)
		assert.Equal(t, 10*time.Second, eta)

		clk.Add(4 * time.Second)
		eta, _ = s.ETA()
		assert.Equal(t, 6*time.Second, eta)

		// Running past the declared end clamps to zero.
		clk.Add(10 * time.Second)
		eta, _ = s.ETA()
		assert.Equal(t, time.Duration(0), eta)

		h.push(transport.Update{State: transport.StateFinished})
		waitState(t, s, StateFinished)
		eta, bounded = s.ETA()
		assert.True(t, bounded)
		assert.Equal(t, time.Duration(0), eta)
	})
}

func TestFileName(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC))

	plain := New(Params{Target: testTarget(), Transport: &fakeTransport{}, Clock: clk})
	assert.Equal(t, "tracetap-20260314-150926.perfetto-trace", plain.FileName())

	gz := New(Params{Target: testTarget(), Transport: &fakeTransport{}, Clock: clk, Compressed: true})
	assert.Equal(t, "tracetap-20260314-150926.perfetto-trace.gz", gz.FileName())
}

func TestControllerRefusesSecondLiveSession(t *testing.T) {
	h := newFakeHandle()
	ctrl := NewController()
	params := Params{
		Transport: &fakeTransport{handle: h},
		Target:    testTarget(),
		Config:    testConfig(0),
	}

	first, err := ctrl.Start(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, StateRecording, first.State())

	_, err = ctrl.Start(context.Background(), params)
	require.Error(t, err, "replacing a live session must be explicit")

	h.push(transport.Update{State: transport.StateFinished})
	waitState(t, first, StateFinished)

	second, err := ctrl.Start(context.Background(), Params{
		Transport: &fakeTransport{handle: newFakeHandle()},
		Target:    testTarget(),
		Config:    testConfig(0),
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestControllerStartReplacingCancelsPrevious(t *testing.T) {
	h := newFakeHandle()
	ctrl := NewController()

	first, err := ctrl.Start(context.Background(), Params{
		Transport: &fakeTransport{handle: h},
		Target:    testTarget(),
		Config:    testConfig(0),
	})
	require.NoError(t, err)

	second, err := ctrl.StartReplacing(context.Background(), Params{
		Transport: &fakeTransport{handle: newFakeHandle()},
		Target:    testTarget(),
		Config:    testConfig(0),
	})
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, first.State())
	assert.Equal(t, StateRecording, second.State())
	h.mu.Lock()
	assert.True(t, h.cancelled)
	h.mu.Unlock()
}

func TestBufferFillPolling(t *testing.T) {
	clk := clock.NewMock()
	h := newFakeHandle()
	h.usage = 42.5
	s := New(Params{
		Transport:    &fakeTransport{handle: h},
		Target:       testTarget(),
		Config:       testConfig(0),
		Clock:        clk,
		PollInterval: time.Second,
	})
	require.NoError(t, s.Start(context.Background()))

	// Keep advancing the mock clock until the poller has had a tick.
	deadline := time.After(2 * time.Second)
	for s.BufferFill() == 0 {
		clk.Add(time.Second)
		select {
		case <-deadline:
			t.Fatal("buffer fill never polled")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.InDelta(t, 42.5, s.BufferFill(), 0.01)

	h.push(transport.Update{State: transport.StateFinished})
	waitState(t, s, StateFinished)
}
