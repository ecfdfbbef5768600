package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"

	"github.com/tracetap/tracetap/internal/probe"
	"github.com/tracetap/tracetap/internal/tracecfg"
)

const (
	// DefaultBridgeURL is where the local tracing bridge daemon listens.
	DefaultBridgeURL = "ws://127.0.0.1:8037"

	wsDialTimeout = 5 * time.Second
)

// bridgeMsg is one JSON frame of the bridge protocol, in either
// direction. The daemon owns the protocol; this transport only
// populates and consumes the fields below.
type bridgeMsg struct {
	Cmd    string                `json:"cmd,omitempty"`
	Config *tracecfg.TraceConfig `json:"config,omitempty"`

	Type       string   `json:"type,omitempty"`
	State      string   `json:"state,omitempty"`
	Error      string   `json:"error,omitempty"`
	Targets    []Target `json:"targets,omitempty"`
	UsagePct   float64  `json:"usagePct,omitempty"`
	Line       string   `json:"line,omitempty"`
	TraceBytes []byte   `json:"traceBytes,omitempty"`
}

// Bridge records through a local WebSocket bridge daemon that proxies
// to tracing services the browser (or this process) cannot reach
// directly. Dialing retries with backoff a bounded number of times at
// connect only; once a session is live a dropped connection errors the
// session rather than reconnecting behind the user's back.
type Bridge struct {
	url string
	log *zap.SugaredLogger
}

// NewBridge returns the WebSocket transport. url may be empty to use
// DefaultBridgeURL.
func NewBridge(url string, log *zap.SugaredLogger) *Bridge {
	if url == "" {
		url = DefaultBridgeURL
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bridge{url: url, log: log}
}

func (b *Bridge) ID() string          { return "websocket" }
func (b *Bridge) DisplayName() string { return "WebSocket bridge" }

// dial connects to the bridge with a bounded timeout so a socket that
// closes (or never answers) before the handshake completes resolves to
// a connection error instead of hanging the caller.
func (b *Bridge) dial(ctx context.Context) (*websocket.Conn, error) {
	retry := retrypolicy.Builder[*websocket.Conn]().
		WithMaxRetries(2).
		WithBackoff(200*time.Millisecond, 2*time.Second).
		Build()
	return failsafe.NewExecutor[*websocket.Conn](retry).WithContext(ctx).
		Get(func() (*websocket.Conn, error) {
			dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
			defer cancel()
			conn, _, err := websocket.Dial(dialCtx, b.url, nil)
			if err != nil {
				return nil, fmt.Errorf("bridge not reachable at %s: %w", b.url, err)
			}
			return conn, nil
		})
}

// ListTargets asks the bridge to enumerate the targets it can reach.
func (b *Bridge) ListTargets(ctx context.Context, pl probe.Platform) ([]Target, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, bridgeMsg{Cmd: "list_targets"}); err != nil {
		return nil, err
	}
	var resp bridgeMsg
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("bridge: %s", resp.Error)
	}
	var out []Target
	for _, t := range resp.Targets {
		t.Transport = b.ID()
		if pl == "" || t.Platform == pl {
			out = append(out, t)
		}
	}
	return out, nil
}

// Preflight verifies the bridge is reachable and that it still sees
// the selected target. Both checks run even if the first fails.
func (b *Bridge) Preflight(ctx context.Context, target Target) []CheckResult {
	return runChecks(ctx, []check{
		{name: "bridge connection", run: func(ctx context.Context) (string, string, bool) {
			conn, err := b.dial(ctx)
			if err != nil {
				return err.Error(), "start the tracing bridge daemon and retry", false
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return b.url, "", true
		}},
		{name: "target visible", run: func(ctx context.Context) (string, string, bool) {
			targets, err := b.ListTargets(ctx, "")
			if err != nil {
				return err.Error(), "start the tracing bridge daemon and retry", false
			}
			for _, t := range targets {
				if t.ID == target.ID {
					return t.Name, "", true
				}
			}
			return fmt.Sprintf("target %q not reported by bridge", target.ID),
				"reconnect the device and refresh the target list", false
		}},
	})
}

// Start opens a dedicated connection for the session, sends the
// descriptor and turns the bridge's push frames into handle updates.
func (b *Bridge) Start(ctx context.Context, target Target, cfg *tracecfg.TraceConfig) (Handle, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}

	start := bridgeMsg{Cmd: "start_tracing", Config: cfg}
	if err := wsjson.Write(ctx, conn, start); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, err
	}
	var ack bridgeMsg
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("bridge closed before acknowledging start: %w", err)
	}
	if ack.Error != "" {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("bridge: %s", ack.Error)
	}

	h := &bridgeHandle{
		updateHub: newUpdateHub(),
		conn:      conn,
		log:       b.log,
		usage:     make(chan float64, 1),
		trace:     make(chan []byte, 1),
	}
	go h.readLoop()
	return h, nil
}

type bridgeHandle struct {
	*updateHub
	conn  *websocket.Conn
	log   *zap.SugaredLogger
	usage chan float64
	trace chan []byte
}

// readLoop is the single reader of the connection. Every frame type
// the bridge pushes is handled here; a read failure before a terminal
// state becomes an Errored update so the session never waits forever
// on a dead socket.
func (h *bridgeHandle) readLoop() {
	ctx := context.Background()
	for {
		var msg bridgeMsg
		if err := wsjson.Read(ctx, h.conn, &msg); err != nil {
			if !h.State().Terminal() {
				h.publish(Update{State: StateErrored, Err: "bridge connection lost"})
			}
			return
		}
		switch msg.Type {
		case "state":
			u := Update{State: State(msg.State), Err: msg.Error}
			h.publish(u)
		case "stats":
			select {
			case h.usage <- msg.UsagePct:
			default:
			}
		case "log":
			h.appendLog(msg.Line)
		case "trace":
			select {
			case h.trace <- msg.TraceBytes:
			default:
			}
		default:
			h.log.Debugw("unknown bridge frame", "type", msg.Type)
		}
	}
}

func (h *bridgeHandle) Stop(ctx context.Context) error {
	return wsjson.Write(ctx, h.conn, bridgeMsg{Cmd: "stop"})
}

func (h *bridgeHandle) Cancel(ctx context.Context) error {
	return wsjson.Write(ctx, h.conn, bridgeMsg{Cmd: "cancel"})
}

// BufferUsage requests a fresh occupancy reading and waits for the
// read loop to deliver it.
func (h *bridgeHandle) BufferUsage(ctx context.Context) (float64, error) {
	if err := wsjson.Write(ctx, h.conn, bridgeMsg{Cmd: "buffer_usage"}); err != nil {
		return 0, err
	}
	select {
	case pct := <-h.usage:
		return pct, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// TraceData requests the finished trace bytes.
func (h *bridgeHandle) TraceData(ctx context.Context) ([]byte, error) {
	if st := h.State(); st != StateFinished {
		return nil, fmt.Errorf("trace not available in state %q", st)
	}
	if err := wsjson.Write(ctx, h.conn, bridgeMsg{Cmd: "get_trace"}); err != nil {
		return nil, err
	}
	select {
	case data := <-h.trace:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
