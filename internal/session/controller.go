package session

import (
	"context"
	"fmt"
	"sync"
)

// Controller enforces the one-active-session rule. It is dependency
// injected into whoever owns the recording flow; there is no package
// level instance.
type Controller struct {
	mu      sync.Mutex
	current *Session
}

// NewController returns an empty controller.
func NewController() *Controller { return &Controller{} }

// Current returns the session being tracked, nil when none was started.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Start creates and starts a new session. It refuses while a prior
// session is still live: replacing a running session must be explicit
// (StartReplacing) so a transport handle is never silently orphaned.
func (c *Controller) Start(ctx context.Context, p Params) (*Session, error) {
	c.mu.Lock()
	if c.current != nil {
		if st := c.current.State(); !st.Terminal() {
			id := c.current.ID()
			c.mu.Unlock()
			return nil, fmt.Errorf("session %s is still %s; stop it or use replace", id, st)
		}
	}
	s := New(p)
	c.current = s
	c.mu.Unlock()

	if s.State().Terminal() {
		// Failed preconditions (e.g. no target) never touch the
		// transport; surface the session so the caller can render it.
		return s, fmt.Errorf("session failed: %s", s.Err())
	}
	if err := s.Start(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// StartReplacing cancels any live session, waits for it to settle,
// then starts a new one.
func (c *Controller) StartReplacing(ctx context.Context, p Params) (*Session, error) {
	c.mu.Lock()
	prev := c.current
	c.mu.Unlock()

	if prev != nil && !prev.State().Terminal() {
		if err := prev.Cancel(ctx); err != nil {
			return nil, fmt.Errorf("cancel previous session: %w", err)
		}
		select {
		case <-prev.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.Start(ctx, p)
}
