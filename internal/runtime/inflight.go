package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aretw0/goplan/pkg/domain"
)

// call tracks one running start/resume invocation.
type call struct {
	cancel    context.CancelFunc
	discarded atomic.Bool

	mu    sync.Mutex
	state *domain.ConversationState // latest applied state, for status queries
}

func (c *call) track(state *domain.ConversationState) {
	snap := state.Snapshot()
	c.mu.Lock()
	c.state = snap
	c.mu.Unlock()
}

func (c *call) guard() error {
	if c.discarded.Load() {
		return domain.ErrDiscarded
	}
	return nil
}

// registry is the set of in-flight calls, at most one per conversation.
type registry struct {
	mu    sync.Mutex
	calls map[string]*call
}

func newRegistry() *registry {
	return &registry{calls: make(map[string]*call)}
}

func (r *registry) begin(id string, cancel context.CancelFunc) (*call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.calls[id]; busy {
		return nil, domain.ErrConversationBusy
	}
	c := &call{cancel: cancel}
	r.calls[id] = c
	return c, nil
}

func (r *registry) end(id string, c *call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls[id] == c {
		delete(r.calls, id)
	}
}

// discard marks the in-flight call (if any) as discarded and cancels it.
func (r *registry) discard(id string) bool {
	r.mu.Lock()
	c, ok := r.calls[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	c.discarded.Store(true)
	c.cancel()
	return true
}

func (r *registry) snapshot(id string) (*domain.ConversationState, bool) {
	r.mu.Lock()
	c, ok := r.calls[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil, true
	}
	return c.state.Snapshot(), true
}
