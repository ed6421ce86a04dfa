package transfer

import (
	"context"
	"sync"
)

const defaultCancelledLimit = 1024

type registration struct {
	cancel context.CancelFunc
}

// Registry maps running batch task ids to the cancel func of their context
// and remembers recently cancelled ids.
type Registry struct {
	mu        sync.Mutex
	active    map[string]*registration
	cancelled map[string]struct{}
	order     []string
	limit     int
}

func NewRegistry(limit int) *Registry {
	if limit <= 0 {
		limit = defaultCancelledLimit
	}
	return &Registry{
		active:    make(map[string]*registration),
		cancelled: make(map[string]struct{}),
		limit:     limit,
	}
}

// Register derives the batch context for taskID. release must be called when
// the batch ends. Registering an id again clears an earlier cancel mark.
func (r *Registry) Register(parent context.Context, taskID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	reg := &registration{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.active[taskID]; ok {
		prev.cancel()
	}
	r.active[taskID] = reg
	delete(r.cancelled, taskID)
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		if r.active[taskID] == reg {
			delete(r.active, taskID)
		}
		r.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// Cancel aborts the batch running as taskID, if any, and records the id.
// It reports whether a running batch was found.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, running := r.active[taskID]
	if running {
		reg.cancel()
		delete(r.active, taskID)
	}

	if _, ok := r.cancelled[taskID]; !ok {
		r.cancelled[taskID] = struct{}{}
		r.order = append(r.order, taskID)
		for len(r.cancelled) > r.limit && len(r.order) > 0 {
			delete(r.cancelled, r.order[0])
			r.order = r.order[1:]
		}
	}
	return running
}

func (r *Registry) IsCancelled(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancelled[taskID]
	return ok
}

// Running reports whether a batch is registered under taskID.
func (r *Registry) Running(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[taskID]
	return ok
}
