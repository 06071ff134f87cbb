// Package feed keys live query watchers so each logical feed has at most
// one active poller. Re-subscribing under a key tears the previous watcher
// down first, and a replaced watcher's callback never fires again.
package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"roomledger.org/internal/docstore"
)

// Handler receives each changed snapshot of a feed's query.
type Handler func([]docstore.Document)

// ErrorHandler receives poll failures. The feed keeps running after one.
type ErrorHandler func(error)

// Key builds a feed key scoped to a workspace. An empty workspace id
// yields an empty key, which Subscribe and Unsubscribe treat as a no-op;
// callers switching away from "no workspace" do not need to special-case
// it.
func Key(kind, workspaceID string) string {
	if workspaceID == "" {
		return ""
	}
	return kind + ":" + workspaceID
}

type handle struct {
	mu      sync.Mutex
	stopped bool
	stop    func()
}

func (h *handle) deliver(docs []docstore.Document, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	fn(docs)
}

func (h *handle) fail(err error, fn ErrorHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || fn == nil {
		return
	}
	fn(err)
}

// teardown marks the handle dead before cancelling the watcher, so a
// snapshot already in flight is the last one ever delivered.
func (h *handle) teardown() {
	h.mu.Lock()
	h.stopped = true
	stop := h.stop
	h.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// arm records the watcher's stop function. If the handle was already torn
// down while the watcher was starting, the watcher is stopped right away.
func (h *handle) arm(stop func()) {
	h.mu.Lock()
	h.stop = stop
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		stop()
	}
}

// Registry owns all active feeds of one client session.
type Registry struct {
	mu       sync.Mutex
	store    docstore.Store
	interval time.Duration
	feeds    map[string]*handle
}

func NewRegistry(store docstore.Store) *Registry {
	return &Registry{
		store: store,
		feeds: make(map[string]*handle),
	}
}

// WithInterval overrides the poll interval. Tests shrink it.
func (r *Registry) WithInterval(d time.Duration) *Registry {
	if d > 0 {
		r.interval = d
	}
	return r
}

// Subscribe starts a watcher for the query under the given key. An
// existing watcher under the same key is torn down before the new one
// starts, so the key never has two pollers and the old callback cannot
// fire after this call returns.
func (r *Registry) Subscribe(ctx context.Context, key string, q docstore.Query, onChange Handler, onError ErrorHandler) {
	if key == "" {
		return
	}

	r.mu.Lock()
	prev := r.feeds[key]
	h := &handle{}
	r.feeds[key] = h
	r.mu.Unlock()

	if prev != nil {
		prev.teardown()
	}

	h.arm(docstore.Watch(ctx, r.store, q, r.interval,
		func(docs []docstore.Document) { h.deliver(docs, onChange) },
		func(err error) { h.fail(err, onError) },
	))
}

// Unsubscribe tears down the feed under the key. Unknown and empty keys
// are no-ops.
func (r *Registry) Unsubscribe(key string) {
	if key == "" {
		return
	}
	r.mu.Lock()
	h := r.feeds[key]
	delete(r.feeds, key)
	r.mu.Unlock()
	if h != nil {
		h.teardown()
	}
}

// UnsubscribeAll tears down every feed. Sign-out and workspace switches
// call it so no watcher outlives the session that opened it.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	feeds := r.feeds
	r.feeds = make(map[string]*handle)
	r.mu.Unlock()
	for _, h := range feeds {
		h.teardown()
	}
}

// Active returns the currently subscribed keys, sorted.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.feeds))
	for k := range r.feeds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
