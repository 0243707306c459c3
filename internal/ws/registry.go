package ws

import (
	"sync"
	"time"

	"gallera-exchange/internal/model"
)

// Peer is a live connection as the registry and rooms see it.
type Peer interface {
	ID() string
	UserID() string
	// Send queues msg without blocking. It reports false when the peer is
	// closed or too slow to keep up.
	Send(msg []byte) bool
	Close(reason string)
}

type tracked struct {
	peer     Peer
	lastSeen time.Time
}

// Registry tracks every admitted connection and its last activity.
type Registry struct {
	mu    sync.Mutex
	max   int
	conns map[string]*tracked
	now   func() time.Time
}

func NewRegistry(max int) *Registry {
	return &Registry{max: max, conns: make(map[string]*tracked), now: time.Now}
}

// Admit records p, or fails with model.ErrCapacityExceeded when the registry
// is full.
func (r *Registry) Admit(p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.conns) >= r.max {
		return model.ErrCapacityExceeded
	}
	r.conns[p.ID()] = &tracked{peer: p, lastSeen: r.now()}
	return nil
}

func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.conns[id]; ok {
		t.lastSeen = r.now()
	}
}

// Remove reports whether id was still registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Sweep removes and returns the peers idle for longer than idle. The caller
// closes them.
func (r *Registry) Sweep(idle time.Duration) []Peer {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Peer
	for id, t := range r.conns {
		if t.lastSeen.Before(cutoff) {
			delete(r.conns, id)
			out = append(out, t.peer)
		}
	}
	return out
}
