// Package site keeps the per-visitor state of the marketing site: one access
// gate and one demo modal for every browser session.
package site

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/internal/demo"
	"vigil/internal/session"
)

type Visitor struct {
	ID      string
	Session *session.Controller
	Modal   *demo.Modal
}

type entry struct {
	v        *Visitor
	lastSeen time.Time
}

// Registry owns every live Visitor. Visitors idle for longer than the
// configured timeout are dropped by Sweep and their modal is disposed.
type Registry struct {
	newModal func() *demo.Modal
	idle     time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	visitors map[string]*entry
}

func NewRegistry(booker demo.Booker, idle time.Duration, log *zap.Logger, opts ...demo.Option) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	opts = append([]demo.Option{demo.WithLogger(log)}, opts...)
	return &Registry{
		newModal: func() *demo.Modal { return demo.NewModal(booker, opts...) },
		idle:     idle,
		log:      log,
		now:      time.Now,
		visitors: map[string]*entry{},
	}
}

// Get returns the visitor for id, creating a fresh Anonymous one if needed,
// and marks it as seen.
func (r *Registry) Get(id string) *Visitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.visitors[id]
	if !ok {
		e = &entry{v: &Visitor{ID: id, Session: session.NewController(), Modal: r.newModal()}}
		r.visitors[id] = e
		r.log.Debug("visitor created", zap.String("visitor_id", id))
	}
	e.lastSeen = r.now()
	return e.v
}

// Sweep evicts idle visitors and returns how many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idle)
	var evicted []*Visitor
	r.mu.Lock()
	for id, e := range r.visitors {
		if e.lastSeen.Before(cutoff) {
			evicted = append(evicted, e.v)
			delete(r.visitors, id)
		}
	}
	r.mu.Unlock()

	for _, v := range evicted {
		v.Modal.Dispose()
	}
	if len(evicted) > 0 {
		r.log.Info("evicted idle visitors", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

// Close disposes every visitor.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.visitors
	r.visitors = map[string]*entry{}
	r.mu.Unlock()
	for _, e := range all {
		e.v.Modal.Dispose()
	}
}
