package sqlstore

import (
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/Makepad-fr/tada/internal/gateway"
)

type hubKey struct {
	kind  gateway.Kind
	owner string
}

type hubEntry struct {
	fn     func(gateway.Change)
	active atomic.Bool
}

// hub fans committed writes out to the subscribers of the row's owner.
type hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[hubKey]map[uint64]*hubEntry
}

func newHub() *hub {
	return &hub{subs: map[hubKey]map[uint64]*hubEntry{}}
}

func (h *hub) subscribe(kind gateway.Kind, owner string, fn func(gateway.Change)) gateway.Subscription {
	key := hubKey{kind: kind, owner: owner}
	e := &hubEntry{fn: fn}
	e.active.Store(true)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[key] == nil {
		h.subs[key] = map[uint64]*hubEntry{}
	}
	h.subs[key][id] = e
	h.mu.Unlock()

	return &subscription{done: make(chan struct{}), release: func() {
		e.active.Store(false)
		h.mu.Lock()
		delete(h.subs[key], id)
		if len(h.subs[key]) == 0 {
			delete(h.subs, key)
		}
		h.mu.Unlock()
	}}
}

func (h *hub) publish(c gateway.Change) {
	key := hubKey{kind: c.Kind, owner: c.Owner}
	h.mu.Lock()
	entries := make([]*hubEntry, 0, len(h.subs[key]))
	for _, e := range h.subs[key] {
		entries = append(entries, e)
	}
	h.mu.Unlock()

	glog.V(2).Infof("[hub]%s %s/%s -> %d subscribers", c.Op, c.Kind, c.ID, len(entries))
	for _, e := range entries {
		if e.active.Load() {
			e.fn(c)
		}
	}
}

// subscribers is the number of live subscriptions for owner, for tests
// and diagnostics.
func (h *hub) subscribers(kind gateway.Kind, owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[hubKey{kind: kind, owner: owner}])
}

type subscription struct {
	once    sync.Once
	done    chan struct{}
	release func()
}

func (s *subscription) Release() {
	s.once.Do(func() {
		s.release()
		close(s.done)
	})
}

func (s *subscription) Done() <-chan struct{} { return s.done }
