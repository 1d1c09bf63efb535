package syncstore

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/model"
)

// SessionTracker follows the signed-in identity and fans every transition
// out to its subscribers. It depends on nothing else in this package.
type SessionTracker struct {
	src gateway.IdentitySource

	// deliverMu orders transitions: each one reaches every listener
	// before the next begins
	deliverMu sync.Mutex

	mu        sync.Mutex
	started   bool
	sourced   bool // a transition arrived from the source
	identity  *model.Identity
	nextID    int
	listeners map[int]func(*model.Identity)
	stop      func()
}

func NewSessionTracker(src gateway.IdentitySource) *SessionTracker {
	return &SessionTracker{
		src:       src,
		listeners: map[int]func(*model.Identity){},
	}
}

// Start resolves the initial identity and begins following transitions.
// An unreachable identity provider resolves to anonymous rather than
// failing. Calling Start again is a no-op.
func (t *SessionTracker) Start(ctx context.Context) *model.Identity {
	t.mu.Lock()
	if t.started {
		id := t.identity
		t.mu.Unlock()
		return id
	}
	t.started = true
	t.mu.Unlock()

	// follow first so a transition during resolution is not missed
	stop := t.src.OnIdentityChange(func(id *model.Identity) {
		t.mu.Lock()
		t.sourced = true
		t.mu.Unlock()
		t.emit(id)
	})

	id, err := t.src.CurrentIdentity(ctx)
	if err != nil {
		glog.Warningf("[session]identity unavailable, continuing anonymous = %s", err)
		id = nil
	}

	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()
	t.mu.Lock()
	t.stop = stop
	if t.sourced {
		// a live transition is newer than what we resolved
		current := copyIdentity(t.identity)
		t.mu.Unlock()
		return current
	}
	t.mu.Unlock()
	t.deliver(id)
	return id
}

// Identity is the current identity, nil when anonymous.
func (t *SessionTracker) Identity() *model.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyIdentity(t.identity)
}

// Subscribe registers fn for every transition. When the tracker has
// already started, fn is called once right away with the current identity.
func (t *SessionTracker) Subscribe(fn func(*model.Identity)) (unsubscribe func()) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	started, current := t.started, copyIdentity(t.identity)
	t.mu.Unlock()

	if started {
		fn(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

// Stop detaches from the identity source.
func (t *SessionTracker) Stop() {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (t *SessionTracker) emit(id *model.Identity) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()
	t.deliver(id)
}

// deliver records id and calls every listener. deliverMu must be held.
func (t *SessionTracker) deliver(id *model.Identity) {
	t.mu.Lock()
	t.identity = copyIdentity(id)
	fns := make([]func(*model.Identity), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	if id == nil {
		glog.V(2).Infof("[session]anonymous")
	} else {
		glog.V(2).Infof("[session]identity = %s", id.ID)
	}
	for _, fn := range fns {
		fn(copyIdentity(id))
	}
}

func copyIdentity(id *model.Identity) *model.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
