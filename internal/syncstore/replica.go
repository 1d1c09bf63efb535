package syncstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/metrics"
	"github.com/Makepad-fr/tada/internal/model"
)

// ErrSuperseded is returned when the identity changed while a request was
// in flight. The response was not applied.
var ErrSuperseded = errs.E(errs.Authentication, "", "session changed while the request was in flight")

type Option func(*options)

type options struct {
	metrics *metrics.Sync
	retry   time.Duration
}

// WithMetrics reports reloads, mutations and notifications to m.
func WithMetrics(m *metrics.Sync) Option {
	return func(o *options) { o.metrics = m }
}

// WithResubscribeDelay sets the first wait before a lost push
// subscription is re-established. Later attempts back off from there.
func WithResubscribeDelay(d time.Duration) Option {
	return func(o *options) { o.retry = d }
}

// scope is the identity a piece of state belongs to. epoch changes on
// every identity transition, so comparing epochs is enough to know
// whether a response is still wanted.
type scope struct {
	epoch    uint64
	identity *model.Identity
}

// replica is the state shared by both stores: the data itself, the loading
// and error flags, the identity scope, and the change listener. T is
// []model.Task or *model.Profile.
type replica[T any] struct {
	name    string
	empty   func() T
	fetch   func(ctx context.Context, id model.Identity) (T, error)
	metrics *metrics.Sync

	tracker      *SessionTracker
	untrack      func()
	transitionMu sync.Mutex
	closed       bool
	listener     *changeListener

	mu        sync.Mutex
	scope     scope
	data      T
	loading   int
	err       error
	issued    uint64 // last reload issued
	applied   uint64 // reload whose result is in data
	nextObs   int
	observers map[int]func()
}

func newReplica[T any](
	name string,
	tracker *SessionTracker,
	empty func() T,
	fetch func(ctx context.Context, id model.Identity) (T, error),
	subscribe subscribeFunc,
	opts []Option,
) *replica[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	r := &replica[T]{
		name:      name,
		empty:     empty,
		fetch:     fetch,
		metrics:   o.metrics,
		tracker:   tracker,
		data:      empty(),
		observers: map[int]func(){},
	}
	r.listener = &changeListener{
		store:     name,
		subscribe: subscribe,
		reload:    r.Reload,
		report:    r.reportListenerError,
		metrics:   o.metrics,
		retry:     o.retry,
	}
	return r
}

// attach starts following the tracker. Split from newReplica so the
// concrete store is fully built before the first transition arrives.
func (r *replica[T]) attach() {
	r.untrack = r.tracker.Subscribe(r.onIdentity)
}

// onIdentity is the entry/exit action of the listener state machine.
func (r *replica[T]) onIdentity(id *model.Identity) {
	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()
	if r.closed {
		return
	}

	r.mu.Lock()
	if model.SameIdentity(r.scope.identity, id) {
		// token refresh: same user, same subscription, fresh data
		r.scope.identity = copyIdentity(id)
		r.mu.Unlock()
		if id != nil {
			r.listener.poke()
		}
		return
	}
	r.scope = scope{epoch: r.scope.epoch + 1, identity: copyIdentity(id)}
	epoch := r.scope.epoch
	r.data = r.empty()
	r.err = nil
	r.mu.Unlock()

	r.listener.exit()
	if id != nil {
		glog.Infof("[%s]scope %d for %s", r.name, epoch, id.ID)
		r.listener.enter(id.ID, func() bool { return r.isCurrent(epoch) })
	} else {
		glog.Infof("[%s]scope %d anonymous", r.name, epoch)
	}
	r.changed()
}

func (r *replica[T]) isCurrent(epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scope.epoch == epoch
}

// Reload replaces local state with one authoritative read for the current
// identity. Anonymous reloads empty the state without a remote call. On
// failure the previous state is kept and the error recorded.
func (r *replica[T]) Reload(ctx context.Context) error {
	r.mu.Lock()
	sc := r.scope
	if sc.identity == nil {
		r.data = r.empty()
		r.err = nil
		r.mu.Unlock()
		r.changed()
		return nil
	}
	r.issued++
	seq := r.issued
	r.loading++
	r.err = nil
	r.mu.Unlock()
	r.changed()

	data, err := r.fetch(ctx, *sc.identity)

	r.mu.Lock()
	r.loading--
	switch {
	case r.scope.epoch != sc.epoch:
		r.mu.Unlock()
		r.metrics.Reload(r.name, metrics.Stale)
		r.changed()
		return ErrSuperseded
	case err != nil:
		err = fmt.Errorf("failed to fetch %s: %w", r.name, err)
		r.err = err
		r.mu.Unlock()
		glog.Infof("[%s]reload error = %s", r.name, err)
		r.metrics.Reload(r.name, metrics.Error)
		r.changed()
		return err
	}
	// responses land in arrival order; the last one to arrive wins
	r.data = data
	r.applied = seq
	r.mu.Unlock()
	r.metrics.Reload(r.name, metrics.OK)
	r.changed()
	return nil
}

// begin records the start of a mutation and returns its scope. A nil
// identity fails with code noIdentity.
func (r *replica[T]) begin(op string, noIdentity errs.Code) (scope, error) {
	r.mu.Lock()
	sc := r.scope
	if sc.identity == nil {
		err := r.failLocked(op, errs.E(noIdentity, "", "user must be authenticated"))
		r.mu.Unlock()
		r.changed()
		return sc, err
	}
	r.err = nil
	r.mu.Unlock()
	r.changed()
	return sc, nil
}

// fail records err as the store's error and returns it.
func (r *replica[T]) fail(op string, err error) error {
	r.mu.Lock()
	err = r.failLocked(op, err)
	r.mu.Unlock()
	r.changed()
	return err
}

func (r *replica[T]) failLocked(op string, err error) error {
	err = fmt.Errorf("failed to %s: %w", op, err)
	r.err = err
	r.metrics.Mutation(r.name, op, metrics.Error)
	return err
}

// commit applies a successful remote write if sc is still current, or
// records the failure. Either way local state never holds a guess.
func (r *replica[T]) commit(op string, sc scope, remoteErr error, apply func(T) T) error {
	r.mu.Lock()
	if r.scope.epoch != sc.epoch {
		r.mu.Unlock()
		r.metrics.Mutation(r.name, op, metrics.Stale)
		return ErrSuperseded
	}
	if remoteErr != nil {
		err := r.failLocked(op, remoteErr)
		r.mu.Unlock()
		glog.Infof("[%s]%s error = %s", r.name, op, remoteErr)
		r.changed()
		return err
	}
	r.data = apply(r.data)
	r.mu.Unlock()
	r.metrics.Mutation(r.name, op, metrics.OK)
	r.changed()
	return nil
}

func (r *replica[T]) reportListenerError(err error) {
	r.mu.Lock()
	r.err = fmt.Errorf("failed to subscribe to %s changes: %w", r.name, err)
	r.mu.Unlock()
	r.changed()
}

func (r *replica[T]) snapshot() (T, *model.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data, copyIdentity(r.scope.identity)
}

// Loading is true while at least one reload is in flight.
func (r *replica[T]) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading > 0
}

// Err is the last recorded failure, nil after any operation that started
// since then.
func (r *replica[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ErrorMessage is Err as text, "" when there is none.
func (r *replica[T]) ErrorMessage() string {
	if err := r.Err(); err != nil {
		return err.Error()
	}
	return ""
}

// Identity is the identity the current state belongs to.
func (r *replica[T]) Identity() *model.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyIdentity(r.scope.identity)
}

// ListenerState reports whether a push subscription is held.
func (r *replica[T]) ListenerState() ListenerState {
	return r.listener.State()
}

// OnChange registers fn to be called after any change to data, loading
// or error. fn runs on the goroutine that made the change and must not
// block.
func (r *replica[T]) OnChange(fn func()) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.observers, id)
			r.mu.Unlock()
		})
	}
}

func (r *replica[T]) changed() {
	r.mu.Lock()
	fns := make([]func(), 0, len(r.observers))
	for _, fn := range r.observers {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Close stops following the session, releases the push subscription and
// waits for the background worker to return. Late responses are dropped.
func (r *replica[T]) Close() {
	r.transitionMu.Lock()
	r.closed = true
	if r.untrack != nil {
		r.untrack()
		r.untrack = nil
	}
	r.mu.Lock()
	r.scope = scope{epoch: r.scope.epoch + 1}
	r.data = r.empty()
	r.mu.Unlock()
	r.listener.exit()
	r.transitionMu.Unlock()

	r.listener.wait()
}
