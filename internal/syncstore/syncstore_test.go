package syncstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/metrics"
	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/store/sqlstore"
)

var (
	alice = &model.Identity{ID: "u-alice", Email: "alice@example.com"}
	bob   = &model.Identity{ID: "u-bob", Email: "bob@example.com"}
)

// identities is an in-memory identity provider.
type identities struct {
	mu        sync.Mutex
	current   *model.Identity
	next      int
	listeners map[int]func(*model.Identity)
}

func newIdentities(initial *model.Identity) *identities {
	return &identities{current: initial, listeners: map[int]func(*model.Identity){}}
}

func (s *identities) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyIdentity(s.current), nil
}

func (s *identities) OnIdentityChange(fn func(*model.Identity)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *identities) set(id *model.Identity) {
	s.mu.Lock()
	s.current = copyIdentity(id)
	fns := []func(*model.Identity){}
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(copyIdentity(id))
	}
}

// probe wraps a real table to count calls, inject failures, hold reads,
// and keep the notification callbacks it handed out.
type probe[R any, P any] struct {
	gateway.Table[R, P]

	mu         sync.Mutex
	reads      int
	inserts    int
	subscribes int
	callbacks  []func(gateway.Change)
	subs       []gateway.Subscription
	readErr    error
	writeErr   error
	gate       chan struct{}
}

func (p *probe[R, P]) ReadAll(ctx context.Context, owner string, order gateway.Order) ([]R, error) {
	p.mu.Lock()
	p.reads++
	gate, readErr := p.gate, p.readErr
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, errs.Wrap(errs.Network, "read", ctx.Err())
		}
	}
	if readErr != nil {
		return nil, readErr
	}
	return p.Table.ReadAll(ctx, owner, order)
}

func (p *probe[R, P]) Insert(ctx context.Context, row R) (R, error) {
	p.mu.Lock()
	p.inserts++
	writeErr := p.writeErr
	p.mu.Unlock()
	if writeErr != nil {
		var zero R
		return zero, writeErr
	}
	return p.Table.Insert(ctx, row)
}

func (p *probe[R, P]) Update(ctx context.Context, id, owner string, patch P) (R, error) {
	p.mu.Lock()
	writeErr := p.writeErr
	p.mu.Unlock()
	if writeErr != nil {
		var zero R
		return zero, writeErr
	}
	return p.Table.Update(ctx, id, owner, patch)
}

func (p *probe[R, P]) Subscribe(ctx context.Context, owner string, fn func(gateway.Change)) (gateway.Subscription, error) {
	p.mu.Lock()
	p.subscribes++
	p.callbacks = append(p.callbacks, fn)
	p.mu.Unlock()
	sub, err := p.Table.Subscribe(ctx, owner, fn)
	if err == nil {
		p.mu.Lock()
		p.subs = append(p.subs, sub)
		p.mu.Unlock()
	}
	return sub, err
}

// drop ends the most recent subscription from the store side, the way a
// lost connection would.
func (p *probe[R, P]) drop() {
	p.mu.Lock()
	sub := p.subs[len(p.subs)-1]
	p.mu.Unlock()
	sub.Release()
}

func (p *probe[R, P]) insertCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inserts
}

func (p *probe[R, P]) counts() (reads, subscribes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads, p.subscribes
}

func (p *probe[R, P]) lastCallback() func(gateway.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.callbacks) == 0 {
		return nil
	}
	return p.callbacks[len(p.callbacks)-1]
}

func (p *probe[R, P]) set(fn func(p *probe[R, P])) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

type harness struct {
	db       *sqlstore.DB
	ids      *identities
	tracker  *SessionTracker
	taskTbl  *probe[model.Task, model.TaskPatch]
	profTbl  *probe[model.Profile, model.ProfilePatch]
	tasks    *TaskStore
	profile  *ProfileStore
	registry *prometheus.Registry
}

func newHarness(t *testing.T, initial *model.Identity) *harness {
	t.Helper()
	db, err := sqlstore.Open(sqlstore.Memory)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h := &harness{
		db:       db,
		ids:      newIdentities(initial),
		taskTbl:  &probe[model.Task, model.TaskPatch]{Table: db.Tasks()},
		profTbl:  &probe[model.Profile, model.ProfilePatch]{Table: db.Profiles()},
		registry: prometheus.NewRegistry(),
	}
	gw := gateway.New(h.ids, h.taskTbl, h.profTbl)
	m := metrics.NewSync(h.registry)
	h.tracker = NewSessionTracker(gw)
	h.tracker.Start(context.Background())
	h.tasks = NewTaskStore(gw, h.tracker, WithMetrics(m), WithResubscribeDelay(10*time.Millisecond))
	h.profile = NewProfileStore(gw, h.tracker, WithMetrics(m), WithResubscribeDelay(10*time.Millisecond))
	t.Cleanup(func() {
		h.tasks.Close()
		h.profile.Close()
		h.tracker.Stop()
		db.Close()
	})
	return h
}

// settle waits for both stores to be subscribed with no reload running.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	eventually(t, func() bool {
		return h.tasks.ListenerState() == Subscribed && settled(h.tasks.replica) &&
			h.profile.ListenerState() == Subscribed && settled(h.profile.replica)
	})
}

// settled is true once a reload has been applied and none is running.
func settled[T any](r *replica[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied > 0 && r.loading == 0
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func titles(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.Title
	}
	return out
}

func sameTitles(a, b []string) bool {
	return strings.Join(a, "\x00") == strings.Join(b, "\x00")
}

func TestAnonymousStartsEmpty(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	assert.Equal(t, 0, len(h.tasks.Tasks()))
	assert.Equal(t, true, h.profile.Profile() == nil)
	assert.Equal(t, Unsubscribed, h.tasks.ListenerState())
	assert.Equal(t, nil, h.tasks.Reload(ctx))

	_, err := h.tasks.Add(ctx, "buy milk")
	assert.Equal(t, errs.Validation, errs.CodeOf(err))
	assert.Equal(t, "failed to add task: user must be authenticated", h.tasks.ErrorMessage())

	err = h.tasks.Remove(ctx, "anything")
	assert.Equal(t, errs.Authentication, errs.CodeOf(err))

	_, err = h.profile.UpdateUsername(ctx, "alice")
	assert.Equal(t, errs.Authentication, errs.CodeOf(err))

	reads, subscribes := h.taskTbl.counts()
	assert.Equal(t, 0, reads)
	assert.Equal(t, 0, subscribes)
}

func TestAddKeepsNewestFirst(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	a, err := h.tasks.Add(ctx, "A")
	assert.Equal(t, err, nil)
	assert.Equal(t, alice.ID, a.Owner)
	assert.Equal(t, false, a.Completed)
	b, err := h.tasks.Add(ctx, "  B ")
	assert.Equal(t, err, nil)
	assert.Equal(t, "B", b.Title)

	eventually(t, func() bool {
		return sameTitles(titles(h.tasks.Tasks()), []string{"B", "A"}) && !h.tasks.Loading()
	})
	assert.Equal(t, nil, h.tasks.Reload(ctx))
	assert.Equal(t, []string{"B", "A"}, titles(h.tasks.Tasks()))
	assert.Equal(t, "", h.tasks.ErrorMessage())
}

func TestAddRejectsBlankTitle(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	for _, title := range []string{"", "   "} {
		_, err := h.tasks.Add(ctx, title)
		assert.Equal(t, errs.Validation, errs.CodeOf(err))
		assert.NotEqual(t, "", h.tasks.ErrorMessage())
		assert.Equal(t, 0, len(h.tasks.Tasks()))
	}
	assert.Equal(t, 0, h.taskTbl.insertCount())

	rows, err := h.db.Tasks().ReadAll(ctx, alice.ID, gateway.NewestFirst)
	assert.Equal(t, err, nil)
	assert.Equal(t, 0, len(rows))

	// the next operation clears the recorded error
	_, err = h.tasks.Add(ctx, "real")
	assert.Equal(t, err, nil)
	assert.Equal(t, "", h.tasks.ErrorMessage())
}

func TestToggleTwiceRestores(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	task, err := h.tasks.Add(ctx, "walk")
	assert.Equal(t, err, nil)

	toggled, ok, err := h.tasks.ToggleCompleted(ctx, task.ID)
	assert.Equal(t, err, nil)
	assert.Equal(t, true, ok)
	assert.Equal(t, true, toggled.Completed)

	toggled, ok, err = h.tasks.ToggleCompleted(ctx, task.ID)
	assert.Equal(t, err, nil)
	assert.Equal(t, true, ok)
	assert.Equal(t, false, toggled.Completed)

	got, found := h.tasks.Get(task.ID)
	assert.Equal(t, true, found)
	assert.Equal(t, false, got.Completed)
}

func TestToggleMissingIsNoop(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)

	_, ok, err := h.tasks.ToggleCompleted(context.Background(), "missing")
	assert.Equal(t, err, nil)
	assert.Equal(t, false, ok)
	assert.Equal(t, "", h.tasks.ErrorMessage())
}

func TestUpdateReplacesOnlyTarget(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	a, _ := h.tasks.Add(ctx, "A")
	b, _ := h.tasks.Add(ctx, "B")

	updated, err := h.tasks.Update(ctx, a.ID, model.SetTitle(" A2 "))
	assert.Equal(t, err, nil)
	assert.Equal(t, "A2", updated.Title)

	gotA, _ := h.tasks.Get(a.ID)
	gotB, _ := h.tasks.Get(b.ID)
	assert.Equal(t, "A2", gotA.Title)
	assert.Equal(t, "B", gotB.Title)

	_, err = h.tasks.Update(ctx, a.ID, model.TaskPatch{})
	assert.Equal(t, errs.Validation, errs.CodeOf(err))
	_, err = h.tasks.Update(ctx, a.ID, model.SetTitle(""))
	assert.Equal(t, errs.Validation, errs.CodeOf(err))
}

func TestRemoveThenReload(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	a, _ := h.tasks.Add(ctx, "A")
	b, _ := h.tasks.Add(ctx, "B")

	assert.Equal(t, nil, h.tasks.Remove(ctx, a.ID))
	_, found := h.tasks.Get(a.ID)
	assert.Equal(t, false, found)

	assert.Equal(t, nil, h.tasks.Reload(ctx))
	tasks := h.tasks.Tasks()
	assert.Equal(t, 1, len(tasks))
	assert.Equal(t, b.ID, tasks[0].ID)
}

func TestUpdateOfForeignTaskIsRefused(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	foreign, err := h.db.Tasks().Insert(ctx, model.Task{Title: "bob's", Owner: bob.ID})
	assert.Equal(t, err, nil)

	_, err = h.tasks.Update(ctx, foreign.ID, model.SetCompleted(true))
	assert.Equal(t, errs.Authorization, errs.CodeOf(err))
	err = h.tasks.Remove(ctx, foreign.ID)
	assert.Equal(t, errs.Authorization, errs.CodeOf(err))

	rows, _ := h.db.Tasks().ReadAll(ctx, bob.ID, gateway.NewestFirst)
	assert.Equal(t, 1, len(rows))
	assert.Equal(t, false, rows[0].Completed)
}

func TestFailedMutationKeepsState(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	a, _ := h.tasks.Add(ctx, "A")
	eventually(t, func() bool { return !h.tasks.Loading() })

	h.taskTbl.set(func(p *probe[model.Task, model.TaskPatch]) {
		p.writeErr = errs.E(errs.Network, "insert", "connection refused")
	})
	_, err := h.tasks.Add(ctx, "B")
	assert.Equal(t, errs.Network, errs.CodeOf(err))
	assert.Equal(t, true, strings.HasPrefix(h.tasks.ErrorMessage(), "failed to add task"))
	_, _, err = h.tasks.ToggleCompleted(ctx, a.ID)
	assert.Equal(t, errs.Network, errs.CodeOf(err))

	tasks := h.tasks.Tasks()
	assert.Equal(t, 1, len(tasks))
	assert.Equal(t, a.ID, tasks[0].ID)
	assert.Equal(t, false, tasks[0].Completed)
}

func TestFailedReloadKeepsState(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	h.tasks.Add(ctx, "A")
	eventually(t, func() bool { return !h.tasks.Loading() && len(h.tasks.Tasks()) == 1 })

	h.taskTbl.set(func(p *probe[model.Task, model.TaskPatch]) {
		p.readErr = errs.E(errs.Network, "read", "timeout")
	})
	err := h.tasks.Reload(ctx)
	assert.Equal(t, errs.Network, errs.CodeOf(err))
	assert.Equal(t, true, strings.HasPrefix(h.tasks.ErrorMessage(), "failed to fetch tasks"))
	assert.Equal(t, 1, len(h.tasks.Tasks()))
	assert.Equal(t, false, h.tasks.Loading())
}

func TestIdentitySwitchDoesNotLeak(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	h.tasks.Add(ctx, "alice 1")
	h.tasks.Add(ctx, "alice 2")
	_, err := h.db.Tasks().Insert(ctx, model.Task{Title: "bob 1", Owner: bob.ID})
	assert.Equal(t, err, nil)

	h.ids.set(bob)
	assert.Equal(t, bob.ID, h.tasks.Identity().ID)
	for _, task := range h.tasks.Tasks() {
		assert.Equal(t, bob.ID, task.Owner)
	}

	eventually(t, func() bool {
		return sameTitles(titles(h.tasks.Tasks()), []string{"bob 1"}) && !h.tasks.Loading()
	})
	eventually(t, func() bool {
		p := h.profile.Profile()
		return p != nil && p.ID == bob.ID
	})
	assert.Equal(t, "bob", h.profile.Profile().DisplayName())
	eventually(t, func() bool { return h.db.Subscribers(gateway.KindTasks, alice.ID) == 0 })
}

func TestSignOutIgnoresQueuedNotification(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	h.tasks.Add(ctx, "A")
	eventually(t, func() bool { return !h.tasks.Loading() })
	notify := h.taskTbl.lastCallback()
	assert.Equal(t, true, notify != nil)

	h.ids.set(nil)
	assert.Equal(t, 0, len(h.tasks.Tasks()))
	assert.Equal(t, true, h.profile.Profile() == nil)
	eventually(t, func() bool { return h.tasks.ListenerState() == Unsubscribed })

	reads, _ := h.taskTbl.counts()
	notify(gateway.Change{Kind: gateway.KindTasks, Op: gateway.OpInsert, ID: "late", Owner: alice.ID})
	time.Sleep(50 * time.Millisecond)

	after, _ := h.taskTbl.counts()
	assert.Equal(t, reads, after)
	assert.Equal(t, 0, len(h.tasks.Tasks()))
	eventually(t, func() bool { return h.db.Subscribers(gateway.KindTasks, alice.ID) == 0 })
}

func TestStaleReloadIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.db.Tasks().Insert(ctx, model.Task{Title: "alice only", Owner: alice.ID})
	assert.Equal(t, err, nil)

	gate := make(chan struct{})
	h.taskTbl.set(func(p *probe[model.Task, model.TaskPatch]) { p.gate = gate })

	h.ids.set(alice)
	result := make(chan error, 1)
	go func() { result <- h.tasks.Reload(ctx) }()
	eventually(t, func() bool {
		reads, _ := h.taskTbl.counts()
		return reads >= 2
	})

	h.ids.set(bob)
	close(gate)

	err = <-result
	assert.Equal(t, true, errors.Is(err, ErrSuperseded))
	eventually(t, func() bool { return !h.tasks.Loading() })
	for _, task := range h.tasks.Tasks() {
		assert.Equal(t, bob.ID, task.Owner)
	}
	assert.Equal(t, 0, len(h.tasks.Tasks()))
}

func TestNotificationTriggersReload(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)

	// another session writing for the same user
	_, err := h.db.Tasks().Insert(context.Background(), model.Task{Title: "from elsewhere", Owner: alice.ID})
	assert.Equal(t, err, nil)

	eventually(t, func() bool {
		return sameTitles(titles(h.tasks.Tasks()), []string{"from elsewhere"})
	})
}

func TestTokenRefreshKeepsSubscription(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)

	reads, subscribes := h.taskTbl.counts()
	assert.Equal(t, 1, subscribes)

	h.ids.set(&model.Identity{ID: alice.ID, Email: alice.Email})
	eventually(t, func() bool {
		r, _ := h.taskTbl.counts()
		return r > reads
	})
	_, subscribes = h.taskTbl.counts()
	assert.Equal(t, 1, subscribes)
	assert.Equal(t, Subscribed, h.tasks.ListenerState())
}

func TestProfileCreatedOnFirstRead(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)

	p := h.profile.Profile()
	assert.Equal(t, alice.ID, p.ID)
	assert.Equal(t, alice.Email, p.Email)
	assert.Equal(t, "alice", p.DisplayName())
}

func TestConcurrentProfileReloadsCreateOneRow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.ids.set(alice)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.profile.Reload(ctx)
		}()
	}
	wg.Wait()

	rows, err := h.db.Profiles().ReadAll(ctx, alice.ID, gateway.Order{})
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, len(rows))
	eventually(t, func() bool { return h.profile.Profile() != nil })
}

func TestUpdateUsername(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	_, err := h.profile.UpdateUsername(ctx, "  ")
	assert.Equal(t, errs.Validation, errs.CodeOf(err))
	assert.Equal(t, "alice", h.profile.Profile().DisplayName())

	p, err := h.profile.UpdateUsername(ctx, " ally ")
	assert.Equal(t, err, nil)
	assert.Equal(t, "ally", p.DisplayName())
	assert.Equal(t, "ally", h.profile.Profile().DisplayName())

	// a later read keeps the chosen name
	assert.Equal(t, nil, h.profile.Reload(ctx))
	assert.Equal(t, "ally", h.profile.Profile().DisplayName())
}

func TestProfileEmailFollowsSession(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	h.profile.UpdateUsername(ctx, "ally")
	h.ids.set(&model.Identity{ID: alice.ID, Email: "alice@new.example.com"})
	eventually(t, func() bool {
		p := h.profile.Profile()
		return p != nil && p.Email == "alice@new.example.com"
	})
	assert.Equal(t, "ally", h.profile.Profile().DisplayName())
}

func TestOnChangeObservers(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)

	var mu sync.Mutex
	calls := 0
	stop := h.tasks.OnChange(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	h.tasks.Add(context.Background(), "A")
	mu.Lock()
	seen := calls
	mu.Unlock()
	assert.NotEqual(t, 0, seen)

	stop()
	eventually(t, func() bool { return !h.tasks.Loading() })
	mu.Lock()
	seen = calls
	mu.Unlock()
	h.tasks.Reload(context.Background())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, seen, calls)
}

func TestMetricsRecorded(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	h.tasks.Add(context.Background(), "A")

	reloads, err := testutil.GatherAndCount(h.registry, "tada_sync_reloads_total")
	assert.Equal(t, err, nil)
	assert.NotEqual(t, 0, reloads)
	mutations, _ := testutil.GatherAndCount(h.registry, "tada_sync_mutations_total")
	assert.Equal(t, 1, mutations)
	subscriptions, _ := testutil.GatherAndCount(h.registry, "tada_sync_subscriptions_active")
	assert.Equal(t, 2, subscriptions)
}

func TestCloseReleasesSubscription(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)

	h.tasks.Close()
	assert.Equal(t, Unsubscribed, h.tasks.ListenerState())
	assert.Equal(t, 0, h.db.Subscribers(gateway.KindTasks, alice.ID))
	assert.Equal(t, 0, len(h.tasks.Tasks()))
}

func TestTaskLifecycleScenario(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	assert.Equal(t, nil, h.tasks.Reload(ctx))
	assert.Equal(t, 0, len(h.tasks.Tasks()))
	assert.Equal(t, false, h.tasks.Loading())
	assert.Equal(t, "", h.tasks.ErrorMessage())

	a, err := h.tasks.Add(ctx, "A")
	assert.Equal(t, err, nil)
	b, err := h.tasks.Add(ctx, "B")
	assert.Equal(t, err, nil)

	_, _, err = h.tasks.ToggleCompleted(ctx, b.ID)
	assert.Equal(t, err, nil)
	assert.Equal(t, nil, h.tasks.Remove(ctx, a.ID))

	// notification reloads may still be landing; they converge on the store
	eventually(t, func() bool {
		got := h.tasks.Tasks()
		return len(got) == 1 && got[0].ID == b.ID && got[0].Completed && !h.tasks.Loading()
	})
	_, found := h.tasks.Get(a.ID)
	assert.Equal(t, false, found)
}

func TestDroppedSubscriptionIsRestored(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen []string
	)
	stop := h.tasks.OnChange(func() {
		if msg := h.tasks.ErrorMessage(); msg != "" {
			mu.Lock()
			seen = append(seen, msg)
			mu.Unlock()
		}
	})
	defer stop()

	h.taskTbl.drop()
	eventually(t, func() bool {
		_, subscribes := h.taskTbl.counts()
		return subscribes == 2 && h.db.Subscribers(gateway.KindTasks, alice.ID) == 1
	})
	assert.Equal(t, Subscribed, h.tasks.ListenerState())

	mu.Lock()
	reported := strings.Join(seen, "\n")
	mu.Unlock()
	assert.Equal(t, true, strings.Contains(reported, "failed to subscribe to tasks changes"))

	// a write made by another session reaches the store again
	_, err := h.db.Tasks().Insert(ctx, model.Task{Title: "from elsewhere", Owner: alice.ID})
	assert.Equal(t, err, nil)
	eventually(t, func() bool {
		return sameTitles(titles(h.tasks.Tasks()), []string{"from elsewhere"}) && h.tasks.ErrorMessage() == ""
	})
}

func TestDroppedSubscriptionAfterSignOutStaysDown(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)

	h.ids.set(nil)
	eventually(t, func() bool { return h.db.Subscribers(gateway.KindTasks, alice.ID) == 0 })
	h.taskTbl.drop()

	time.Sleep(50 * time.Millisecond)
	_, subscribes := h.taskTbl.counts()
	assert.Equal(t, 1, subscribes)
	assert.Equal(t, Unsubscribed, h.tasks.ListenerState())
	assert.Equal(t, "", h.tasks.ErrorMessage())
}

func TestTrackerDeliversTransitionsInOrder(t *testing.T) {
	ids := newIdentities(nil)
	tracker := NewSessionTracker(ids)
	tracker.Start(context.Background())
	defer tracker.Stop()

	var (
		mu   sync.Mutex
		last *model.Identity
	)
	tracker.Subscribe(func(id *model.Identity) {
		mu.Lock()
		last = id
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				ids.set(nil)
			case 1:
				ids.set(alice)
			default:
				ids.set(bob)
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, true, model.SameIdentity(tracker.Identity(), last))
}
