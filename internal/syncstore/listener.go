package syncstore

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/metrics"
)

type ListenerState int

const (
	Unsubscribed ListenerState = iota
	Subscribed
)

func (s ListenerState) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

const (
	defaultRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
)

type subscribeFunc func(ctx context.Context, owner string, onChange func(gateway.Change)) (gateway.Subscription, error)

// changeListener owns a store's single push subscription.
//
// Unsubscribed -> Subscribed (enter): a worker goroutine waits for the
// previous worker to finish, subscribes for owner, then reloads once per
// wake-up. Notifications and refreshes only set a one-slot wake flag, so
// bursts collapse into one reload that still starts after the last of them.
//
// Subscribed -> Unsubscribed (exit): the worker's context is cancelled and
// the subscription released; the worker also releases on its own way out,
// whatever path it takes.
//
// A subscription that fails or ends on its own while still in scope is
// reported as the store's error and retried with backoff. A successful
// resubscribe is followed by one reload.
type changeListener struct {
	store     string
	subscribe subscribeFunc
	reload    func(ctx context.Context) error
	report    func(err error)
	metrics   *metrics.Sync
	retry     time.Duration // first resubscribe delay, doubled per failure

	mu     sync.Mutex
	state  ListenerState
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
	sub    gateway.Subscription
}

func (l *changeListener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// enter starts listening for owner. isCurrent reports whether the scope
// this subscription was made for is still the store's scope.
func (l *changeListener) enter(owner string, isCurrent func() bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Subscribed {
		l.exitLocked()
	}

	ctx, cancel := context.WithCancel(context.Background())
	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	prev := l.done

	// first reload runs as soon as the subscription is up
	wake <- struct{}{}

	l.state = Subscribed
	l.cancel = cancel
	l.wake = wake
	l.done = done

	go l.run(ctx, owner, isCurrent, wake, prev, done)
}

// poke asks for one more reload in the current scope.
func (l *changeListener) poke() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Subscribed {
		return
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *changeListener) exit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exitLocked()
}

func (l *changeListener) exitLocked() {
	if l.state != Subscribed {
		return
	}
	l.cancel()
	if l.sub != nil {
		l.sub.Release()
		l.sub = nil
	}
	l.state = Unsubscribed
	l.cancel = nil
	l.wake = nil
}

// wait blocks until the most recent worker has returned.
func (l *changeListener) wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (l *changeListener) run(
	ctx context.Context,
	owner string,
	isCurrent func() bool,
	wake chan struct{},
	prev chan struct{},
	done chan struct{},
) {
	defer close(done)

	// old subscription is fully gone before the new one is made
	if prev != nil {
		<-prev
	}
	if ctx.Err() != nil {
		return
	}

	notify := func(c gateway.Change) {
		if ctx.Err() != nil || !isCurrent() {
			glog.V(2).Infof("[%s]drop stale notification %s %s", l.store, c.Op, c.ID)
			return
		}
		l.metrics.Notification(l.store)
		glog.V(2).Infof("[%s]notification %s %s", l.store, c.Op, c.ID)
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	var (
		sub   gateway.Subscription
		ended <-chan struct{} // nil while not subscribed
		retry <-chan time.Time
		delay = l.retryDelay()
	)
	release := func() {
		if sub == nil {
			return
		}
		sub.Release()
		l.metrics.SubscriptionClosed(l.store)
		l.mu.Lock()
		if l.sub == sub {
			l.sub = nil
		}
		l.mu.Unlock()
		sub, ended = nil, nil
	}
	defer release()

	backoff := func() {
		retry = time.After(delay)
		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}

	connect := func() bool {
		s, err := l.subscribe(ctx, owner, notify)
		if err != nil {
			glog.Infof("[%s]subscribe error = %s", l.store, err)
			if ctx.Err() == nil && isCurrent() {
				l.report(err)
				backoff()
			}
			return false
		}
		l.metrics.SubscriptionOpened(l.store)
		l.mu.Lock()
		if ctx.Err() != nil {
			l.mu.Unlock()
			s.Release()
			l.metrics.SubscriptionClosed(l.store)
			return false
		}
		l.sub = s
		l.mu.Unlock()
		sub, ended = s, s.Done()
		delay = l.retryDelay()
		return true
	}

	connect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ended:
			release()
			if ctx.Err() != nil || !isCurrent() {
				return
			}
			glog.Infof("[%s]subscription ended, resubscribing", l.store)
			l.report(errs.E(errs.Network, "", "change feed closed"))
			backoff()
		case <-retry:
			retry = nil
			if connect() {
				// changes made while we were away were never announced
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		case <-wake:
			if err := l.reload(ctx); err != nil {
				glog.V(2).Infof("[%s]background reload error = %s", l.store, err)
			}
		}
	}
}

func (l *changeListener) retryDelay() time.Duration {
	if l.retry > 0 {
		return l.retry
	}
	return defaultRetryDelay
}
