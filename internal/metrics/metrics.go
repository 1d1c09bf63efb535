// Package metrics holds the Prometheus collectors for the sync layer and
// the store server. Every method is safe on a nil receiver so callers
// that do not care about metrics can pass nil.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tada"

// Result label values.
const (
	OK    = "ok"
	Error = "error"
	Stale = "stale"
)

// Sync instruments task and profile stores.
type Sync struct {
	reloads       *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	notifications *prometheus.CounterVec
	subscriptions *prometheus.GaugeVec
}

// NewSync registers the sync collectors with reg (prometheus.DefaultRegisterer
// when nil).
func NewSync(reg prometheus.Registerer) *Sync {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Sync{
		reloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "reloads_total",
			Help:      "Authoritative reloads by store and result.",
		}, []string{"store", "result"}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "mutations_total",
			Help:      "Remote writes by store, operation and result.",
		}, []string{"store", "op", "result"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "notifications_total",
			Help:      "Push notifications received for the current identity.",
		}, []string{"store"}),
		subscriptions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "subscriptions_active",
			Help:      "Live push subscriptions held by stores.",
		}, []string{"store"}),
	}
}

func (m *Sync) Reload(store, result string) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(store, result).Inc()
}

func (m *Sync) Mutation(store, op, result string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(store, op, result).Inc()
}

func (m *Sync) Notification(store string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(store).Inc()
}

func (m *Sync) SubscriptionOpened(store string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(store).Inc()
}

func (m *Sync) SubscriptionClosed(store string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(store).Dec()
}

// HTTP instruments the store server.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	feeds    prometheus.Gauge
	pushed   prometheus.Counter
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &HTTP{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "method", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		feeds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "change_feeds_active",
			Help:      "Open websocket change feeds.",
		}),
		pushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "changes_pushed_total",
			Help:      "Change notifications written to websocket feeds.",
		}),
	}
}

func (m *HTTP) Observe(route, method string, code int, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route, method).Observe(seconds)
}

func (m *HTTP) FeedOpened() {
	if m != nil {
		m.feeds.Inc()
	}
}

func (m *HTTP) FeedClosed() {
	if m != nil {
		m.feeds.Dec()
	}
}

func (m *HTTP) Pushed() {
	if m != nil {
		m.pushed.Inc()
	}
}

