package eventbus

import (
	"errors"
	"fmt"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "weakbus"

// Async failure reasons.
const (
	reasonRefused = "refused"
	reasonPanic   = "panic"
)

type metrics struct {
	subscribed    *prometheus.CounterVec
	unsubscribed  *prometheus.CounterVec
	published     *prometheus.CounterVec
	delivered     *prometheus.CounterVec
	expired       *prometheus.CounterVec
	asyncFailures *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		subscribed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "subscriptions_added_total",
			Help:      "Total number of handlers subscribed to an event",
		}, []string{"bus", "event"}),
		unsubscribed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "subscriptions_removed_total",
			Help:      "Total number of handlers removed from an event, including expired handlers that were pruned",
		}, []string{"bus", "event"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "published_total",
			Help:      "Total number of payloads published to an event",
		}, []string{"bus", "event"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivered_total",
			Help:      "Total number of handler invocations",
		}, []string{"bus", "event"}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "expired_skipped_total",
			Help:      "Total number of handlers skipped during dispatch because their receiver was collected",
		}, []string{"bus", "event"}),
		asyncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "async_failures_total",
			Help:      "Total number of asynchronous dispatches that were refused or panicked",
		}, []string{"bus", "event", "reason"}),
	}
	var err error
	m.subscribed, err = register(reg, m.subscribed)
	if err != nil {
		return nil, err
	}
	m.unsubscribed, err = register(reg, m.unsubscribed)
	if err != nil {
		return nil, err
	}
	m.published, err = register(reg, m.published)
	if err != nil {
		return nil, err
	}
	m.delivered, err = register(reg, m.delivered)
	if err != nil {
		return nil, err
	}
	m.expired, err = register(reg, m.expired)
	if err != nil {
		return nil, err
	}
	m.asyncFailures, err = register(reg, m.asyncFailures)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Reuses collectors already registered by another bus sharing the registerer.
func register(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to register bus metrics: %w", err)
	}
	return vec, nil
}

// A nil *metrics records nothing.

func (m *metrics) incSubscribed(bus string, key Key) {
	if m == nil {
		return
	}
	m.subscribed.WithLabelValues(bus, key.String()).Inc()
}

func (m *metrics) addUnsubscribed(bus string, key Key, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unsubscribed.WithLabelValues(bus, key.String()).Add(float64(n))
}

func (m *metrics) incPublished(bus string, key Key) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(bus, key.String()).Inc()
}

func (m *metrics) addDelivered(bus string, key Key, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.delivered.WithLabelValues(bus, key.String()).Add(float64(n))
}

func (m *metrics) addExpired(bus string, key Key, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.WithLabelValues(bus, key.String()).Add(float64(n))
}

func (m *metrics) incAsyncFailure(bus string, key Key, reason string) {
	if m == nil {
		return
	}
	m.asyncFailures.WithLabelValues(bus, key.String(), reason).Inc()
}
