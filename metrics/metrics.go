// Package metrics exports pipeline events as Prometheus metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trickstertwo/xevents"
)

// Observer is an xevents.Observer recording every pipeline event.
type Observer struct {
	changes      *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	dispatched   *prometheus.CounterVec
	sinkFailures *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
}

var _ xevents.Observer = (*Observer)(nil)

// New registers the pipeline metrics on reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xevents_changes_total",
				Help: "Total number of captured change events by trigger and entity.",
			},
			[]string{"trigger", "entity"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xevents_dropped_total",
				Help: "Total number of change events dropped before dispatch.",
			},
			[]string{"trigger", "entity"},
		),
		dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xevents_dispatched_total",
				Help: "Total number of messages accepted by a sink.",
			},
			[]string{"sink"},
		),
		sinkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xevents_sink_failures_total",
				Help: "Total number of failed sink deliveries.",
			},
			[]string{"sink"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xevents_sink_send_duration_seconds",
				Help:    "Duration of sink Send calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),
	}

	for _, c := range []prometheus.Collector{o.changes, o.dropped, o.dispatched, o.sinkFailures, o.sendDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	// Make the trigger series visible at /metrics before the first change.
	for _, t := range []xevents.Trigger{
		xevents.TriggerCreate,
		xevents.TriggerUpdate,
		xevents.TriggerDelete,
		xevents.TriggerCollectionUpdate,
	} {
		o.changes.WithLabelValues(string(t), "")
	}
	return o, nil
}

var (
	initOnce sync.Once
	def      *Observer
)

// Default returns an Observer registered on the default Prometheus registry exactly once.
func Default() *Observer {
	initOnce.Do(func() {
		o, err := New(prometheus.DefaultRegisterer)
		if err != nil {
			panic(err)
		}
		def = o
	})
	return def
}

func (o *Observer) OnEvent(e xevents.Event) {
	switch e.Type {
	case xevents.Captured:
		o.changes.WithLabelValues(string(e.Trigger), e.Entity).Inc()
	case xevents.Dropped:
		o.dropped.WithLabelValues(string(e.Trigger), e.Entity).Inc()
	case xevents.Dispatched:
		o.dispatched.WithLabelValues(e.Sink).Inc()
		o.sendDuration.WithLabelValues(e.Sink).Observe(e.Duration.Seconds())
	case xevents.SinkFailed:
		o.sinkFailures.WithLabelValues(e.Sink).Inc()
		o.sendDuration.WithLabelValues(e.Sink).Observe(e.Duration.Seconds())
	}
}
