package xevents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ HealthChecker = (*Pipeline)(nil)

// Pipeline is the central Facade turning change events into dispatched messages:
// classify, build envelope, transform, enrich, serialize, dispatch. Every stage
// runs on the caller's goroutine. All configuration is fixed by the builder.
type Pipeline struct {
	classifier   *Classifier
	transformer  *Transformer
	enricher     *Enricher
	serializer   *Serializer
	dispatcher   *Dispatcher
	clock        xclock.Clock
	logger       *xlog.Logger
	newID        func() string
	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer
	metrics      *pipelineMetrics
	closed       atomic.Bool
	closeOnce    sync.Once
}

// pipelineMetrics uses lock-free atomics for telemetry.
type pipelineMetrics struct {
	captured     atomic.Uint64
	dispatched   atomic.Uint64
	dropped      atomic.Uint64
	sinkFailures atomic.Uint64
	processingNs atomic.Int64
}

func (p *Pipeline) Classifier() *Classifier   { return p.classifier }
func (p *Pipeline) Transformer() *Transformer { return p.transformer }
func (p *Pipeline) Dispatcher() *Dispatcher   { return p.dispatcher }
func (p *Pipeline) Logger() *xlog.Logger      { return p.logger }

// Process runs one change event through every stage. Event-scoped failures
// (envelope, representation, serialization) drop the event and are returned;
// sink failures are returned joined after every sink has been tried.
func (p *Pipeline) Process(ctx context.Context, ev ChangeEvent) error {
	if p.closed.Load() {
		return ErrPipelineClosed
	}
	if ev.Subject == nil || isNilRecord(ev.Subject) {
		p.drop(ev, "", ErrNilEvent)
		return ErrNilEvent
	}

	start := p.clock.Now()
	p.metrics.captured.Add(1)
	entity := p.classifier.Classify(ev.Subject)
	p.notifyAsync(Event{Type: Captured, Trigger: ev.Trigger, Entity: entity})

	msg, err := p.prepare(ev, entity)
	if err != nil {
		p.drop(ev, entity, err)
		return err
	}

	err = p.dispatcher.Dispatch(InjectAll(ctx, p.serializer.Codec(), p.logger, p.clock), msg)
	p.metrics.dispatched.Add(1)
	p.recordProcessingTime(p.clock.Since(start).Nanoseconds())
	return err
}

// prepare runs the synchronous stages up to a serialized Message.
func (p *Pipeline) prepare(ev ChangeEvent, entity string) (*Message, error) {
	cm, err := BuildMessage(ev, entity)
	if err != nil {
		return nil, err
	}
	payload, err := p.transformer.Transform(cm)
	if err != nil {
		return nil, err
	}
	enriched := p.enricher.Enrich(payload)
	data, err := p.serializer.Serialize(enriched)
	if err != nil {
		return nil, err
	}
	enriched.Headers[HeaderContentType] = p.serializer.Codec().ContentType()
	return &Message{
		ID:         p.newID(),
		Name:       entity + "." + ev.Trigger.WireName(),
		Payload:    data,
		Metadata:   enriched.Headers,
		ProducedAt: p.clock.Now(),
	}, nil
}

// Drop records an event lost before it reached the pipeline, e.g. a failed
// snapshot reconstruction.
func (p *Pipeline) Drop(ev ChangeEvent, err error) {
	entity := ""
	if ev.Subject != nil && !isNilRecord(ev.Subject) {
		entity = p.classifier.Classify(ev.Subject)
	}
	p.metrics.captured.Add(1)
	p.drop(ev, entity, err)
}

func (p *Pipeline) drop(ev ChangeEvent, entity string, err error) {
	p.metrics.dropped.Add(1)
	p.notifyAsync(Event{Type: Dropped, Trigger: ev.Trigger, Entity: entity, Err: err})
}

func (p *Pipeline) onDispatch(e Event) {
	if e.Type == SinkFailed {
		p.metrics.sinkFailures.Add(1)
	}
	p.notifyAsync(e)
}

// GetMetrics returns current pipeline metrics.
func (p *Pipeline) GetMetrics() Metrics {
	m := Metrics{
		Captured:            p.metrics.captured.Load(),
		Dispatched:          p.metrics.dispatched.Load(),
		Dropped:             p.metrics.dropped.Load(),
		SinkFailures:        p.metrics.sinkFailures.Load(),
		AvgProcessingTimeMs: float64(p.metrics.processingNs.Load()) / 1e6,
	}
	if p.observerPool != nil {
		ps := p.observerPool.Stats()
		m.EventsDropped = ps.Dropped
		m.LostFailureEvents = ps.LostFailures()
	}
	return m
}

// Health reports degraded when more than 5% of captured events were dropped or
// hit a failing sink, or when failure events were lost before observers saw them.
func (p *Pipeline) Health(ctx context.Context) HealthStatus {
	if p.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: p.clock.Now(),
			Message:   "pipeline is closed",
		}
	}

	metrics := p.GetMetrics()
	status := "healthy"
	var msg string
	failures := metrics.Dropped + metrics.SinkFailures
	if failures > 0 && metrics.Captured > 0 {
		if float64(failures)/float64(metrics.Captured) > 0.05 {
			status = "degraded"
			msg = fmt.Sprintf("%d of %d changes dropped or failed", failures, metrics.Captured)
		}
	}
	if metrics.LostFailureEvents > 0 {
		status = "degraded"
		msg = fmt.Sprintf("observers missed %d failure events", metrics.LostFailureEvents)
	}

	return HealthStatus{
		Status:    status,
		Metrics:   metrics,
		Timestamp: p.clock.Now(),
		Message:   msg,
	}
}

// Close drains observers and closes every sink. It is idempotent.
func (p *Pipeline) Close(ctx context.Context) error {
	var closeErr error

	p.closeOnce.Do(func() {
		p.closed.Store(true)

		if p.observerPool != nil {
			if err := p.observerPool.Close(5 * time.Second); err != nil {
				p.logger.Warn().Err(err).Msg("xevents: observer pool shutdown timeout")
				closeErr = err
			}
		}

		if err := p.dispatcher.Close(ctx); err != nil {
			p.logger.Error().Err(err).Msg("xevents: sink close failed")
			closeErr = errors.Join(closeErr, err)
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (p *Pipeline) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	p.observersMu.Lock()
	p.observers = append(p.observers, obs)
	p.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (p *Pipeline) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	p.observersMu.Lock()
	defer p.observersMu.Unlock()

	for i, o := range p.observers {
		if o == obs {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

func (p *Pipeline) notifyAsync(e Event) {
	if p.observerPool == nil || p.closed.Load() {
		return
	}

	p.observersMu.RLock()
	if len(p.observers) == 0 {
		p.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.observersMu.RUnlock()

	p.observerPool.Notify(e, observers)
}

// recordProcessingTime keeps an exponential moving average of end-to-end latency.
func (p *Pipeline) recordProcessingTime(ns int64) {
	const alpha = 0.2
	current := p.metrics.processingNs.Load()
	if current == 0 {
		p.metrics.processingNs.Store(ns)
		return
	}
	p.metrics.processingNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
