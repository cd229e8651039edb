package xevents

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver writes one log line per change event or sink delivery.
// Failures and drops log at warn; captures and deliveries at debug.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	lg := o.Logger.With(
		xlog.Str("trigger", string(e.Trigger)),
		xlog.Str("entity", e.Entity),
	)
	switch e.Type {
	case Captured:
		lg.Debug().Str("message_id", e.MessageID).Dur("duration", e.Duration).Msg("xevents: change captured")
	case Dropped:
		lg.Warn().Err(e.Err).Msg("xevents: change dropped")
	case Dispatched:
		lg.Debug().Str("message_id", e.MessageID).Str("sink", e.Sink).Dur("duration", e.Duration).Msg("xevents: delivered to sink")
	case SinkFailed:
		lg.Warn().Str("message_id", e.MessageID).Str("sink", e.Sink).Dur("duration", e.Duration).Err(e.Err).Msg("xevents: sink delivery failed")
	}
}

// eventTypes lists every EventType in counter order.
var eventTypes = [...]EventType{Captured, Dropped, Dispatched, SinkFailed}

func (t EventType) slot() int {
	for i, et := range eventTypes {
		if et == t {
			return i
		}
	}
	return -1
}

// ObserverPool hands pipeline events to observers on background workers so a
// slow observer never holds up the write that produced the event. When the
// queue is full the event is lost and counted under its EventType, which lets
// Health tell missing failure telemetry apart from missing capture telemetry.
type ObserverPool struct {
	queue   chan *Event
	workers int
	wg      sync.WaitGroup

	// mu keeps Notify from sending on a queue Close has already closed.
	mu     sync.RWMutex
	closed bool

	lost      [len(eventTypes)]atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// NewObserverPool starts workers goroutines reading from a queue of bufferSize events.
func NewObserverPool(workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}
	op := &ObserverPool{
		queue:   make(chan *Event, bufferSize),
		workers: workers,
	}
	op.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go op.run()
	}
	return op
}

// Notify queues e for observers; it never blocks. Events arriving after Close
// are ignored without being counted as lost.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 {
		return
	}
	e.observers = append([]Observer(nil), observers...)

	op.mu.RLock()
	defer op.mu.RUnlock()
	if op.closed {
		return
	}
	select {
	case op.queue <- &e:
	default:
		if i := e.Type.slot(); i >= 0 {
			op.lost[i].Add(1)
		}
	}
}

// run delivers queued events until Close closes the queue and it drains.
func (op *ObserverPool) run() {
	defer op.wg.Done()
	for e := range op.queue {
		for _, obs := range e.observers {
			if obs != nil {
				op.deliver(obs, *e)
			}
		}
		op.delivered.Add(1)
	}
}

func (op *ObserverPool) deliver(obs Observer, e Event) {
	defer func() {
		if recover() != nil {
			op.panics.Add(1)
		}
	}()
	obs.OnEvent(e)
}

// Close stops accepting events and waits up to timeout for queued ones to be
// delivered. It is idempotent.
func (op *ObserverPool) Close(timeout time.Duration) error {
	op.mu.Lock()
	if op.closed {
		op.mu.Unlock()
		return nil
	}
	op.closed = true
	close(op.queue)
	op.mu.Unlock()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns queue depth and loss counters.
func (op *ObserverPool) Stats() PoolStats {
	s := PoolStats{
		LostByType:     make(map[EventType]uint64, len(eventTypes)),
		Processed:      op.delivered.Load(),
		ObserverPanics: op.panics.Load(),
		ActiveEvents:   len(op.queue),
		Workers:        op.workers,
		BufferSize:     cap(op.queue),
	}
	for i, t := range eventTypes {
		n := op.lost[i].Load()
		s.LostByType[t] = n
		s.Dropped += n
	}
	return s
}

// LostFailures is how many Dropped or SinkFailed events never reached observers.
func (s PoolStats) LostFailures() uint64 {
	return s.LostByType[Dropped] + s.LostByType[SinkFailed]
}
