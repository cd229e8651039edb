package xevents

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

// AsyncSink moves delivery off the write path. Messages are queued and sent by a
// single background worker, so per-sink order matches Send order. Send only fails
// when the queue is full or the sink is closed.
type AsyncSink struct {
	inner   Sink
	queue   chan *Message
	logger  *xlog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	mu      sync.RWMutex
	dropped atomic.Uint64
	sent    atomic.Uint64
	failed  atomic.Uint64
}

// AsyncStats returns telemetry about an async sink.
type AsyncStats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
	Queued  int
}

// NewAsyncSink wraps inner with a queue of bufferSize (1000 if < 1).
func NewAsyncSink(inner Sink, bufferSize int, logger *xlog.Logger) *AsyncSink {
	if bufferSize < 1 {
		bufferSize = 1000
	}
	if logger == nil {
		logger = xlog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &AsyncSink{
		inner:  inner,
		queue:  make(chan *Message, bufferSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	a.wg.Add(1)
	go a.worker()
	return a
}

func (a *AsyncSink) Name() string { return a.inner.Name() }

// Send enqueues msg without blocking. The caller's context is not carried over:
// the originating transaction may finish before the message is delivered.
func (a *AsyncSink) Send(_ context.Context, msg *Message) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed.Load() {
		return ErrAsyncSinkClosed
	}
	select {
	case a.queue <- msg:
		return nil
	default:
		a.dropped.Add(1)
		return ErrAsyncSinkFull
	}
}

func (a *AsyncSink) worker() {
	defer a.wg.Done()
	for msg := range a.queue {
		a.deliver(msg)
	}
}

func (a *AsyncSink) deliver(msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			a.failed.Add(1)
			a.logger.Warn().Str("sink", a.inner.Name()).Str("message_id", msg.ID).Msg("xevents: async sink panic (recovered)")
		}
	}()
	if err := a.inner.Send(a.ctx, msg); err != nil {
		a.failed.Add(1)
		a.logger.Warn().Err(err).Str("sink", a.inner.Name()).Str("message_id", msg.ID).Msg("xevents: async delivery failed")
		return
	}
	a.sent.Add(1)
}

// Close stops accepting messages, drains the queue for up to timeout, then closes inner.
func (a *AsyncSink) Close(ctx context.Context) error {
	return a.CloseTimeout(ctx, 5*time.Second)
}

func (a *AsyncSink) CloseTimeout(ctx context.Context, timeout time.Duration) error {
	a.mu.Lock()
	if a.closed.Swap(true) {
		a.mu.Unlock()
		return nil
	}
	close(a.queue)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		a.cancel()
		err = ErrAsyncSinkDrainTimeout
	case <-ctx.Done():
		a.cancel()
		err = ctx.Err()
	}
	a.cancel()
	if cerr := a.inner.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (a *AsyncSink) Stats() AsyncStats {
	return AsyncStats{
		Sent:    a.sent.Load(),
		Failed:  a.failed.Load(),
		Dropped: a.dropped.Load(),
		Queued:  len(a.queue),
	}
}
