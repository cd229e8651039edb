package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xevents"
)

// Adapter: in-process recording sink (dev/testing)

const SinkName = xevents.SinkMemory

var ErrClosed = errors.New("memory sink is closed")

func init() {
	if err := xevents.RegisterSink(SinkName, func(cfg map[string]any) (xevents.Sink, error) {
		return NewSink(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xevents/memory: failed to register sink: %w", err))
	}
}

// Config controls memory sink behavior.
type Config struct {
	// Retain is the number of most recent messages kept for inspection (0 = unbounded).
	Retain int
	// BufferSize is the per-subscriber queue size (default: 1024).
	BufferSize int
}

func ConfigFromMap(cfg map[string]any) Config {
	return Config{
		Retain:     max(0, xevents.OptInt(cfg, "retain", 0)),
		BufferSize: max(1, xevents.OptInt(cfg, "buffer_size", 1024)),
	}
}

// Sink keeps delivered messages in memory and forwards them to subscribers.
// Not suitable for production; useful for tests, local development and benchmarks.
type Sink struct {
	cfg Config

	// sendMu makes recording and fan-out one step, so subscribers see
	// messages in the same order as Messages.
	sendMu sync.Mutex

	mu       sync.RWMutex
	messages []*xevents.Message
	subs     map[int]*subscriber
	nextSub  int

	closed   atomic.Bool
	received atomic.Uint64
}

type subscriber struct {
	queue  chan *xevents.Message
	done   <-chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ xevents.Sink = (*Sink)(nil)

func NewSink(cfg Config) *Sink {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	return &Sink{cfg: cfg, subs: make(map[int]*subscriber)}
}

func (s *Sink) Name() string { return SinkName }

// Send records msg and queues it for every subscriber, blocking while a
// subscriber queue is full so per-subscriber order is preserved.
func (s *Sink) Send(ctx context.Context, msg *xevents.Message) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if msg == nil {
		return nil
	}
	m := msg.Clone()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	s.messages = append(s.messages, m)
	if s.cfg.Retain > 0 && len(s.messages) > s.cfg.Retain {
		s.messages = append([]*xevents.Message(nil), s.messages[len(s.messages)-s.cfg.Retain:]...)
	}
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	s.received.Add(1)

	for _, sub := range subs {
		select {
		case sub.queue <- m:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe calls fn for every message sent after it returns, on a dedicated
// goroutine. The returned func stops the subscription after draining its queue.
func (s *Sink) Subscribe(ctx context.Context, fn func(*xevents.Message)) (func(), error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	innerCtx, cancel := context.WithCancel(ctx)
	sub := &subscriber{queue: make(chan *xevents.Message, s.cfg.BufferSize), done: innerCtx.Done(), cancel: cancel}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		for {
			select {
			case <-innerCtx.Done():
				for {
					select {
					case m := <-sub.queue:
						fn(m)
					default:
						return
					}
				}
			case m := <-sub.queue:
				fn(m)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			cancel()
			sub.wg.Wait()
		})
	}, nil
}

// Messages returns a snapshot of the retained messages in send order.
func (s *Sink) Messages() []*xevents.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*xevents.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Received counts every message ever sent, retained or not.
func (s *Sink) Received() uint64 { return s.received.Load() }

func (s *Sink) Reset() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

// Close stops all subscriptions. Retained messages stay readable.
func (s *Sink) Close(context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[int]*subscriber)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
		sub.wg.Wait()
	}
	return nil
}
