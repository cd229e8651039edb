package xevents

import (
	"context"
	"errors"
	"sync"
)

// SinkFactory constructs sinks from a config blob.
type SinkFactory func(cfg map[string]any) (Sink, error)

var (
	sinkRegistryMu sync.RWMutex
	sinkRegistry   = map[string]SinkFactory{}
)

// RegisterSink registers a sink adapter under a type name.
func RegisterSink(name string, factory SinkFactory) error {
	if name == "" {
		return errors.New("sink name must not be empty")
	}
	if factory == nil {
		return errors.New("sink factory must not be nil")
	}
	sinkRegistryMu.Lock()
	sinkRegistry[name] = factory
	sinkRegistryMu.Unlock()
	return nil
}

// NewSink constructs a sink by type name with config.
func NewSink(name string, cfg map[string]any) (Sink, error) {
	sinkRegistryMu.RLock()
	f, ok := sinkRegistry[name]
	sinkRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownSink{name: name}
	}
	return f(cfg)
}

// SinkFunc adapts a function to Sink; Close is a no-op.
type SinkFunc struct {
	SinkName string
	Fn       SendFunc
}

func (s SinkFunc) Name() string                                 { return s.SinkName }
func (s SinkFunc) Send(ctx context.Context, msg *Message) error { return s.Fn(ctx, msg) }
func (s SinkFunc) Close(context.Context) error                  { return nil }

// wrappedSink decorates a sink's Send with middlewares.
type wrappedSink struct {
	Sink
	send SendFunc
}

func (w *wrappedSink) Send(ctx context.Context, msg *Message) error { return w.send(ctx, msg) }

// Wrap composes middlewares around a sink's Send, keeping its name and Close.
func Wrap(s Sink, mws ...Middleware) Sink {
	if s == nil || len(mws) == 0 {
		return s
	}
	return &wrappedSink{Sink: s, send: Chain(s.Send, mws...)}
}
