package memory

import (
	"fmt"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xevents"
	"github.com/trickstertwo/xlog"
)

// Use builds a Pipeline delivering to an in-memory sink, installs it as the
// process-wide default and returns it together with the sink.
//
// Example:
//
//	p, sink := memory.Use(memory.Config{Retain: 1000},
//	    memory.WithIdentity(xevents.SystemIdentity{ApplicationID: "crm"}),
//	    memory.WithLogger(logger),
//	)
//	_ = xevents.Attach(store)
func Use(cfg Config, opts ...Option) (*xevents.Pipeline, *Sink) {
	sink := NewSink(cfg)
	pb := xevents.NewPipelineBuilder().WithSinkInstance(sink)

	for _, o := range opts {
		if o != nil {
			o(pb)
		}
	}

	p, err := pb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}

	xevents.SetDefault(p)
	return p, sink
}

// Option configures the xevents.Pipeline when calling Use.
type Option func(*xevents.PipelineBuilder)

func WithLogger(l *xlog.Logger) Option {
	return func(b *xevents.PipelineBuilder) { b.WithLogger(l) }
}

func WithClock(c xclock.Clock) Option {
	return func(b *xevents.PipelineBuilder) { b.WithClock(c) }
}

// WithIdentity sets the application and deployment ids stamped on every message.
func WithIdentity(id xevents.SystemIdentity) Option {
	return func(b *xevents.PipelineBuilder) { b.WithIdentity(id) }
}

func WithBaseURL(u string) Option {
	return func(b *xevents.PipelineBuilder) { b.WithBaseURL(u) }
}

// WithAlias declares the entity name of sample's type.
func WithAlias(sample xevents.Record, name string) Option {
	return func(b *xevents.PipelineBuilder) { b.WithAlias(sample, name) }
}

// WithObserver attaches observers for pipeline events.
func WithObserver(obs ...xevents.Observer) Option {
	return func(b *xevents.PipelineBuilder) { b.WithObserver(obs...) }
}

// WithAsync moves delivery behind an ordered background queue.
func WithAsync(bufferSize int) Option {
	return func(b *xevents.PipelineBuilder) { b.WithAsyncSinks(bufferSize) }
}
