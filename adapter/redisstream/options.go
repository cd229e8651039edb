package redisstream

import (
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xevents"
	"github.com/trickstertwo/xlog"
)

// Option configures the xevents.Pipeline construction when calling Use.
type Option func(*xevents.PipelineBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xevents.PipelineBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xevents.PipelineBuilder) { b.WithClock(c) }
}

// WithIdentity sets the application and deployment ids.
func WithIdentity(id xevents.SystemIdentity) Option {
	return func(b *xevents.PipelineBuilder) { b.WithIdentity(id) }
}

// WithBaseURL sets the prefix of generated resource links.
func WithBaseURL(u string) Option {
	return func(b *xevents.PipelineBuilder) { b.WithBaseURL(u) }
}

// WithMiddleware wraps the sink's Send (retry, timeout, etc).
func WithMiddleware(mw ...xevents.Middleware) Option {
	return func(b *xevents.PipelineBuilder) { b.WithSinkMiddleware(mw...) }
}

// WithAsync moves XADD off the write path behind an ordered queue.
func WithAsync(bufferSize int) Option {
	return func(b *xevents.PipelineBuilder) { b.WithAsyncSinks(bufferSize) }
}

// WithObserver attaches observers for pipeline events.
func WithObserver(obs ...xevents.Observer) Option {
	return func(b *xevents.PipelineBuilder) { b.WithObserver(obs...) }
}
