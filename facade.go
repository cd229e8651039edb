package xevents

import (
	"context"
	"fmt"
	"sync"
)

var (
	defaultPipeline   *Pipeline
	defaultPipelineMu sync.Mutex
)

// Default returns the process-wide Pipeline. Without SetDefault it is a
// sinkless pipeline that processes and discards events.
func Default() *Pipeline {
	defaultPipelineMu.Lock()
	defer defaultPipelineMu.Unlock()

	if defaultPipeline != nil {
		return defaultPipeline
	}

	p, err := NewPipelineBuilder().Build()
	if err != nil {
		panic(fmt.Sprintf("xevents: failed to initialize default pipeline: %v", err))
	}
	defaultPipeline = p
	return defaultPipeline
}

// SetDefault replaces the process-wide default Pipeline.
func SetDefault(p *Pipeline) {
	if p == nil {
		panic("xevents: SetDefault called with nil Pipeline")
	}
	defaultPipelineMu.Lock()
	defaultPipeline = p
	defaultPipelineMu.Unlock()
}

// Process is the Facade using the default pipeline.
func Process(ctx context.Context, ev ChangeEvent) error {
	return Default().Process(ctx, ev)
}

// Attach registers a Listener for the default pipeline on h.
func Attach(h Hooks) error {
	p := Default()
	return NewListener(p, p.Logger()).Register(h)
}
