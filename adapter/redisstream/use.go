package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xevents"
)

// Use builds a Pipeline delivering to Redis Streams and sets it as the default
// Pipeline, then returns it.
// Mirrors xlog/xclock "Use" behavior: explicit construction and global install.
func Use(cfg Config, opts ...Option) *xevents.Pipeline {
	pb := xevents.NewPipelineBuilder().
		WithSink(SinkName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(pb)
		}
	}
	p, err := pb.Build()
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}

	xevents.SetDefault(p)
	return p
}
