package xevents

import (
	"context"
)

// Record is a managed domain record observed by the pipeline. Each record type
// supplies its own clone/apply capability so prior snapshots can be rebuilt
// without reflection.
type Record interface {
	// CloneRecord returns a structural copy carrying the current field values.
	// The copy must not share mutable state with the receiver.
	CloneRecord() Record
	// ApplyPrior overwrites the fields named in prior with their prior values.
	ApplyPrior(prior Delta) error
}

// ResourceNamer lets a record type declare the logical name consumers know it by.
type ResourceNamer interface {
	ResourceName() string
}

// Hooks is the persistence layer's notification registry. Callbacks are invoked
// synchronously inside the write transaction.
type Hooks interface {
	OnPostInsert(fn func(ctx context.Context, r Record))
	OnPostUpdate(fn func(ctx context.Context, r Record, prior Delta))
	OnPostDelete(fn func(ctx context.Context, r Record))
	OnPostCollectionUpdate(fn func(ctx context.Context, owner Record))
}

// Sink is the Strategy interface for downstream consumers of dispatched messages.
// Sinks own their retry and timeout policy.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
	Close(ctx context.Context) error
}

// Codec is the Strategy for encoding/decoding payloads on the wire.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
	ContentType() string
}

// Observer receives pipeline lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete xevents pipeline surface.
type API interface {
	Process(ctx context.Context, ev ChangeEvent) error
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var _ API = (*Pipeline)(nil)
