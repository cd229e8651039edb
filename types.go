package xevents

import (
	"time"
)

// Trigger is the kind of mutation that produced a change event.
type Trigger string

const (
	TriggerCreate           Trigger = "create"
	TriggerUpdate           Trigger = "update"
	TriggerDelete           Trigger = "delete"
	TriggerCollectionUpdate Trigger = "collection_update"
)

// WireName is the value rendered in the "type" field of the wire object.
// Collection updates re-signal their owner, so consumers see them as updates.
func (t Trigger) WireName() string {
	if t == TriggerCollectionUpdate {
		return string(TriggerUpdate)
	}
	return string(t)
}

func (t Trigger) valid() bool {
	switch t {
	case TriggerCreate, TriggerUpdate, TriggerDelete, TriggerCollectionUpdate:
		return true
	}
	return false
}

// Delta holds the values a record's fields had before the current update,
// keyed by field name.
type Delta map[string]any

// ChangeEvent is a normalized lifecycle notification. Prior is only set for TriggerUpdate.
// It belongs to the goroutine that raised it and is never mutated after construction.
type ChangeEvent struct {
	Trigger Trigger
	Subject Record
	Prior   Record
}

// RecordPair is the before/after view of a change.
type RecordPair struct {
	Old Record
	New Record
}

// ChangeMessage is the envelope produced from a ChangeEvent.
type ChangeMessage struct {
	Trigger    Trigger
	EntityName string
	Data       RecordPair
}

// RepresentationPair is the transformed counterpart of RecordPair.
type RepresentationPair struct {
	Old *Representation
	New *Representation
}

// ResourcePayload is the serialization-ready counterpart of ChangeMessage.
type ResourcePayload struct {
	Trigger    Trigger
	EntityName string
	Data       RepresentationPair
}

// EnrichedMessage is a ResourcePayload plus deployment identity and routing headers.
type EnrichedMessage struct {
	Payload     ResourcePayload
	Application string
	Headers     map[string]string
}

// Message is the immutable unit handed to sinks. The Payload is encoded via Codec.
type Message struct {
	ID         string            // Unique message identifier
	Name       string            // "<entity>.<type>", for routing/metrics
	Payload    []byte            // Encoded wire object
	Metadata   map[string]string // Transport headers (application_id, deployment_id, routing hints)
	ProducedAt time.Time         // Production timestamp (from injected clock)
}

// Clone returns a deep copy that can be handed to a sink independently.
func (m *Message) Clone() *Message {
	c := *m
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// EventType enumerates pipeline lifecycle events for the Observer pattern.
type EventType string

const (
	Captured   EventType = "captured"
	Dropped    EventType = "dropped"
	Dispatched EventType = "dispatched"
	SinkFailed EventType = "sink_failed"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	Trigger   Trigger
	Entity    string
	MessageID string
	Sink      string
	Duration  time.Duration
	Err       error

	// Internal: attached for async dispatch
	observers []Observer
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped        uint64               // Events lost to a full queue, all types
	LostByType     map[EventType]uint64 // Dropped split by EventType
	Processed      uint64               // Events handed to every observer
	ObserverPanics uint64               // Recovered observer panics
	ActiveEvents   int                  // Current queue depth
	Workers        int
	BufferSize     int
}

// Metrics defines observable telemetry for the pipeline.
type Metrics struct {
	Captured            uint64
	Dispatched          uint64
	Dropped             uint64
	SinkFailures        uint64
	EventsDropped       uint64 // observer events lost to a full queue
	LostFailureEvents   uint64 // subset of EventsDropped that were Dropped or SinkFailed
	AvgProcessingTimeMs float64
}

// HealthStatus indicates pipeline health for Kubernetes liveness and readiness checks.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
