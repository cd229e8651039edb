package xevents

import (
	"errors"
	"fmt"
)

var (
	ErrNoHooks         = errors.New("xevents: no persistence hook registry available")
	ErrSnapshot        = errors.New("xevents: cannot reconstruct prior snapshot")
	ErrInvalidEnvelope = errors.New("xevents: invalid change envelope")
	ErrNoAssembler     = errors.New("xevents: no assembler registered")
	ErrGraphTooDeep    = errors.New("xevents: representation graph too deep")
	ErrPipelineClosed  = errors.New("xevents: pipeline is closed")
	ErrNilEvent        = errors.New("xevents: nil record in change event")
	ErrSinkPanic       = errors.New("xevents: sink panic")
	ErrNoSinks         = errors.New("xevents: no sinks configured")
	ErrInvalidConfig   = errors.New("xevents: invalid config")

	ErrObserverPoolShutdownTimeout = errors.New("xevents: observer pool shutdown timeout")
	ErrAsyncSinkFull               = errors.New("xevents: async sink queue full")
	ErrAsyncSinkClosed             = errors.New("xevents: async sink closed")
	ErrAsyncSinkDrainTimeout       = errors.New("xevents: async sink drain timeout")
)

type ErrUnknownSink struct{ name string }

func (e ErrUnknownSink) Error() string { return fmt.Sprintf("unknown sink: %s", e.name) }

// RepresentationError reports a record that could not be assembled into a Representation.
type RepresentationError struct {
	EntityName string
	Record     Record
	Err        error
}

func (e *RepresentationError) Error() string {
	return fmt.Sprintf("xevents: represent %s (%T): %v", e.EntityName, e.Record, e.Err)
}

func (e *RepresentationError) Unwrap() error { return e.Err }

// SerializationError reports a payload the codec could not encode.
type SerializationError struct {
	Codec      string
	EntityName string
	Err        error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("xevents: serialize %s with %s: %v", e.EntityName, e.Codec, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// SinkError wraps a delivery failure of a single sink.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return fmt.Sprintf("xevents: sink %s: %v", e.Sink, e.Err) }

func (e *SinkError) Unwrap() error { return e.Err }
