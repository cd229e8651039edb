package xevents

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Dispatcher fans a serialized message out to an ordered set of sinks.
// Sinks are failure-isolated: an error or panic in one never stops delivery
// to the others. The sink list is fixed at construction.
type Dispatcher struct {
	sinks  []Sink
	notify func(Event)
	now    func() time.Time
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Dispatcher{sinks: out, notify: func(Event) {}, now: time.Now}
}

// Sinks returns the configured sinks in dispatch order.
func (d *Dispatcher) Sinks() []Sink {
	return append([]Sink(nil), d.sinks...)
}

// Dispatch invokes every sink and returns the joined per-sink errors, each a *SinkError.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) error {
	var errs []error
	for _, s := range d.sinks {
		start := d.now()
		err := d.send(ctx, s, msg.Clone())
		ev := Event{
			Type:      Dispatched,
			Trigger:   Trigger(msg.Metadata[HeaderEventType]),
			MessageID: msg.ID,
			Entity:    msg.Metadata[HeaderEntity],
			Sink:      s.Name(),
			Duration:  d.now().Sub(start),
		}
		if err != nil {
			err = &SinkError{Sink: s.Name(), Err: err}
			errs = append(errs, err)
			ev.Type = SinkFailed
			ev.Err = err
		}
		d.notify(ev)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, s Sink, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSinkPanic, r)
		}
	}()
	return s.Send(ctx, msg)
}

// Close closes every sink, returning the joined errors.
func (d *Dispatcher) Close(ctx context.Context) error {
	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, &SinkError{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}
