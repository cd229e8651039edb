package xevents

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xlog"
)

// Processor is the part of Pipeline the Listener drives.
type Processor interface {
	Process(ctx context.Context, ev ChangeEvent) error
}

type dropRecorder interface {
	Drop(ev ChangeEvent, err error)
}

// Listener turns persistence-layer notifications into ChangeEvents. It runs
// inside the write transaction and never fails it: every error or panic is
// logged and the notification is dropped.
type Listener struct {
	processor Processor
	logger    *xlog.Logger
}

func NewListener(p Processor, logger *xlog.Logger) *Listener {
	if logger == nil {
		logger = xlog.Default()
	}
	return &Listener{processor: p, logger: logger}
}

// Register appends one callback per notification kind to the hook registry.
// A missing registry is a startup error.
func (l *Listener) Register(h Hooks) error {
	if h == nil {
		return ErrNoHooks
	}
	if l.processor == nil {
		return fmt.Errorf("%w: listener has no pipeline", ErrNoHooks)
	}
	h.OnPostInsert(l.OnInsert)
	h.OnPostUpdate(l.OnUpdate)
	h.OnPostDelete(l.OnDelete)
	h.OnPostCollectionUpdate(l.OnCollectionChange)
	return nil
}

func (l *Listener) OnInsert(ctx context.Context, r Record) {
	l.handle(ctx, TriggerCreate, r, func() (ChangeEvent, error) {
		return ChangeEvent{Trigger: TriggerCreate, Subject: r}, nil
	})
}

// OnUpdate rebuilds the prior snapshot from the live record and the prior-field delta.
func (l *Listener) OnUpdate(ctx context.Context, r Record, prior Delta) {
	l.handle(ctx, TriggerUpdate, r, func() (ChangeEvent, error) {
		ghost, err := Reconstruct(r, prior)
		if err != nil {
			return ChangeEvent{}, err
		}
		return ChangeEvent{Trigger: TriggerUpdate, Subject: r, Prior: ghost}, nil
	})
}

func (l *Listener) OnDelete(ctx context.Context, r Record) {
	l.handle(ctx, TriggerDelete, r, func() (ChangeEvent, error) {
		return ChangeEvent{Trigger: TriggerDelete, Subject: r}, nil
	})
}

// OnCollectionChange re-signals the owner; the collection itself is not diffed.
func (l *Listener) OnCollectionChange(ctx context.Context, owner Record) {
	l.handle(ctx, TriggerCollectionUpdate, owner, func() (ChangeEvent, error) {
		return ChangeEvent{Trigger: TriggerCollectionUpdate, Subject: owner, Prior: owner}, nil
	})
}

func (l *Listener) handle(ctx context.Context, trigger Trigger, r Record, capture func() (ChangeEvent, error)) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error().
				Str("trigger", string(trigger)).
				Str("record", fmt.Sprintf("%T", r)).
				Str("panic", fmt.Sprint(p)).
				Msg("xevents: listener panic (recovered), change event dropped")
		}
	}()

	ev, err := capture()
	if err != nil {
		if d, ok := l.processor.(dropRecorder); ok {
			d.Drop(ChangeEvent{Trigger: trigger, Subject: r}, err)
		}
		l.logger.Warn().Err(err).
			Str("trigger", string(trigger)).
			Str("record", fmt.Sprintf("%T", r)).
			Msg("xevents: change event dropped")
		return
	}
	if err := l.processor.Process(ctx, ev); err != nil {
		l.logger.Warn().Err(err).
			Str("trigger", string(trigger)).
			Str("record", fmt.Sprintf("%T", r)).
			Msg("xevents: change event not fully delivered")
	}
}
