package xevents

import "fmt"

// BuildMessage maps a ChangeEvent onto its before/after envelope.
// An error here is a programming error in the caller, never a runtime condition.
func BuildMessage(ev ChangeEvent, entityName string) (ChangeMessage, error) {
	if !ev.Trigger.valid() {
		return ChangeMessage{}, fmt.Errorf("%w: unknown trigger %q", ErrInvalidEnvelope, ev.Trigger)
	}
	if ev.Subject == nil || isNilRecord(ev.Subject) {
		return ChangeMessage{}, fmt.Errorf("%w: %s event for %s has no subject", ErrInvalidEnvelope, ev.Trigger, entityName)
	}
	msg := ChangeMessage{Trigger: ev.Trigger, EntityName: entityName}

	switch ev.Trigger {
	case TriggerCreate:
		msg.Data = RecordPair{New: ev.Subject}
	case TriggerUpdate:
		if ev.Prior == nil || isNilRecord(ev.Prior) {
			return ChangeMessage{}, fmt.Errorf("%w: update of %s without prior state", ErrInvalidEnvelope, entityName)
		}
		msg.Data = RecordPair{Old: ev.Prior, New: ev.Subject}
	case TriggerDelete:
		msg.Data = RecordPair{Old: ev.Subject}
	case TriggerCollectionUpdate:
		msg.Data = RecordPair{Old: ev.Subject, New: ev.Subject}
	}
	return msg, nil
}
