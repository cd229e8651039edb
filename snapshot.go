package xevents

import (
	"fmt"
	"reflect"
)

// Reconstruct rebuilds the state a record held before the current update.
// The live record already carries the new values, so the prior snapshot is a
// structural clone of it with the prior-field delta applied on top.
func Reconstruct(current Record, prior Delta) (Record, error) {
	if current == nil {
		return nil, fmt.Errorf("%w: nil record", ErrSnapshot)
	}
	ghost := current.CloneRecord()
	if ghost == nil {
		return nil, fmt.Errorf("%w: %T returned a nil clone", ErrSnapshot, current)
	}
	if sameRef(ghost, current) {
		return nil, fmt.Errorf("%w: %T clone aliases the live record", ErrSnapshot, current)
	}
	if len(prior) == 0 {
		return ghost, nil
	}
	if err := ghost.ApplyPrior(prior); err != nil {
		return nil, fmt.Errorf("%w: %T: %w", ErrSnapshot, current, err)
	}
	return ghost, nil
}

// sameRef reports reference equality for pointer-shaped records.
func sameRef(a, b Record) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() != reflect.Pointer || vb.Kind() != reflect.Pointer {
		return false
	}
	return va.Pointer() == vb.Pointer()
}

// recordRef returns an identity key for pointer-shaped records, 0 otherwise.
func recordRef(r Record) uintptr {
	v := reflect.ValueOf(r)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return 0
	}
	return v.Pointer()
}
