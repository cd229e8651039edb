// Package recordstore is an in-memory transactional record store that raises
// persistence lifecycle notifications the way an ORM session does: inside the
// write transaction, right after each write is flushed.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xevents"
)

var (
	ErrNotFound  = errors.New("recordstore: record not found")
	ErrDuplicate = errors.New("recordstore: record already stored")
	ErrTxDone    = errors.New("recordstore: transaction already finished")
)

// Entity is a record the store can persist. Fields reports the current column
// values and is used to compute the prior-field delta of an update.
type Entity interface {
	xevents.Record
	xevents.Identifier
	SetRecordID(id string)
	Fields() map[string]any
}

type rowKey struct {
	t  reflect.Type
	id string
}

var _ xevents.Hooks = (*Store)(nil)

// Store keeps one row per entity. Writers are serialized: a transaction holds
// the store for its whole duration.
type Store struct {
	mu   sync.Mutex
	rows map[rowKey]Entity
	seq  atomic.Uint64

	hooksMu      sync.RWMutex
	insertHooks  []func(context.Context, xevents.Record)
	updateHooks  []func(context.Context, xevents.Record, xevents.Delta)
	deleteHooks  []func(context.Context, xevents.Record)
	collectHooks []func(context.Context, xevents.Record)
}

func New() *Store {
	return &Store{rows: make(map[rowKey]Entity)}
}

func (s *Store) OnPostInsert(fn func(ctx context.Context, r xevents.Record)) {
	s.hooksMu.Lock()
	s.insertHooks = append(s.insertHooks, fn)
	s.hooksMu.Unlock()
}

func (s *Store) OnPostUpdate(fn func(ctx context.Context, r xevents.Record, prior xevents.Delta)) {
	s.hooksMu.Lock()
	s.updateHooks = append(s.updateHooks, fn)
	s.hooksMu.Unlock()
}

func (s *Store) OnPostDelete(fn func(ctx context.Context, r xevents.Record)) {
	s.hooksMu.Lock()
	s.deleteHooks = append(s.deleteHooks, fn)
	s.hooksMu.Unlock()
}

func (s *Store) OnPostCollectionUpdate(fn func(ctx context.Context, owner xevents.Record)) {
	s.hooksMu.Lock()
	s.collectHooks = append(s.collectHooks, fn)
	s.hooksMu.Unlock()
}

// Tx runs fn in a transaction. Writes made by fn are undone when it returns an
// error; notifications already raised are not recalled.
func (s *Store) Tx(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{s: s, ctx: ctx}
	err := fn(tx)
	tx.done = true
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Get returns the stored entity of sample's type with the given id.
func (s *Store) Get(sample Entity, id string) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[rowKey{t: reflect.TypeOf(sample), id: id}]
	if !ok {
		return nil, fmt.Errorf("%w: %T %s", ErrNotFound, sample, id)
	}
	return e, nil
}

// Len returns the number of stored rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type undo func()

// Tx is a write transaction. It is only valid inside the Store.Tx callback.
type Tx struct {
	s    *Store
	ctx  context.Context
	log  []undo
	done bool
}

// Insert stores e, assigning an id when it has none, and raises post-insert.
func (tx *Tx) Insert(e Entity) error {
	if tx.done {
		return ErrTxDone
	}
	if e.RecordID() == "" {
		e.SetRecordID(fmt.Sprintf("%d", tx.s.seq.Add(1)))
	}
	k := key(e)
	if _, exists := tx.s.rows[k]; exists {
		return fmt.Errorf("%w: %T %s", ErrDuplicate, e, e.RecordID())
	}
	tx.s.rows[k] = e
	tx.log = append(tx.log, func() { delete(tx.s.rows, k) })

	tx.s.hooksMu.RLock()
	hooks := tx.s.insertHooks
	tx.s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(tx.ctx, e)
	}
	return nil
}

// Update applies mutate to the stored entity and raises post-update with the
// prior values of every field mutate changed. An update that changes nothing
// raises no notification.
func (tx *Tx) Update(e Entity, mutate func()) error {
	if tx.done {
		return ErrTxDone
	}
	k := key(e)
	if _, ok := tx.s.rows[k]; !ok {
		return fmt.Errorf("%w: %T %s", ErrNotFound, e, e.RecordID())
	}
	before := e.Fields()
	mutate()
	after := e.Fields()

	prior := xevents.Delta{}
	for name, old := range before {
		if !reflect.DeepEqual(old, after[name]) {
			prior[name] = old
		}
	}
	if len(prior) == 0 {
		return nil
	}
	tx.log = append(tx.log, func() { _ = e.ApplyPrior(prior) })

	tx.s.hooksMu.RLock()
	hooks := tx.s.updateHooks
	tx.s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(tx.ctx, e, prior)
	}
	return nil
}

// Delete removes e and raises post-delete. Later writes to e fail with ErrNotFound.
func (tx *Tx) Delete(e Entity) error {
	if tx.done {
		return ErrTxDone
	}
	k := key(e)
	if _, ok := tx.s.rows[k]; !ok {
		return fmt.Errorf("%w: %T %s", ErrNotFound, e, e.RecordID())
	}
	delete(tx.s.rows, k)
	tx.log = append(tx.log, func() { tx.s.rows[k] = e })

	tx.s.hooksMu.RLock()
	hooks := tx.s.deleteHooks
	tx.s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(tx.ctx, e)
	}
	return nil
}

// TouchCollection applies mutate to one of owner's collections and raises
// post-collection-update for owner. Collection changes are not undone on rollback.
func (tx *Tx) TouchCollection(owner Entity, mutate func()) error {
	if tx.done {
		return ErrTxDone
	}
	if _, ok := tx.s.rows[key(owner)]; !ok {
		return fmt.Errorf("%w: %T %s", ErrNotFound, owner, owner.RecordID())
	}
	mutate()

	tx.s.hooksMu.RLock()
	hooks := tx.s.collectHooks
	tx.s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(tx.ctx, owner)
	}
	return nil
}

func (tx *Tx) rollback() {
	for i := len(tx.log) - 1; i >= 0; i-- {
		tx.log[i]()
	}
	tx.log = nil
}

func key(e Entity) rowKey {
	return rowKey{t: reflect.TypeOf(e), id: e.RecordID()}
}
