// Package txn provides the undo log that makes every engine command
// all-or-nothing. Components mutate state through a *Tx; on failure the
// recorded inverse operations run newest-first and buffered events are
// discarded.
package txn

import (
	"PerpClearing/internal/event"
)

// Tx is a single-command transaction. Not thread-safe: it lives for the
// duration of one command inside the serialised engine.
type Tx struct {
	Now    int64 // command timestamp, unix seconds
	undo   []func()
	events []event.Event
	done   bool
}

// Begin opens a transaction stamped with the command time.
func Begin(now int64) *Tx {
	return &Tx{Now: now}
}

// OnRollback registers an inverse operation.
func (tx *Tx) OnRollback(fn func()) {
	tx.undo = append(tx.undo, fn)
}

// Emit buffers an event until commit.
func (tx *Tx) Emit(e event.Event) {
	tx.events = append(tx.events, e)
}

// Rollback restores every recorded mutation in reverse order.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.events = nil
	tx.done = true
}

// Commit drops the undo log and returns the buffered events in emission order.
func (tx *Tx) Commit() []event.Event {
	if tx.done {
		return nil
	}
	events := tx.events
	tx.undo = nil
	tx.events = nil
	tx.done = true
	return events
}

// Pending returns the number of buffered events.
func (tx *Tx) Pending() int {
	return len(tx.events)
}

// Set assigns v to *p and records the previous value.
func Set[T any](tx *Tx, p *T, v T) {
	prev := *p
	tx.OnRollback(func() { *p = prev })
	*p = v
}

// Put writes m[k] = v and records the previous entry (or its absence).
func Put[K comparable, V any](tx *Tx, m map[K]V, k K, v V) {
	prev, existed := m[k]
	tx.OnRollback(func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

// Delete removes m[k] and records the previous entry.
func Delete[K comparable, V any](tx *Tx, m map[K]V, k K) {
	prev, existed := m[k]
	if !existed {
		return
	}
	tx.OnRollback(func() { m[k] = prev })
	delete(m, k)
}
