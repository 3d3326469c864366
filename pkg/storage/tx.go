package storage

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/pebble"
)

// Tx is a read-write transaction: a write overlay on top of a Pebble snapshot.
//
// Every mutation is journaled so that nested call frames can take a
// Snapshot and roll back to it without touching the rest of the overlay.
// Nothing reaches the database until Commit, which writes the whole
// overlay in a single atomic batch.
//
// A Tx is not safe for concurrent use.
type Tx struct {
	db      *pebble.DB
	snap    *pebble.Snapshot
	overlay map[string]entry
	journal []change
	closed  bool
}

type entry struct {
	value   []byte
	deleted bool
}

// change records the overlay state of a key before a mutation
type change struct {
	key     string
	prev    entry
	hadPrev bool
}

func newTx(db *pebble.DB, snap *pebble.Snapshot) *Tx {
	return &Tx{
		db:      db,
		snap:    snap,
		overlay: make(map[string]entry),
	}
}

// Get returns the value visible to this transaction
func (t *Tx) Get(key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, ErrClosed
	}
	if e, ok := t.overlay[string(key)]; ok {
		if e.deleted {
			return nil, false, nil
		}
		out := make([]byte, len(e.value))
		copy(out, e.value)
		return out, true, nil
	}
	return get(t.snap, key)
}

// Set stages a write
func (t *Tx) Set(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	t.record(string(key))
	t.overlay[string(key)] = entry{value: v}
}

// Delete stages a deletion
func (t *Tx) Delete(key []byte) {
	t.record(string(key))
	t.overlay[string(key)] = entry{deleted: true}
}

func (t *Tx) record(key string) {
	if t.closed {
		panic(ErrClosed)
	}
	prev, ok := t.overlay[key]
	t.journal = append(t.journal, change{key: key, prev: prev, hadPrev: ok})
}

// Snapshot returns an identifier for the current overlay state
func (t *Tx) Snapshot() int {
	return len(t.journal)
}

// RevertToSnapshot undoes every mutation made after the given snapshot
func (t *Tx) RevertToSnapshot(id int) {
	if id < 0 || id > len(t.journal) {
		panic(fmt.Sprintf("storage: invalid snapshot id %d (journal length %d)", id, len(t.journal)))
	}
	for i := len(t.journal) - 1; i >= id; i-- {
		c := t.journal[i]
		if c.hadPrev {
			t.overlay[c.key] = c.prev
		} else {
			delete(t.overlay, c.key)
		}
	}
	t.journal = t.journal[:id]
}

// Scan merges the overlay with the underlying snapshot.
// Keys are visited in ascending byte order; staged deletions are hidden.
func (t *Tx) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	if t.closed {
		return ErrClosed
	}

	p := string(prefix)
	var pending []string
	for k := range t.overlay {
		if strings.HasPrefix(k, p) {
			pending = append(pending, k)
		}
	}
	sort.Strings(pending)

	// emit overlay keys that sort before limit; returns false if fn stopped
	stopped := false
	flush := func(limit []byte) {
		for len(pending) > 0 && !stopped {
			k := pending[0]
			if limit != nil && bytes.Compare([]byte(k), limit) >= 0 {
				return
			}
			pending = pending[1:]
			if e := t.overlay[k]; !e.deleted {
				if !fn([]byte(k), e.value) {
					stopped = true
				}
			}
		}
	}

	err := scan(t.snap, prefix, func(key, value []byte) bool {
		flush(key)
		if stopped {
			return false
		}
		if e, ok := t.overlay[string(key)]; ok {
			// overlay shadows the snapshot; flush already consumed it only if < key
			if len(pending) > 0 && pending[0] == string(key) {
				pending = pending[1:]
			}
			if e.deleted {
				return true
			}
			if !fn(key, e.value) {
				stopped = true
				return false
			}
			return true
		}
		if !fn(key, value) {
			stopped = true
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	flush(nil)
	return nil
}

// Commit writes the overlay atomically and closes the transaction
func (t *Tx) Commit() error {
	if t.closed {
		return ErrClosed
	}
	defer t.release()

	if len(t.overlay) == 0 {
		return nil
	}

	batch := t.db.NewBatch()
	defer batch.Close()
	for k, e := range t.overlay {
		var err error
		if e.deleted {
			err = batch.Delete([]byte(k), nil)
		} else {
			err = batch.Set([]byte(k), e.value, nil)
		}
		if err != nil {
			return fmt.Errorf("failed to stage key %q: %w", k, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Discard drops all staged mutations. Safe to call after Commit.
func (t *Tx) Discard() {
	if t.closed {
		return
	}
	t.release()
}

// Dirty reports whether the transaction has staged mutations
func (t *Tx) Dirty() bool {
	return len(t.overlay) > 0
}

func (t *Tx) release() {
	t.closed = true
	t.overlay = nil
	t.journal = nil
	_ = t.snap.Close()
}
