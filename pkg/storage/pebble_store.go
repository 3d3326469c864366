package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrClosed is returned when a transaction is used after Commit or Discard
var ErrClosed = errors.New("storage: transaction closed")

// Reader is the read side shared by transactions and snapshot views
type Reader interface {
	// Get returns a copy of the value stored at key.
	// ok is false when the key does not exist.
	Get(key []byte) (value []byte, ok bool, err error)

	// Scan visits every key with the given prefix in ascending order.
	// key and value are only valid for the duration of the callback.
	// Returning false from fn stops the scan.
	Scan(prefix []byte, fn func(key, value []byte) bool) error
}

// Writer is a Reader that can stage mutations
type Writer interface {
	Reader
	Set(key, value []byte)
	Delete(key []byte)
}

// State is a Writer with nested rollback points.
// Application code executes every transaction against a State.
type State interface {
	Writer
	Snapshot() int
	RevertToSnapshot(id int)
}

// DB wraps a Pebble database holding all ledger state and blocks
type DB struct {
	db *pebble.DB
}

// Open opens a Pebble database at the given path
func Open(path string) (*DB, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize: 32 << 20,                  // 32MB memtable
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

// OpenInMemory opens a Pebble database backed by an in-memory filesystem.
// Used by tests and ephemeral nodes.
func OpenInMemory() (*DB, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Begin starts a read-write transaction over the current committed state
func (d *DB) Begin() *Tx {
	return newTx(d.db, d.db.NewSnapshot())
}

// View returns a read-only, point-in-time view of committed state.
// Callers must Close it.
func (d *DB) View() *View {
	return &View{snap: d.db.NewSnapshot()}
}

// Get reads a committed key directly
func (d *DB) Get(key []byte) ([]byte, bool, error) {
	return get(d.db, key)
}

// Scan iterates committed keys directly
func (d *DB) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	return scan(d.db, prefix, fn)
}

// put writes a single key durably, outside of any transaction
func (d *DB) put(key, value []byte) error {
	if err := d.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

func get(r pebble.Reader, key []byte) ([]byte, bool, error) {
	val, closer, err := r.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

func scan(r pebble.Reader, prefix []byte, fn func(key, value []byte) bool) error {
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

var (
	_ Reader = (*DB)(nil)
	_ Reader = (*View)(nil)
	_ State  = (*Tx)(nil)
)
