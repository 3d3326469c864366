package storage

import "github.com/cockroachdb/pebble"

// View is a read-only snapshot of committed state.
// Reads from a View are unaffected by later commits.
type View struct {
	snap *pebble.Snapshot
}

func (v *View) Get(key []byte) ([]byte, bool, error) {
	return get(v.snap, key)
}

func (v *View) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	return scan(v.snap, prefix, fn)
}

func (v *View) Close() error {
	return v.snap.Close()
}
