package storage

import "encoding/binary"

// Key schema
//
// Ledger state (owned by the app packages, listed here to avoid collisions):
//   acc:<address>        → account balance and nonce (JSON)
//   asset:<id>           → registry asset record (JSON)
//   asset-op:<own>:<op>  → operator-for-all grant
//   asset/seq            → last minted asset id
//   lst:<id>             → listing (JSON)
//   ledger/*             → ledger counters and config
//   rcpt:<hash>          → tx receipt (JSON)
//   app/last             → last finalized height and app hash (JSON)
//   app/h/<height>       → app hash and block digest per executed height (JSON)
//
// Chain:
//   blk:<height>         → block (gob)
//   cm                   → last committed height

// KeyUpperBound returns the exclusive upper bound for a prefix scan.
// Example: prefix "lst:" -> upper bound "lst;"
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff: no upper bound
}

// Uint64Key appends a big-endian id to a prefix so that ids sort numerically
func Uint64Key(prefix string, id uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], id)
	return k
}

// Uint64FromKey extracts the id written by Uint64Key
func Uint64FromKey(prefix string, key []byte) (uint64, bool) {
	if len(key) != len(prefix)+8 || string(key[:len(prefix)]) != prefix {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(prefix):]), true
}
