package marketplace

import "github.com/uhyunpark/hypermarket/pkg/storage"

// Key prefixes
const (
	prefixListing = "lst:"
)

var (
	keyConfig  = []byte("ledger/config")
	keyCreated = []byte("ledger/created") // highest assigned listing id
	keySold    = []byte("ledger/sold")
)

// listingKey returns the key for a listing
// Format: "lst:{id as 8 big-endian bytes}" so a prefix scan yields ascending ids
func listingKey(id uint64) []byte {
	return storage.Uint64Key(prefixListing, id)
}
