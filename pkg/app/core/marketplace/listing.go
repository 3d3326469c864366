package marketplace

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Owner is the buyer of a listing, or none while the listing is unsold.
// The zero value is NoOwner. It never uses the zero address as a marker.
type Owner struct {
	addr common.Address
	set  bool
}

// NoOwner marks an unsold listing
var NoOwner = Owner{}

// OwnedBy returns an Owner holding addr
func OwnedBy(addr common.Address) Owner {
	return Owner{addr: addr, set: true}
}

// Get returns the owner address and whether there is one
func (o Owner) Get() (common.Address, bool) {
	return o.addr, o.set
}

func (o Owner) IsNone() bool { return !o.set }

// Is reports whether the owner is exactly addr
func (o Owner) Is(addr common.Address) bool {
	return o.set && o.addr == addr
}

func (o Owner) String() string {
	if !o.set {
		return "none"
	}
	return o.addr.Hex()
}

// MarshalJSON encodes NoOwner as null and anything else as a hex address
func (o Owner) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.addr)
}

func (o *Owner) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = NoOwner
		return nil
	}
	var addr common.Address
	if err := json.Unmarshal(data, &addr); err != nil {
		return fmt.Errorf("invalid owner: %w", err)
	}
	*o = OwnedBy(addr)
	return nil
}

// Listing is one asset offered for sale at a fixed price.
// Listings are never deleted; a sold listing keeps its record with Owner set.
type Listing struct {
	ID          uint64         `json:"id"`
	RegistryRef common.Address `json:"registry"`
	AssetID     uint64         `json:"asset_id"`
	Seller      common.Address `json:"seller"`
	Owner       Owner          `json:"owner"`
	Price       uint64         `json:"price"`
	Fee         uint64         `json:"fee"` // listing fee retained until sale
	CreatedAt   uint64         `json:"created_at"`
	SoldAt      uint64         `json:"sold_at,omitempty"`
}

// Sold reports whether the listing has a buyer
func (l *Listing) Sold() bool { return !l.Owner.IsNone() }

// ListingCreated is returned synchronously by CreateListing so that callers
// learn the assigned id without a separate query
type ListingCreated struct {
	ListingID   uint64         `json:"listing_id"`
	RegistryRef common.Address `json:"registry"`
	AssetID     uint64         `json:"asset_id"`
	Seller      common.Address `json:"seller"`
	Owner       Owner          `json:"owner"`
	Price       uint64         `json:"price"`
}

// ListingSold is returned by ExecuteSale
type ListingSold struct {
	ListingID   uint64         `json:"listing_id"`
	RegistryRef common.Address `json:"registry"`
	AssetID     uint64         `json:"asset_id"`
	Seller      common.Address `json:"seller"`
	Buyer       common.Address `json:"buyer"`
	Price       uint64         `json:"price"`
	Fee         uint64         `json:"fee"`
}

// Stats summarizes ledger counters and configuration
type Stats struct {
	Address    common.Address `json:"address"`
	Operator   common.Address `json:"operator"`
	ListingFee uint64         `json:"listing_fee"`
	Created    uint64         `json:"created"`
	Sold       uint64         `json:"sold"`
}

// Unsold returns the number of listings without a buyer
func (s Stats) Unsold() uint64 { return s.Created - s.Sold }
