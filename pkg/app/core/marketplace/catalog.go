package marketplace

import (
	"fmt"
	"iter"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/storage"
)

// Catalog queries never mutate. Pass a storage.View to read a consistent
// committed snapshot; each range over a returned sequence rescans it.

// GetListing returns the listing with the given id.
// Ids that were never assigned return ErrNotFound.
func (l *Ledger) GetListing(r storage.Reader, id uint64) (*Listing, error) {
	listing, ok, err := l.load(r, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return listing, nil
}

// ListUnsold yields every listing without a buyer, ascending by id
func (l *Ledger) ListUnsold(r storage.Reader) iter.Seq2[*Listing, error] {
	return scanListings(r, func(lst *Listing) bool {
		return !lst.Sold()
	})
}

// ListOwnedBy yields every listing bought by party, ascending by id
func (l *Ledger) ListOwnedBy(r storage.Reader, party common.Address) iter.Seq2[*Listing, error] {
	return scanListings(r, func(lst *Listing) bool {
		return lst.Owner.Is(party)
	})
}

// ListBySeller yields every listing created by seller, ascending by id
func (l *Ledger) ListBySeller(r storage.Reader, seller common.Address) iter.Seq2[*Listing, error] {
	return scanListings(r, func(lst *Listing) bool {
		return lst.Seller == seller
	})
}

// Stats returns the ledger counters
func (l *Ledger) Stats(r storage.Reader) (Stats, error) {
	created, err := storage.GetUint64(r, keyCreated)
	if err != nil {
		return Stats{}, err
	}
	sold, err := storage.GetUint64(r, keySold)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Address:    l.cfg.Address,
		Operator:   l.cfg.Operator,
		ListingFee: l.cfg.ListingFee,
		Created:    created,
		Sold:       sold,
	}, nil
}

func scanListings(r storage.Reader, match func(*Listing) bool) iter.Seq2[*Listing, error] {
	return func(yield func(*Listing, error) bool) {
		stopped := false
		err := r.Scan([]byte(prefixListing), func(key, value []byte) bool {
			var lst Listing
			if err := storage.DecodeJSON(value, &lst); err != nil {
				stopped = true
				yield(nil, err)
				return false
			}
			if !match(&lst) {
				return true
			}
			if !yield(&lst, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

// Collect drains a listing sequence into a slice
func Collect(seq iter.Seq2[*Listing, error]) ([]*Listing, error) {
	var out []*Listing
	for lst, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, lst)
	}
	return out, nil
}
