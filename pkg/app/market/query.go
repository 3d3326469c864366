package market

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/app/core/account"
	"github.com/uhyunpark/hypermarket/pkg/app/core/marketplace"
	"github.com/uhyunpark/hypermarket/pkg/app/core/registry"
	"github.com/uhyunpark/hypermarket/pkg/storage"
)

// Queries read the last committed block through a pebble snapshot.
// They never block on block execution.

func (a *App) LastBlock() (LastBlock, error) {
	v := a.db.View()
	defer v.Close()
	var last LastBlock
	_, err := storage.GetJSON(v, keyLastBlock, &last)
	return last, err
}

func (a *App) MempoolSize() int { return a.mempool.Len() }

func (a *App) Stats() (marketplace.Stats, error) {
	v := a.db.View()
	defer v.Close()
	return a.ledger.Stats(v)
}

func (a *App) GetListing(id uint64) (*marketplace.Listing, error) {
	v := a.db.View()
	defer v.Close()
	return a.ledger.GetListing(v, id)
}

func (a *App) ListUnsold() ([]*marketplace.Listing, error) {
	v := a.db.View()
	defer v.Close()
	return marketplace.Collect(a.ledger.ListUnsold(v))
}

// UnsoldAt returns the unsold catalog together with the block it was
// read at. Both come from one snapshot.
func (a *App) UnsoldAt() (LastBlock, []*marketplace.Listing, error) {
	v := a.db.View()
	defer v.Close()
	var last LastBlock
	if _, err := storage.GetJSON(v, keyLastBlock, &last); err != nil {
		return LastBlock{}, nil, err
	}
	listings, err := marketplace.Collect(a.ledger.ListUnsold(v))
	return last, listings, err
}

func (a *App) ListOwnedBy(party common.Address) ([]*marketplace.Listing, error) {
	v := a.db.View()
	defer v.Close()
	return marketplace.Collect(a.ledger.ListOwnedBy(v, party))
}

func (a *App) ListBySeller(seller common.Address) ([]*marketplace.Listing, error) {
	v := a.db.View()
	defer v.Close()
	return marketplace.Collect(a.ledger.ListBySeller(v, seller))
}

func (a *App) Account(addr common.Address) (*account.Account, error) {
	v := a.db.View()
	defer v.Close()
	return a.accounts.GetAccount(v, addr)
}

func (a *App) Asset(id uint64) (*registry.Asset, error) {
	v := a.db.View()
	defer v.Close()
	return a.registry.Get(v, id)
}

func (a *App) AssetsOf(owner common.Address) ([]*registry.Asset, error) {
	v := a.db.View()
	defer v.Close()
	return a.registry.AssetsOf(v, owner)
}

// Receipt returns the receipt of an executed transaction
func (a *App) Receipt(hash common.Hash) (*Receipt, bool, error) {
	v := a.db.View()
	defer v.Close()
	var rc Receipt
	ok, err := storage.GetJSON(v, receiptKey(hash), &rc)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &rc, true, nil
}
