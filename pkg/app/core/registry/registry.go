// Package registry is the asset registry: a non-fungible token ledger where
// every asset has exactly one owner and at most one approved operator.
//
// Transfer rules follow ERC-721 transferFrom:
//
//	owners[id] == from && (caller == from || approved[id] == caller || operators[from][caller])
//
// Approval is cleared on every transfer.
package registry

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/app/core/hook"
	"github.com/uhyunpark/hypermarket/pkg/storage"
)

var (
	ErrUnknownAsset = errors.New("unknown asset")
	ErrNotOwner     = errors.New("from is not the asset owner")
	ErrUnauthorized = errors.New("caller is not owner or approved operator")
	ErrZeroAddress  = errors.New("zero address")
)

// Asset is one registry entry
type Asset struct {
	ID       uint64         `json:"id"`
	Owner    common.Address `json:"owner"`
	Approved common.Address `json:"approved"` // zero = none
	URI      string         `json:"uri,omitempty"`
	Minter   common.Address `json:"minter"`
}

// Registry is the asset registry bound to a fixed address.
// The address identifies the registry inside listings and asset hooks.
type Registry struct {
	addr  common.Address
	hooks *hook.Registry
}

func New(addr common.Address, hooks *hook.Registry) *Registry {
	return &Registry{addr: addr, hooks: hooks}
}

// Address returns the registry reference stored in listings
func (r *Registry) Address() common.Address { return r.addr }

// Get returns an asset record
func (r *Registry) Get(rd storage.Reader, assetID uint64) (*Asset, error) {
	var a Asset
	ok, err := storage.GetJSON(rd, assetKey(assetID), &a)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset %d: %w", assetID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAsset, assetID)
	}
	return &a, nil
}

// OwnerOf returns the current owner of an asset
func (r *Registry) OwnerOf(rd storage.Reader, assetID uint64) (common.Address, error) {
	a, err := r.Get(rd, assetID)
	if err != nil {
		return common.Address{}, err
	}
	return a.Owner, nil
}

// Mint creates a new asset owned by owner. Ids start at 1.
func (r *Registry) Mint(st storage.State, owner common.Address, uri string) (uint64, error) {
	if owner == (common.Address{}) {
		return 0, ErrZeroAddress
	}
	last, err := storage.GetUint64(st, keyAssetSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to read asset sequence: %w", err)
	}
	id := last + 1
	a := &Asset{ID: id, Owner: owner, URI: uri, Minter: owner}
	if err := storage.PutJSON(st, assetKey(id), a); err != nil {
		return 0, err
	}
	storage.PutUint64(st, keyAssetSeq, id)
	return id, nil
}

// Approve authorizes operator to move a single asset on the owner's behalf.
// Passing the zero address clears the approval.
func (r *Registry) Approve(st storage.State, caller common.Address, assetID uint64, operator common.Address) error {
	a, err := r.Get(st, assetID)
	if err != nil {
		return err
	}
	if a.Owner != caller && !r.IsOperatorForAll(st, a.Owner, caller) {
		return fmt.Errorf("%w: %s cannot approve asset %d", ErrUnauthorized, caller.Hex(), assetID)
	}
	a.Approved = operator
	return storage.PutJSON(st, assetKey(assetID), a)
}

// SetApprovalForAll authorizes or revokes operator for every asset of owner
func (r *Registry) SetApprovalForAll(st storage.State, owner, operator common.Address, approved bool) {
	if approved {
		st.Set(operatorKey(owner, operator), []byte{1})
	} else {
		st.Delete(operatorKey(owner, operator))
	}
}

// IsOperatorForAll reports whether operator may move every asset of owner
func (r *Registry) IsOperatorForAll(rd storage.Reader, owner, operator common.Address) bool {
	_, ok, err := rd.Get(operatorKey(owner, operator))
	return err == nil && ok
}

// TransferCustody moves an asset from `from` to `to` on behalf of caller,
// then runs the recipient's asset hook. A failing hook reverts the transfer.
func (r *Registry) TransferCustody(st storage.State, caller common.Address, assetID uint64, from, to common.Address) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	snap := st.Snapshot()

	a, err := r.Get(st, assetID)
	if err != nil {
		return err
	}
	if a.Owner != from {
		return fmt.Errorf("%w: asset %d owned by %s", ErrNotOwner, assetID, a.Owner.Hex())
	}
	if caller != from && a.Approved != caller && !r.IsOperatorForAll(st, from, caller) {
		return fmt.Errorf("%w: %s on asset %d", ErrUnauthorized, caller.Hex(), assetID)
	}

	a.Owner = to
	a.Approved = common.Address{}
	if err := storage.PutJSON(st, assetKey(assetID), a); err != nil {
		st.RevertToSnapshot(snap)
		return err
	}

	if err := r.hooks.NotifyAsset(st, from, to, r.addr, assetID); err != nil {
		st.RevertToSnapshot(snap)
		return fmt.Errorf("asset %d rejected by %s: %w", assetID, to.Hex(), err)
	}
	return nil
}

// AssetsOf lists the assets currently owned by owner, ascending by id
func (r *Registry) AssetsOf(rd storage.Reader, owner common.Address) ([]*Asset, error) {
	var out []*Asset
	var decodeErr error
	err := rd.Scan([]byte(prefixAsset), func(key, value []byte) bool {
		if _, ok := storage.Uint64FromKey(prefixAsset, key); !ok {
			return true
		}
		var a Asset
		if err := storage.DecodeJSON(value, &a); err != nil {
			decodeErr = err
			return false
		}
		if a.Owner == owner {
			out = append(out, &a)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}
