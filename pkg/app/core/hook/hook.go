// Package hook lets addresses react synchronously to incoming payments and
// assets. A receiver runs inside the sender's state transaction and may call
// back into any ledger component; returning an error aborts the transfer
// that triggered it.
package hook

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/storage"
)

// Receiver is implemented by addresses with custom receive logic
type Receiver interface {
	OnPaymentReceived(st storage.State, from common.Address, amount uint64) error
	OnAssetReceived(st storage.State, from common.Address, registry common.Address, assetID uint64) error
}

// Registry maps addresses to their receivers.
// Addresses without a receiver accept everything.
type Registry struct {
	mu        sync.RWMutex
	receivers map[common.Address]Receiver
}

func NewRegistry() *Registry {
	return &Registry{receivers: make(map[common.Address]Receiver)}
}

func (r *Registry) Register(addr common.Address, rc Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receivers[addr] = rc
}

func (r *Registry) Unregister(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.receivers, addr)
}

func (r *Registry) lookup(addr common.Address) (Receiver, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.receivers[addr]
	return rc, ok
}

// NotifyPayment runs the payment hook of `to`, if any
func (r *Registry) NotifyPayment(st storage.State, from, to common.Address, amount uint64) error {
	rc, ok := r.lookup(to)
	if !ok {
		return nil
	}
	return rc.OnPaymentReceived(st, from, amount)
}

// NotifyAsset runs the asset hook of `to`, if any
func (r *Registry) NotifyAsset(st storage.State, from, to, registry common.Address, assetID uint64) error {
	rc, ok := r.lookup(to)
	if !ok {
		return nil
	}
	return rc.OnAssetReceived(st, from, registry, assetID)
}

// Funcs adapts plain functions to a Receiver. Nil fields accept.
type Funcs struct {
	Payment func(st storage.State, from common.Address, amount uint64) error
	Asset   func(st storage.State, from, registry common.Address, assetID uint64) error
}

func (f Funcs) OnPaymentReceived(st storage.State, from common.Address, amount uint64) error {
	if f.Payment == nil {
		return nil
	}
	return f.Payment(st, from, amount)
}

func (f Funcs) OnAssetReceived(st storage.State, from, registry common.Address, assetID uint64) error {
	if f.Asset == nil {
		return nil
	}
	return f.Asset(st, from, registry, assetID)
}
