package market

import (
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/app/core/account"
	"github.com/uhyunpark/hypermarket/pkg/app/core/marketplace"
	"github.com/uhyunpark/hypermarket/pkg/app/core/registry"
	"github.com/uhyunpark/hypermarket/pkg/app/core/transaction"
	"github.com/uhyunpark/hypermarket/pkg/crypto"
)

// StateReader is the committed state the generator plans against
type StateReader interface {
	Account(addr common.Address) (*account.Account, error)
	AssetsOf(owner common.Address) ([]*registry.Asset, error)
	ListUnsold() ([]*marketplace.Listing, error)
}

// SignedTxGenerator creates signed marketplace traffic for dev nodes.
// Traders fund themselves through the open faucet, mint, approve the
// ledger, list, and buy each other's listings.
type SignedTxGenerator struct {
	signers []*crypto.Signer // Keypairs for simulated traders
	nonces  map[common.Address]uint64
	rng     *rand.Rand
	domain  crypto.EIP712Domain
	ledger  common.Address
	fee     uint64

	TopUp    uint64 // faucet amount when a trader runs low
	MaxPrice uint64
}

// NewSignedTxGenerator creates numAccounts fresh traders
func NewSignedTxGenerator(numAccounts int, domain crypto.EIP712Domain, ledger marketplace.Config) *SignedTxGenerator {
	signers := make([]*crypto.Signer, 0, numAccounts)
	for i := 0; i < numAccounts; i++ {
		signer, err := crypto.GenerateKey()
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	return &SignedTxGenerator{
		signers:  signers,
		nonces:   make(map[common.Address]uint64),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		domain:   domain,
		ledger:   ledger.Address,
		fee:      ledger.ListingFee,
		TopUp:    10_000,
		MaxPrice: 1_000,
	}
}

// GenerateBatch returns up to n transactions, at most one per trader so
// that nonces reach the chain in order
func (g *SignedTxGenerator) GenerateBatch(state StateReader, n int) [][]byte {
	if n > len(g.signers) {
		n = len(g.signers)
	}
	unsold, _ := state.ListUnsold()

	out := make([][]byte, 0, n)
	for _, i := range g.rng.Perm(len(g.signers))[:n] {
		if tx := g.next(state, g.signers[i], unsold); tx != nil {
			out = append(out, tx)
		}
	}
	return out
}

func (g *SignedTxGenerator) next(state StateReader, s *crypto.Signer, unsold []*marketplace.Listing) []byte {
	addr := s.Address()
	acc, err := state.Account(addr)
	if err != nil {
		return nil
	}
	if acc.Balance < g.MaxPrice+g.fee {
		return g.sign(s, transaction.NewDeposit(addr, addr, g.TopUp, g.nonce(addr)))
	}

	// buy roughly half of the time when there is something to buy
	if len(unsold) > 0 && g.rng.Intn(2) == 0 {
		lst := unsold[g.rng.Intn(len(unsold))]
		if lst.Seller != addr && lst.Price <= acc.Balance {
			return g.sign(s, transaction.NewBuy(addr, lst.ID, lst.Price, g.nonce(addr)))
		}
	}

	assets, err := state.AssetsOf(addr)
	if err != nil {
		return nil
	}
	if len(assets) == 0 {
		return g.sign(s, transaction.NewMint(addr, "ipfs://demo", g.nonce(addr)))
	}
	a := assets[g.rng.Intn(len(assets))]
	if a.Approved != g.ledger {
		return g.sign(s, transaction.NewApprove(addr, a.ID, g.ledger, g.nonce(addr)))
	}
	price := uint64(g.rng.Int63n(int64(g.MaxPrice))) + 1
	return g.sign(s, transaction.NewList(addr, a.ID, price, g.fee, g.nonce(addr)))
}

func (g *SignedTxGenerator) nonce(addr common.Address) uint64 {
	g.nonces[addr]++
	return g.nonces[addr]
}

func (g *SignedTxGenerator) sign(s *crypto.Signer, tx *transaction.SignedTransaction) []byte {
	if err := transaction.Sign(g.domain, s, tx); err != nil {
		return nil
	}
	b, err := tx.Serialize()
	if err != nil {
		return nil
	}
	return b
}

// GetSigners returns all signers (for testing/debugging)
func (g *SignedTxGenerator) GetSigners() []*crypto.Signer {
	return g.signers
}
