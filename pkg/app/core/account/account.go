package account

import (
	"github.com/ethereum/go-ethereum/common"
)

const prefixAccount = "acc:"

// Account holds the native payment balance of an address. Listing fees,
// sale payments and seller proceeds all move between these balances.
type Account struct {
	Address common.Address `json:"address"`
	Balance uint64         `json:"balance"`
	Nonce   uint64         `json:"nonce"` // last accepted tx nonce
}

func NewAccount(addr common.Address) *Account {
	return &Account{Address: addr}
}

// accountKey is "acc:" followed by the checksummed address
func accountKey(addr common.Address) []byte {
	return append([]byte(prefixAccount), addr.Hex()...)
}
