package registry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/storage"
)

// Key prefixes
const (
	prefixAsset    = "asset:"
	prefixOperator = "asset-op:"
)

var keyAssetSeq = []byte("asset/seq")

// assetKey returns the key for an asset
// Format: "asset:{id as 8 big-endian bytes}"
func assetKey(id uint64) []byte {
	return storage.Uint64Key(prefixAsset, id)
}

// operatorKey returns the key for an operator-for-all grant
// Format: "asset-op:{owner}:{operator}"
func operatorKey(owner, operator common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOperator, owner.Hex(), operator.Hex()))
}
