package transaction

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

func u(v uint64) string { return strconv.FormatUint(v, 10) }

// NewDeposit builds an unsigned deposit transaction
func NewDeposit(signer, to common.Address, amount, nonce uint64) *SignedTransaction {
	return &SignedTransaction{Type: TxTypeDeposit, Deposit: &DepositPayload{
		Signer: signer.Hex(), To: to.Hex(), Amount: u(amount), Nonce: u(nonce),
	}}
}

// NewMint builds an unsigned mint transaction
func NewMint(owner common.Address, uri string, nonce uint64) *SignedTransaction {
	return &SignedTransaction{Type: TxTypeMint, Mint: &MintPayload{
		Owner: owner.Hex(), URI: uri, Nonce: u(nonce),
	}}
}

// NewApprove builds an unsigned approve transaction
func NewApprove(owner common.Address, assetID uint64, operator common.Address, nonce uint64) *SignedTransaction {
	return &SignedTransaction{Type: TxTypeApprove, Approve: &ApprovePayload{
		Owner: owner.Hex(), AssetID: u(assetID), Operator: operator.Hex(), Nonce: u(nonce),
	}}
}

// NewList builds an unsigned listing transaction
func NewList(seller common.Address, assetID, price, fee, nonce uint64) *SignedTransaction {
	return &SignedTransaction{Type: TxTypeList, List: &ListPayload{
		Seller: seller.Hex(), AssetID: u(assetID), Price: u(price), Fee: u(fee), Nonce: u(nonce),
	}}
}

// NewBuy builds an unsigned purchase transaction
func NewBuy(buyer common.Address, listingID, payment, nonce uint64) *SignedTransaction {
	return &SignedTransaction{Type: TxTypeBuy, Buy: &BuyPayload{
		Buyer: buyer.Hex(), ListingID: u(listingID), Payment: u(payment), Nonce: u(nonce),
	}}
}
