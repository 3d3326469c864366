package market

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/abci"
	"github.com/uhyunpark/hypermarket/pkg/app/core/account"
	"github.com/uhyunpark/hypermarket/pkg/app/core/marketplace"
	"github.com/uhyunpark/hypermarket/pkg/app/core/registry"
	"github.com/uhyunpark/hypermarket/pkg/app/core/transaction"
)

var (
	ErrInvalidTx    = errors.New("invalid transaction")
	ErrUnauthorized = errors.New("signer not authorized for this operation")
)

// Transaction-level codes. Ledger operations report marketplace codes.
const (
	CodeInvalidTx       = "invalid_tx"
	CodeBadSignature    = "bad_signature"
	CodeBadNonce        = "bad_nonce"
	CodeDuplicate       = "duplicate"
	CodeUnauthorized    = "unauthorized"
	CodeUnknownAsset    = "unknown_asset"
	CodeNotOwner        = "not_owner"
	CodeInvalidAmount   = "invalid_amount"
	CodeBalanceOverflow = "balance_overflow"
)

// Event types
const (
	EventDeposit        = "deposit"
	EventAssetMinted    = "asset_minted"
	EventAssetApproved  = "asset_approved"
	EventListingCreated = "listing_created"
	EventListingSold    = "listing_sold"
)

// Receipt is the stored outcome of one transaction
type Receipt struct {
	TxHash common.Hash        `json:"tx_hash"`
	Height uint64             `json:"height"`
	Index  int                `json:"index"`
	Type   transaction.TxType `json:"type,omitempty"`
	From   common.Address     `json:"from"`
	Code   string             `json:"code"`
	Error  string             `json:"error,omitempty"`
	Events []abci.Event       `json:"events,omitempty"`
}

func (r *Receipt) OK() bool { return r.Code == marketplace.CodeOK }

func (r *Receipt) fail(code string, err error) *Receipt {
	r.Code = code
	r.Error = err.Error()
	return r
}

// Result converts the receipt to a block execution result
func (r *Receipt) Result() abci.ExecTxResult {
	return abci.ExecTxResult{Code: r.Code, Log: r.Error, Events: r.Events}
}

type DepositEvent struct {
	To     common.Address `json:"to"`
	Amount uint64         `json:"amount"`
}

type AssetMintedEvent struct {
	AssetID uint64         `json:"asset_id"`
	Owner   common.Address `json:"owner"`
	URI     string         `json:"uri"`
}

type AssetApprovedEvent struct {
	AssetID  uint64         `json:"asset_id"`
	Owner    common.Address `json:"owner"`
	Operator common.Address `json:"operator"`
}

var appCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidTx, CodeInvalidTx},
	{ErrUnauthorized, CodeUnauthorized},
	{registry.ErrUnauthorized, CodeUnauthorized},
	{registry.ErrNotOwner, CodeNotOwner},
	{registry.ErrUnknownAsset, CodeUnknownAsset},
	{registry.ErrZeroAddress, CodeInvalidTx},
	{account.ErrInvalidAmount, CodeInvalidAmount},
	{account.ErrBalanceOverflow, CodeBalanceOverflow},
	{account.ErrInsufficientFunds, marketplace.CodeInsufficientFunds},
}

// codeOf maps an execution error to a receipt code.
// Ledger errors take precedence over the errors they wrap.
func codeOf(err error) string {
	if c := marketplace.Code(err); c != marketplace.CodeInternal {
		return c
	}
	for _, c := range appCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return marketplace.CodeInternal
}
