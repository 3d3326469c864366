package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/abci"
	"github.com/uhyunpark/hypermarket/pkg/app/core/marketplace"
	"github.com/uhyunpark/hypermarket/pkg/app/core/transaction"
	"github.com/uhyunpark/hypermarket/pkg/crypto"
	"github.com/uhyunpark/hypermarket/pkg/storage"
)

// applyTx runs one raw transaction against the block state.
//
// Parsing, signature and nonce checks come first. Once the nonce is
// consumed it stays consumed: a failed operation is reverted to the
// snapshot taken after the nonce update.
func (a *App) applyTx(st *storage.Tx, height uint64, index int, raw []byte) *Receipt {
	rc := &Receipt{TxHash: crypto.TxHash(raw), Height: height, Index: index}

	if _, ok, err := st.Get(receiptKey(rc.TxHash)); err == nil && ok {
		return rc.fail(CodeDuplicate, fmt.Errorf("tx %s already executed", rc.TxHash.Hex()))
	}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return rc.fail(CodeInvalidTx, err)
	}
	rc.Type = tx.Type

	from, err := a.verifier.Verify(tx)
	if err != nil {
		return rc.fail(CodeBadSignature, err)
	}
	rc.From = from

	p, err := tx.Payload()
	if err != nil {
		return rc.fail(CodeInvalidTx, err)
	}
	nonce, err := p.NonceValue()
	if err != nil {
		return rc.fail(CodeInvalidTx, err)
	}
	if err := a.accounts.UseNonce(st, from, nonce); err != nil {
		return rc.fail(CodeBadNonce, err)
	}

	snap := st.Snapshot()
	events, err := a.execute(st, tx, from, height)
	if err != nil {
		st.RevertToSnapshot(snap)
		return rc.fail(codeOf(err), err)
	}
	rc.Code = marketplace.CodeOK
	rc.Events = events
	return rc
}

func (a *App) execute(st storage.State, tx *transaction.SignedTransaction, from common.Address, height uint64) ([]abci.Event, error) {
	switch tx.Type {
	case transaction.TxTypeDeposit:
		return a.applyDeposit(st, tx.Deposit, from)
	case transaction.TxTypeMint:
		return a.applyMint(st, tx.Mint, from)
	case transaction.TxTypeApprove:
		return a.applyApprove(st, tx.Approve, from)
	case transaction.TxTypeList:
		return a.applyList(st, tx.List, from, height)
	case transaction.TxTypeBuy:
		return a.applyBuy(st, tx.Buy, from, height)
	default:
		return nil, fmt.Errorf("%w: unsupported type %s", ErrInvalidTx, tx.Type)
	}
}

func (a *App) applyDeposit(st storage.State, p *transaction.DepositPayload, from common.Address) ([]abci.Event, error) {
	if a.cfg.Bridge != (common.Address{}) && from != a.cfg.Bridge {
		return nil, fmt.Errorf("%w: deposits must be signed by the bridge", ErrUnauthorized)
	}
	amount, err := transaction.ParseUint("amount", p.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}
	to := common.HexToAddress(p.To)
	if err := a.accounts.Deposit(st, to, amount); err != nil {
		return nil, err
	}
	return []abci.Event{abci.NewEvent(EventDeposit, DepositEvent{To: to, Amount: amount})}, nil
}

func (a *App) applyMint(st storage.State, p *transaction.MintPayload, from common.Address) ([]abci.Event, error) {
	id, err := a.registry.Mint(st, from, p.URI)
	if err != nil {
		return nil, err
	}
	return []abci.Event{abci.NewEvent(EventAssetMinted, AssetMintedEvent{AssetID: id, Owner: from, URI: p.URI})}, nil
}

func (a *App) applyApprove(st storage.State, p *transaction.ApprovePayload, from common.Address) ([]abci.Event, error) {
	assetID, err := transaction.ParseUint("asset_id", p.AssetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}
	operator := common.HexToAddress(p.Operator)
	if err := a.registry.Approve(st, from, assetID, operator); err != nil {
		return nil, err
	}
	return []abci.Event{abci.NewEvent(EventAssetApproved, AssetApprovedEvent{AssetID: assetID, Owner: from, Operator: operator})}, nil
}

func (a *App) applyList(st storage.State, p *transaction.ListPayload, from common.Address, height uint64) ([]abci.Event, error) {
	assetID, err := transaction.ParseUint("asset_id", p.AssetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}
	price, err := transaction.ParseUint("price", p.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}
	fee, err := transaction.ParseUint("fee", p.Fee)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}
	ev, err := a.ledger.CreateListing(st, marketplace.Call{Caller: from, Value: fee, Height: height}, assetID, price)
	if err != nil {
		return nil, err
	}
	return []abci.Event{abci.NewEvent(EventListingCreated, ev)}, nil
}

func (a *App) applyBuy(st storage.State, p *transaction.BuyPayload, from common.Address, height uint64) ([]abci.Event, error) {
	listingID, err := transaction.ParseUint("listing_id", p.ListingID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}
	payment, err := transaction.ParseUint("payment", p.Payment)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}
	ev, err := a.ledger.ExecuteSale(st, marketplace.Call{Caller: from, Value: payment, Height: height}, listingID)
	if err != nil {
		return nil, err
	}
	return []abci.Event{abci.NewEvent(EventListingSold, ev)}, nil
}
