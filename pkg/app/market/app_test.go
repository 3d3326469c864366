package market

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/abci"
	"github.com/uhyunpark/hypermarket/pkg/app/core/hook"
	"github.com/uhyunpark/hypermarket/pkg/app/core/marketplace"
	"github.com/uhyunpark/hypermarket/pkg/app/core/transaction"
	"github.com/uhyunpark/hypermarket/pkg/crypto"
	"github.com/uhyunpark/hypermarket/pkg/storage"
)

var (
	ledgerAddr   = common.HexToAddress("0x1E00000000000000000000000000000000000001")
	registryAddr = common.HexToAddress("0x7E00000000000000000000000000000000000001")
	operatorAddr = common.HexToAddress("0x0900000000000000000000000000000000000000")
)

type testEnv struct {
	t      *testing.T
	db     *storage.DB
	app    *App
	bridge *crypto.Signer
	seller *crypto.Signer
	buyer  *crypto.Signer
	nonces map[common.Address]uint64
	height uint64
}

func newKey(t *testing.T) *crypto.Signer {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	bridge := newKey(t)
	app, err := NewApp(db, Config{
		Ledger:   marketplace.Config{Address: ledgerAddr, Operator: operatorAddr, ListingFee: 1},
		Registry: registryAddr,
		Bridge:   bridge.Address(),
		Domain:   crypto.DefaultDomain(),
	}, nil)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return &testEnv{
		t:      t,
		db:     db,
		app:    app,
		bridge: bridge,
		seller: newKey(t),
		buyer:  newKey(t),
		nonces: make(map[common.Address]uint64),
	}
}

func (e *testEnv) nonce(key *crypto.Signer) uint64 {
	e.nonces[key.Address()]++
	return e.nonces[key.Address()]
}

func (e *testEnv) sign(key *crypto.Signer, tx *transaction.SignedTransaction) []byte {
	e.t.Helper()
	if err := transaction.Sign(crypto.DefaultDomain(), key, tx); err != nil {
		e.t.Fatalf("sign: %v", err)
	}
	b, err := tx.Serialize()
	if err != nil {
		e.t.Fatal(err)
	}
	return b
}

func (e *testEnv) deposit(to common.Address, amount uint64) []byte {
	return e.sign(e.bridge, transaction.NewDeposit(e.bridge.Address(), to, amount, e.nonce(e.bridge)))
}

func (e *testEnv) block(txs ...[]byte) abci.ResponseFinalizeBlock {
	e.height++
	return e.app.FinalizeBlock(abci.RequestFinalizeBlock{
		Height:    int64(e.height),
		Timestamp: 1700000000 + int64(e.height),
		Txs:       txs,
	})
}

func (e *testEnv) balance(addr common.Address) uint64 {
	e.t.Helper()
	acc, err := e.app.Account(addr)
	if err != nil {
		e.t.Fatal(err)
	}
	return acc.Balance
}

func requireCodes(t *testing.T, resp abci.ResponseFinalizeBlock, want ...string) {
	t.Helper()
	if len(resp.TxResults) != len(want) {
		t.Fatalf("got %d results, want %d", len(resp.TxResults), len(want))
	}
	for i, r := range resp.TxResults {
		if r.Code != want[i] {
			t.Errorf("tx %d: code = %s (%s), want %s", i, r.Code, r.Log, want[i])
		}
	}
}

// setupListing funds both parties, mints an asset to the seller, approves
// the ledger and lists it at price 100
func (e *testEnv) setupListing() {
	e.t.Helper()
	seller, buyer := e.seller.Address(), e.buyer.Address()
	resp := e.block(
		e.deposit(seller, 10),
		e.deposit(buyer, 200),
		e.sign(e.seller, transaction.NewMint(seller, "ipfs://asset-1", e.nonce(e.seller))),
		e.sign(e.seller, transaction.NewApprove(seller, 1, ledgerAddr, e.nonce(e.seller))),
		e.sign(e.seller, transaction.NewList(seller, 1, 100, 1, e.nonce(e.seller))),
	)
	requireCodes(e.t, resp, "ok", "ok", "ok", "ok", "ok")
}

func TestSignedFlowThroughMempool(t *testing.T) {
	e := newTestEnv(t)
	seller, buyer := e.seller.Address(), e.buyer.Address()

	// submitted out of order; the mempool drains setup, then listings,
	// then purchases, so everything lands in one block
	listTx := e.sign(e.seller, transaction.NewList(seller, 1, 100, 1, 3))
	txs := [][]byte{
		e.sign(e.buyer, transaction.NewBuy(buyer, 1, 100, 1)),
		listTx,
		e.deposit(seller, 10),
		e.deposit(buyer, 200),
		e.sign(e.seller, transaction.NewMint(seller, "ipfs://asset-1", 1)),
		e.sign(e.seller, transaction.NewApprove(seller, 1, ledgerAddr, 2)),
	}
	for _, tx := range txs {
		if _, err := e.app.PushTx(tx); err != nil {
			t.Fatalf("PushTx: %v", err)
		}
	}
	proposal := e.app.PrepareProposal(abci.RequestPrepareProposal{Height: 1, MaxTxBytes: 1 << 20})
	if len(proposal.Txs) != len(txs) {
		t.Fatalf("proposal has %d txs, want %d", len(proposal.Txs), len(txs))
	}
	resp := e.block(proposal.Txs...)
	requireCodes(t, resp, "ok", "ok", "ok", "ok", "ok", "ok")

	if got := e.balance(seller); got != 10-1+100 {
		t.Errorf("seller balance = %d, want 109", got)
	}
	if got := e.balance(buyer); got != 100 {
		t.Errorf("buyer balance = %d, want 100", got)
	}
	if got := e.balance(operatorAddr); got != 1 {
		t.Errorf("operator balance = %d, want 1", got)
	}
	if got := e.balance(ledgerAddr); got != 0 {
		t.Errorf("ledger balance = %d, want 0", got)
	}
	asset, err := e.app.Asset(1)
	if err != nil || asset.Owner != buyer {
		t.Fatalf("asset 1 = %+v, %v", asset, err)
	}

	unsold, err := e.app.ListUnsold()
	if err != nil || len(unsold) != 0 {
		t.Errorf("ListUnsold() = %d listings, %v", len(unsold), err)
	}
	owned, err := e.app.ListOwnedBy(buyer)
	if err != nil || len(owned) != 1 || owned[0].ID != 1 {
		t.Errorf("ListOwnedBy(buyer) = %v, %v", owned, err)
	}

	rc, ok, err := e.app.Receipt(crypto.TxHash(listTx))
	if err != nil || !ok {
		t.Fatalf("receipt for list tx: %v %v", ok, err)
	}
	if len(rc.Events) != 1 || rc.Events[0].Type != EventListingCreated {
		t.Fatalf("list receipt events = %+v", rc.Events)
	}
	var created marketplace.ListingCreated
	if err := json.Unmarshal(rc.Events[0].Data, &created); err != nil {
		t.Fatal(err)
	}
	if created.ListingID != 1 || created.Seller != seller || !created.Owner.IsNone() {
		t.Errorf("ListingCreated = %+v", created)
	}

	last, err := e.app.LastBlock()
	if err != nil || last.Height != 1 || last.AppHash != common.Hash(resp.AppHash) {
		t.Errorf("LastBlock() = %+v, %v", last, err)
	}
}

func TestFailedTxRevertsButConsumesNonce(t *testing.T) {
	e := newTestEnv(t)
	e.setupListing()
	buyer := e.buyer.Address()

	before := e.balance(buyer)
	resp := e.block(e.sign(e.buyer, transaction.NewBuy(buyer, 1, 99, e.nonce(e.buyer))))
	requireCodes(t, resp, marketplace.CodePaymentMismatch)

	if got := e.balance(buyer); got != before {
		t.Errorf("buyer balance = %d, want %d", got, before)
	}
	acc, _ := e.app.Account(buyer)
	if acc.Nonce != 1 {
		t.Errorf("buyer nonce = %d, want 1", acc.Nonce)
	}
	lst, err := e.app.GetListing(1)
	if err != nil || lst.Sold() {
		t.Errorf("listing after failed buy = %+v, %v", lst, err)
	}
}

func TestReplayRejected(t *testing.T) {
	e := newTestEnv(t)
	dep := e.deposit(e.seller.Address(), 10)
	requireCodes(t, e.block(dep), "ok")

	// identical bytes: skipped, receipt kept
	requireCodes(t, e.block(dep), CodeDuplicate)
	rc, _, _ := e.app.Receipt(crypto.TxHash(dep))
	if rc == nil || rc.Height != 1 || !rc.OK() {
		t.Errorf("original receipt overwritten: %+v", rc)
	}

	// same nonce, different body
	stale := e.sign(e.bridge, transaction.NewDeposit(e.bridge.Address(), e.seller.Address(), 11, 1))
	requireCodes(t, e.block(stale), CodeBadNonce)

	if got := e.balance(e.seller.Address()); got != 10 {
		t.Errorf("seller balance = %d, want 10", got)
	}
}

func TestExecutionErrorCodes(t *testing.T) {
	e := newTestEnv(t)
	e.setupListing()
	seller, buyer := e.seller.Address(), e.buyer.Address()

	forged := transaction.NewDeposit(e.bridge.Address(), buyer, 5, 99)
	if err := transaction.Sign(crypto.DefaultDomain(), e.buyer, forged); err != nil {
		t.Fatal(err)
	}
	forgedRaw, _ := forged.Serialize()

	resp := e.block(
		[]byte(`{"type":"buy"`),
		forgedRaw,
		e.sign(e.seller, transaction.NewDeposit(seller, seller, 1000, e.nonce(e.seller))),
		e.sign(e.seller, transaction.NewList(seller, 1, 100, 1, e.nonce(e.seller))),
		e.sign(e.seller, transaction.NewList(seller, 9, 100, 1, e.nonce(e.seller))),
		e.sign(e.seller, transaction.NewList(seller, 1, 0, 1, e.nonce(e.seller))),
		e.sign(e.seller, transaction.NewList(seller, 1, 100, 2, e.nonce(e.seller))),
		e.sign(e.buyer, transaction.NewBuy(buyer, 7, 100, e.nonce(e.buyer))),
	)
	requireCodes(t, resp,
		CodeInvalidTx,
		CodeBadSignature,
		CodeUnauthorized,
		// asset 1 is already in escrow
		marketplace.CodeCustodyTransferFailed,
		marketplace.CodeCustodyTransferFailed,
		marketplace.CodeInvalidPrice,
		marketplace.CodeFeeMismatch,
		marketplace.CodeUnknownOrAlreadySold,
	)

	stats, err := e.app.Stats()
	if err != nil || stats.Created != 1 || stats.Sold != 0 {
		t.Errorf("Stats() = %+v, %v", stats, err)
	}
	if got := e.balance(seller); got != 9 {
		t.Errorf("seller balance = %d, want 9", got)
	}
}

func TestReentrantReceiverFailsSale(t *testing.T) {
	e := newTestEnv(t)
	e.setupListing()
	seller, buyer := e.seller.Address(), e.buyer.Address()

	// a second listing for the hook to target
	requireCodes(t, e.block(
		e.sign(e.seller, transaction.NewMint(seller, "ipfs://asset-2", e.nonce(e.seller))),
		e.sign(e.seller, transaction.NewApprove(seller, 2, ledgerAddr, e.nonce(e.seller))),
		e.sign(e.seller, transaction.NewList(seller, 2, 50, 1, e.nonce(e.seller))),
	), "ok", "ok", "ok")

	var hookErr error
	e.app.Hooks().Register(seller, hook.Funcs{
		Payment: func(st storage.State, from common.Address, amount uint64) error {
			if from != ledgerAddr {
				return nil
			}
			_, hookErr = e.app.ledger.ExecuteSale(st, marketplace.Call{Caller: seller, Value: 50}, 2)
			return hookErr
		},
	})

	before := e.balance(buyer)
	resp := e.block(e.sign(e.buyer, transaction.NewBuy(buyer, 1, 100, e.nonce(e.buyer))))
	requireCodes(t, resp, marketplace.CodeDisbursementFailed)
	if !errors.Is(hookErr, marketplace.ErrReentrantCall) {
		t.Errorf("hook error = %v, want ErrReentrantCall", hookErr)
	}
	if got := e.balance(buyer); got != before {
		t.Errorf("buyer balance = %d, want %d", got, before)
	}
	unsold, _ := e.app.ListUnsold()
	if len(unsold) != 2 {
		t.Errorf("unsold listings = %d, want 2", len(unsold))
	}

	// without the hook the same sale goes through
	e.app.Hooks().Unregister(seller)
	requireCodes(t, e.block(e.sign(e.buyer, transaction.NewBuy(buyer, 1, 100, e.nonce(e.buyer)))), "ok")
}

func TestPushTxRejectsInvalid(t *testing.T) {
	e := newTestEnv(t)

	tampered := transaction.NewDeposit(e.bridge.Address(), e.seller.Address(), 10, 1)
	if err := transaction.Sign(crypto.DefaultDomain(), e.bridge, tampered); err != nil {
		t.Fatal(err)
	}
	tampered.Deposit.Amount = "1000000"
	raw, _ := tampered.Serialize()

	for name, b := range map[string][]byte{
		"garbage":  []byte("not json"),
		"tampered": raw,
	} {
		if _, err := e.app.PushTx(b); !errors.Is(err, ErrInvalidTx) {
			t.Errorf("%s: PushTx() error = %v, want ErrInvalidTx", name, err)
		}
	}
	if e.app.MempoolSize() != 0 {
		t.Errorf("mempool size = %d, want 0", e.app.MempoolSize())
	}
}

func TestAppHashDeterministic(t *testing.T) {
	a := newTestEnv(t)
	b := newTestEnv(t)
	// same bridge key on both so the tx is valid on both
	b.app.cfg.Bridge = a.bridge.Address()

	tx := a.deposit(a.seller.Address(), 10)
	ra := a.block(tx)
	rb := b.block(tx)
	if ra.AppHash != rb.AppHash {
		t.Fatalf("app hashes differ: %x vs %x", ra.AppHash, rb.AppHash)
	}
	if next := a.block(); next.AppHash == ra.AppHash {
		t.Error("empty block did not change app hash")
	}
}

func TestSubscribersSeeCommittedState(t *testing.T) {
	e := newTestEnv(t)
	var got []CommittedBlock
	e.app.Subscribe(func(b CommittedBlock) {
		// state is readable by the time subscribers run
		last, err := e.app.LastBlock()
		if err != nil || last.Height != b.Height {
			t.Errorf("LastBlock() in subscriber = %+v, %v", last, err)
		}
		got = append(got, b)
	})
	e.setupListing()
	if len(got) != 1 || len(got[0].Receipts) != 5 {
		t.Fatalf("notifications = %+v", got)
	}
}

func TestNewAppRejectsChangedConfig(t *testing.T) {
	e := newTestEnv(t)
	cfg := e.app.Config()
	cfg.Ledger.ListingFee = 2
	if _, err := NewApp(e.db, cfg, nil); !errors.Is(err, marketplace.ErrConfigMismatch) {
		t.Fatalf("NewApp() error = %v, want ErrConfigMismatch", err)
	}
}

func TestLedgerSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	e := newTestEnv(t)
	cfg := e.app.Config()
	e.db = db
	if e.app, err = NewApp(db, cfg, nil); err != nil {
		t.Fatal(err)
	}
	e.setupListing()
	last, _ := e.app.LastBlock()
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	app, err := NewApp(db, cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	stats, err := app.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Created != 1 || stats.Sold != 0 {
		t.Errorf("stats after restart = %+v", stats)
	}
	l, err := app.GetListing(1)
	if err != nil || l.Price != 100 || !l.Owner.IsNone() {
		t.Fatalf("listing after restart = %+v, %v", l, err)
	}
	if got, _ := app.LastBlock(); got != last {
		t.Errorf("last block = %+v, want %+v", got, last)
	}
	if acc, _ := app.Account(e.seller.Address()); acc.Nonce != 3 {
		t.Errorf("seller nonce = %d, want 3", acc.Nonce)
	}
}

func TestFinalizeBlockReplaysExecutedHeight(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	e := newTestEnv(t)
	cfg := e.app.Config()
	if e.app, err = NewApp(db, cfg, nil); err != nil {
		t.Fatal(err)
	}
	e.setupListing()
	buyer := e.buyer.Address()
	req := abci.RequestFinalizeBlock{
		Height:    2,
		Timestamp: 1700000002,
		Txs: [][]byte{
			e.sign(e.buyer, transaction.NewBuy(buyer, 1, 100, e.nonce(e.buyer))),
			e.deposit(buyer, 5),
		},
	}
	first := e.app.FinalizeBlock(req)
	requireCodes(t, first, "ok", "ok")
	buyerBalance := e.balance(buyer)

	// the node stops before the block store records height 2
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	db, err = storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	e.db = db
	if e.app, err = NewApp(db, cfg, nil); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	again := e.app.FinalizeBlock(req)
	if again.AppHash != first.AppHash {
		t.Fatalf("replayed app hash = %x, want %x", again.AppHash, first.AppHash)
	}
	requireCodes(t, again, "ok", "ok")
	if len(again.TxResults[0].Events) != 1 || again.TxResults[0].Events[0].Type != EventListingSold {
		t.Errorf("replayed buy events = %+v", again.TxResults[0].Events)
	}
	if got := e.balance(buyer); got != buyerBalance {
		t.Errorf("buyer balance after replay = %d, want %d", got, buyerBalance)
	}
	if acc, _ := e.app.Account(buyer); acc.Nonce != 1 {
		t.Errorf("buyer nonce after replay = %d, want 1", acc.Nonce)
	}
	last, err := e.app.LastBlock()
	if err != nil || last.Height != 2 || last.AppHash != common.Hash(first.AppHash) {
		t.Errorf("LastBlock() = %+v, %v", last, err)
	}

	// execution continues at the next height
	e.height = 2
	requireCodes(t, e.block(e.deposit(buyer, 1)), "ok")
}

func TestFinalizeBlockRejectsConflictsAndGaps(t *testing.T) {
	tests := []struct {
		name string
		req  func(e *testEnv) abci.RequestFinalizeBlock
	}{
		{
			name: "different txs at executed height",
			req: func(e *testEnv) abci.RequestFinalizeBlock {
				return abci.RequestFinalizeBlock{Height: 1, Timestamp: 1700000001, Txs: [][]byte{e.deposit(e.buyer.Address(), 1)}}
			},
		},
		{
			name: "different time at executed height",
			req: func(e *testEnv) abci.RequestFinalizeBlock {
				return abci.RequestFinalizeBlock{Height: 1, Timestamp: 1700000099}
			},
		},
		{
			name: "height gap",
			req: func(e *testEnv) abci.RequestFinalizeBlock {
				return abci.RequestFinalizeBlock{Height: 3, Timestamp: 1700000003}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			requireCodes(t, e.block(e.deposit(e.seller.Address(), 10)), "ok")
			before, _ := e.app.LastBlock()

			func() {
				defer func() {
					if recover() == nil {
						t.Error("FinalizeBlock did not panic")
					}
				}()
				e.app.FinalizeBlock(tt.req(e))
			}()

			if after, _ := e.app.LastBlock(); after != before {
				t.Errorf("last block changed: %+v, want %+v", after, before)
			}
		})
	}
}

func TestUnsoldAtMatchesLastBlock(t *testing.T) {
	e := newTestEnv(t)
	e.setupListing()

	last, unsold, err := e.app.UnsoldAt()
	if err != nil {
		t.Fatal(err)
	}
	if want, _ := e.app.LastBlock(); last != want {
		t.Errorf("UnsoldAt height = %+v, want %+v", last, want)
	}
	if len(unsold) != 1 || unsold[0].ID != 1 {
		t.Errorf("unsold = %+v", unsold)
	}

	buyer := e.buyer.Address()
	requireCodes(t, e.block(e.sign(e.buyer, transaction.NewBuy(buyer, 1, 100, e.nonce(e.buyer)))), "ok")
	last, unsold, err = e.app.UnsoldAt()
	if err != nil || last.Height != 2 || len(unsold) != 0 {
		t.Errorf("after sale: height %d, %d unsold, %v", last.Height, len(unsold), err)
	}
}
