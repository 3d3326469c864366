// Package market is the marketplace chain application. It orders signed
// transactions into blocks and executes them against the escrow ledger,
// the asset registry and the account balances.
package market

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypermarket/pkg/abci"
	"github.com/uhyunpark/hypermarket/pkg/app/core/account"
	"github.com/uhyunpark/hypermarket/pkg/app/core/hook"
	"github.com/uhyunpark/hypermarket/pkg/app/core/marketplace"
	"github.com/uhyunpark/hypermarket/pkg/app/core/mempool"
	"github.com/uhyunpark/hypermarket/pkg/app/core/registry"
	"github.com/uhyunpark/hypermarket/pkg/app/core/transaction"
	"github.com/uhyunpark/hypermarket/pkg/crypto"
	"github.com/uhyunpark/hypermarket/pkg/storage"
)

var keyLastBlock = []byte("app/last")

func heightKey(h uint64) []byte { return storage.Uint64Key("app/h/", h) }

// blockRecord pins the outcome of an executed height. A block delivered
// again for that height returns the recorded hash instead of re-running.
type blockRecord struct {
	AppHash common.Hash `json:"app_hash"`
	Digest  common.Hash `json:"digest"`
}

// blockDigest identifies the block contents seen by FinalizeBlock
func blockDigest(req abci.RequestFinalizeBlock) common.Hash {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(req.Timestamp))
	h.Write(buf[:])
	for _, tx := range req.Txs {
		binary.BigEndian.PutUint64(buf[:], uint64(len(tx)))
		h.Write(buf[:])
		h.Write(tx)
	}
	return common.BytesToHash(h.Sum(nil))
}

// Config wires the application
type Config struct {
	Ledger   marketplace.Config
	Registry common.Address // address of the asset registry
	Bridge   common.Address // signs deposits; the zero address accepts any signer (dev faucet)
	Domain   crypto.EIP712Domain

	MempoolMaxTxs int
}

// LastBlock is the last finalized block as seen by the application
type LastBlock struct {
	Height  uint64      `json:"height"`
	Time    int64       `json:"time"`
	AppHash common.Hash `json:"app_hash"`
}

// CommittedBlock is delivered to subscribers after a block is persisted
type CommittedBlock struct {
	Height   uint64
	Time     int64
	AppHash  abci.Hash
	Receipts []*Receipt
}

type App struct {
	mu sync.Mutex // serializes block execution

	db       *storage.DB
	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	hooks    *hook.Registry
	accounts *account.Manager
	registry *registry.Registry
	ledger   *marketplace.Ledger
	cfg      Config
	logger   *zap.Logger

	subMu       sync.RWMutex
	subscribers []func(CommittedBlock)
}

// NewApp opens the application over db and initializes the ledger on
// first start
func NewApp(db *storage.DB, cfg Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Ledger.Address == (common.Address{}) {
		return nil, errors.New("ledger address is required")
	}
	if cfg.Registry == (common.Address{}) {
		return nil, errors.New("registry address is required")
	}
	if cfg.Registry == cfg.Ledger.Address {
		return nil, errors.New("ledger and registry must use different addresses")
	}

	hooks := hook.NewRegistry()
	accounts := account.NewManager(hooks)
	reg := registry.New(cfg.Registry, hooks)
	a := &App{
		db:       db,
		mempool:  mempool.NewMempool(cfg.MempoolMaxTxs),
		verifier: transaction.NewVerifier(cfg.Domain),
		hooks:    hooks,
		accounts: accounts,
		registry: reg,
		ledger:   marketplace.New(cfg.Ledger, reg, accounts, logger),
		cfg:      cfg,
		logger:   logger.Named("app"),
	}

	tx := db.Begin()
	defer tx.Discard()
	if err := a.ledger.Initialize(tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to persist ledger config: %w", err)
	}
	return a, nil
}

func (a *App) Config() Config { return a.cfg }

// Hooks exposes the receiver registry for tests and embedding programs;
// the node registers none at runtime. Receivers run synchronously inside
// block execution.
func (a *App) Hooks() *hook.Registry { return a.hooks }

// Subscribe registers fn to be called after every committed block.
// fn runs on the block execution path and must not block.
func (a *App) Subscribe(fn func(CommittedBlock)) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.subscribers = append(a.subscribers, fn)
}

// PushTx checks the transaction envelope and signature and queues it
func (a *App) PushTx(b []byte) (common.Hash, error) {
	tx, err := transaction.ParseTransaction(b)
	if err != nil {
		return crypto.TxHash(b), fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}
	if _, err := a.verifier.Verify(tx); err != nil {
		return crypto.TxHash(b), fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}
	return a.mempool.Push(b)
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	txs := a.mempool.SelectForProposal(req.MaxTxBytes)
	return abci.ResponsePrepareProposal{Txs: txs}
}

func (a *App) ProcessProposal(_ abci.RequestProcessProposal) abci.ResponseProcessProposal {
	return abci.ResponseProcessProposal{Accept: true}
}

// FinalizeBlock executes every transaction of a block in order and
// commits the result atomically.
//
// Heights must arrive in sequence. A height that was already executed is
// answered from the stored record without touching state, so a block
// replayed after a crash yields the same app hash.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.mu.Lock()
	defer a.mu.Unlock()

	height := uint64(req.Height)
	st := a.db.Begin()
	defer st.Discard()

	var prev LastBlock
	if _, err := storage.GetJSON(st, keyLastBlock, &prev); err != nil {
		a.logger.Panic("failed to load last block", zap.Error(err))
	}
	switch {
	case height <= prev.Height:
		return a.replayBlock(st, req)
	case height != prev.Height+1:
		a.logger.Panic("block height gap", zap.Uint64("last", prev.Height), zap.Uint64("height", height))
	}

	results := make([]abci.ExecTxResult, 0, len(req.Txs))
	receipts := make([]*Receipt, 0, len(req.Txs))
	executed := make([]common.Hash, 0, len(req.Txs))
	failed := 0
	for i, raw := range req.Txs {
		rc := a.applyTx(st, height, i, raw)
		results = append(results, rc.Result())
		executed = append(executed, rc.TxHash)
		if rc.Code == CodeDuplicate {
			continue
		}
		if err := storage.PutJSON(st, receiptKey(rc.TxHash), rc); err != nil {
			a.logger.Panic("failed to store receipt", zap.Error(err))
		}
		receipts = append(receipts, rc)
		if !rc.OK() {
			failed++
			a.logger.Debug("tx failed",
				zap.String("tx", rc.TxHash.Hex()),
				zap.String("code", rc.Code),
				zap.String("error", rc.Error))
		}
	}

	stats, err := a.ledger.Stats(st)
	if err != nil {
		a.logger.Panic("failed to read ledger stats", zap.Error(err))
	}
	appHash := computeAppHash(prev.AppHash, height, req.Timestamp, stats, receipts)

	last := LastBlock{Height: height, Time: req.Timestamp, AppHash: common.Hash(appHash)}
	if err := storage.PutJSON(st, keyLastBlock, last); err != nil {
		a.logger.Panic("failed to store last block", zap.Error(err))
	}
	rec := blockRecord{AppHash: last.AppHash, Digest: blockDigest(req)}
	if err := storage.PutJSON(st, heightKey(height), rec); err != nil {
		a.logger.Panic("failed to store block record", zap.Error(err))
	}
	if err := st.Commit(); err != nil {
		a.logger.Panic("failed to commit block", zap.Uint64("height", height), zap.Error(err))
	}

	// blocks replayed from the sequencer may include txs we also hold
	a.mempool.Remove(executed...)

	// Quiet logging: only log non-empty blocks
	if len(req.Txs) > 0 {
		a.logger.Info("block finalized",
			zap.Uint64("height", height),
			zap.Int("txs", len(req.Txs)),
			zap.Int("failed", failed),
			zap.Uint64("listings", stats.Created),
			zap.Uint64("sold", stats.Sold),
			zap.String("apphash", fmt.Sprintf("0x%x", appHash[:])))
	}

	a.notify(CommittedBlock{Height: height, Time: req.Timestamp, AppHash: appHash, Receipts: receipts})

	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: appHash}
}

// replayBlock answers a block at an executed height. Results are rebuilt
// from the receipts written by that height.
func (a *App) replayBlock(r storage.Reader, req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	height := uint64(req.Height)
	var rec blockRecord
	found, err := storage.GetJSON(r, heightKey(height), &rec)
	if err != nil {
		a.logger.Panic("failed to load block record", zap.Uint64("height", height), zap.Error(err))
	}
	if !found || rec.Digest != blockDigest(req) {
		a.logger.Panic("conflicting block for executed height", zap.Uint64("height", height))
	}

	results := make([]abci.ExecTxResult, 0, len(req.Txs))
	hashes := make([]common.Hash, 0, len(req.Txs))
	for i, raw := range req.Txs {
		h := crypto.TxHash(raw)
		hashes = append(hashes, h)
		var rc Receipt
		ok, err := storage.GetJSON(r, receiptKey(h), &rc)
		if err != nil {
			a.logger.Panic("failed to load receipt", zap.String("tx", h.Hex()), zap.Error(err))
		}
		if ok && rc.Height == height && rc.Index == i {
			results = append(results, rc.Result())
			continue
		}
		results = append(results, abci.ExecTxResult{Code: CodeDuplicate, Log: fmt.Sprintf("tx %s already executed", h.Hex())})
	}
	a.mempool.Remove(hashes...)

	a.logger.Info("block already finalized", zap.Uint64("height", height))
	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: abci.Hash(rec.AppHash)}
}

func (a *App) notify(b CommittedBlock) {
	a.subMu.RLock()
	defer a.subMu.RUnlock()
	for _, fn := range a.subscribers {
		fn(b)
	}
}

// computeAppHash commits to the previous app hash, the block header fields,
// the ledger counters and the outcome of every executed transaction.
// Chaining the previous hash makes it a commitment to the whole history.
//
// TODO: replace with a Merkle commitment over the state keys so that
// listings and balances can be proven to light clients.
func computeAppHash(prev common.Hash, height uint64, timestamp int64, stats marketplace.Stats, receipts []*Receipt) abci.Hash {
	h := sha256.New()
	h.Write(prev[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(timestamp))
	h.Write(buf[:])

	binary.BigEndian.PutUint64(buf[:], stats.Created)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], stats.Sold)
	h.Write(buf[:])

	for _, rc := range receipts {
		h.Write(rc.TxHash[:])
		h.Write([]byte(rc.Code))
	}

	var out abci.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func receiptKey(h common.Hash) []byte {
	return []byte("rcpt:" + h.Hex())
}
