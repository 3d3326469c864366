// Package marketplace is the escrow ledger for fixed-price asset sales.
//
// A seller lists an asset: the listing fee and the asset move into the
// ledger's custody. A buyer pays exactly the listing price: the ledger marks
// the listing sold, pays the seller, hands the asset to the buyer and pays
// the retained fee to the operator.
//
// All mutations run against a storage.State. Every mutating entry point
// either applies completely or leaves the state exactly as it found it.
// External calls (payments and custody transfers) may run receiver hooks
// that call back into the ledger; a single latch shared by every mutating
// entry point rejects those calls with ErrReentrantCall.
package marketplace

import (
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypermarket/pkg/storage"
)

// AssetRegistry is the custody side of a sale
type AssetRegistry interface {
	Address() common.Address
	TransferCustody(st storage.State, caller common.Address, assetID uint64, from, to common.Address) error
}

// Payments is the value side of a sale
type Payments interface {
	Transfer(st storage.State, from, to common.Address, amount uint64) error
}

// Config is fixed when the ledger is initialized
type Config struct {
	Address    common.Address `json:"address"`  // escrow account holding fees, payments and assets
	Operator   common.Address `json:"operator"` // receives listing fees on sale
	ListingFee uint64         `json:"listing_fee"`
}

// Call carries the caller identity and attached value of one invocation
type Call struct {
	Caller common.Address
	Value  uint64
	Height uint64
}

// Ledger is the marketplace escrow ledger
type Ledger struct {
	cfg      Config
	registry AssetRegistry
	payments Payments
	logger   *zap.Logger

	// held for the duration of any mutating call
	busy atomic.Bool
}

// New creates a ledger. Initialize must be called once against the state
// before the first mutating call.
func New(cfg Config, registry AssetRegistry, payments Payments, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		cfg:      cfg,
		registry: registry,
		payments: payments,
		logger:   logger.Named("ledger"),
	}
}

// Config returns the ledger configuration
func (l *Ledger) Config() Config { return l.cfg }

// Initialize persists the configuration on first use. On later starts it
// verifies that the stored configuration matches; operator and fee can
// never be changed once set.
func (l *Ledger) Initialize(st storage.State) error {
	var stored Config
	ok, err := storage.GetJSON(st, keyConfig, &stored)
	if err != nil {
		return fmt.Errorf("failed to load ledger config: %w", err)
	}
	if ok {
		if stored != l.cfg {
			return fmt.Errorf("%w: stored %+v, configured %+v", ErrConfigMismatch, stored, l.cfg)
		}
		return nil
	}
	if err := storage.PutJSON(st, keyConfig, l.cfg); err != nil {
		return err
	}
	storage.PutUint64(st, keyCreated, 0)
	storage.PutUint64(st, keySold, 0)
	l.logger.Info("ledger initialized",
		zap.String("address", l.cfg.Address.Hex()),
		zap.String("operator", l.cfg.Operator.Hex()),
		zap.Uint64("listing_fee", l.cfg.ListingFee))
	return nil
}

// enter acquires the mutation latch. The returned func releases it.
func (l *Ledger) enter() (func(), error) {
	if !l.busy.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { l.busy.Store(false) }, nil
}

// CreateListing escrows assetID from the caller and offers it at price.
// call.Value is the fee payment and must equal the listing fee exactly.
func (l *Ledger) CreateListing(st storage.State, call Call, assetID, price uint64) (ev ListingCreated, err error) {
	release, err := l.enter()
	if err != nil {
		return ListingCreated{}, err
	}
	defer release()

	if price == 0 {
		return ListingCreated{}, ErrInvalidPrice
	}
	if call.Value != l.cfg.ListingFee {
		return ListingCreated{}, fmt.Errorf("%w: got %d, want %d", ErrFeeMismatch, call.Value, l.cfg.ListingFee)
	}

	snap := st.Snapshot()
	defer func() {
		if err != nil {
			st.RevertToSnapshot(snap)
		}
	}()

	if call.Value > 0 {
		if err := l.payments.Transfer(st, call.Caller, l.cfg.Address, call.Value); err != nil {
			return ListingCreated{}, fmt.Errorf("%w: listing fee: %w", ErrInsufficientFunds, err)
		}
	}

	created, err := storage.GetUint64(st, keyCreated)
	if err != nil {
		return ListingCreated{}, err
	}
	listing := &Listing{
		ID:          created + 1,
		RegistryRef: l.registry.Address(),
		AssetID:     assetID,
		Seller:      call.Caller,
		Owner:       NoOwner,
		Price:       price,
		Fee:         call.Value,
		CreatedAt:   call.Height,
	}
	if err := l.save(st, listing); err != nil {
		return ListingCreated{}, err
	}
	storage.PutUint64(st, keyCreated, listing.ID)

	if err := l.registry.TransferCustody(st, l.cfg.Address, assetID, call.Caller, l.cfg.Address); err != nil {
		return ListingCreated{}, fmt.Errorf("%w: asset %d: %w", ErrCustodyTransferFailed, assetID, err)
	}

	l.logger.Debug("listing created",
		zap.Uint64("listing_id", listing.ID),
		zap.Uint64("asset_id", assetID),
		zap.String("seller", call.Caller.Hex()),
		zap.Uint64("price", price))

	return ListingCreated{
		ListingID:   listing.ID,
		RegistryRef: listing.RegistryRef,
		AssetID:     listing.AssetID,
		Seller:      listing.Seller,
		Owner:       listing.Owner,
		Price:       listing.Price,
	}, nil
}

// ExecuteSale sells an unsold listing to the caller.
// call.Value is the payment and must equal the listing price exactly.
//
// Ownership and the sold counter are written before any external call.
// Then the price goes to the seller, the asset to the buyer, and the
// retained fee to the operator.
func (l *Ledger) ExecuteSale(st storage.State, call Call, listingID uint64) (ev ListingSold, err error) {
	release, err := l.enter()
	if err != nil {
		return ListingSold{}, err
	}
	defer release()

	listing, found, err := l.load(st, listingID)
	if err != nil {
		return ListingSold{}, err
	}
	if !found || listing.Sold() {
		return ListingSold{}, fmt.Errorf("%w: %d", ErrUnknownOrAlreadySold, listingID)
	}
	if call.Value != listing.Price {
		return ListingSold{}, fmt.Errorf("%w: got %d, want %d", ErrPaymentMismatch, call.Value, listing.Price)
	}

	snap := st.Snapshot()
	defer func() {
		if err != nil {
			st.RevertToSnapshot(snap)
		}
	}()

	if err := l.payments.Transfer(st, call.Caller, l.cfg.Address, call.Value); err != nil {
		return ListingSold{}, fmt.Errorf("%w: payment: %w", ErrInsufficientFunds, err)
	}

	// effects
	listing.Owner = OwnedBy(call.Caller)
	listing.SoldAt = call.Height
	if err := l.save(st, listing); err != nil {
		return ListingSold{}, err
	}
	sold, err := storage.GetUint64(st, keySold)
	if err != nil {
		return ListingSold{}, err
	}
	storage.PutUint64(st, keySold, sold+1)

	// interactions
	if err := l.payments.Transfer(st, l.cfg.Address, listing.Seller, listing.Price); err != nil {
		return ListingSold{}, fmt.Errorf("%w: proceeds to seller: %w", ErrDisbursementFailed, err)
	}
	if err := l.registry.TransferCustody(st, l.cfg.Address, listing.AssetID, l.cfg.Address, call.Caller); err != nil {
		return ListingSold{}, fmt.Errorf("%w: asset %d: %w", ErrCustodyTransferFailed, listing.AssetID, err)
	}
	if listing.Fee > 0 {
		if err := l.payments.Transfer(st, l.cfg.Address, l.cfg.Operator, listing.Fee); err != nil {
			return ListingSold{}, fmt.Errorf("%w: fee to operator: %w", ErrDisbursementFailed, err)
		}
	}

	l.logger.Debug("listing sold",
		zap.Uint64("listing_id", listing.ID),
		zap.String("buyer", call.Caller.Hex()),
		zap.Uint64("price", listing.Price))

	return ListingSold{
		ListingID:   listing.ID,
		RegistryRef: listing.RegistryRef,
		AssetID:     listing.AssetID,
		Seller:      listing.Seller,
		Buyer:       call.Caller,
		Price:       listing.Price,
		Fee:         listing.Fee,
	}, nil
}

func (l *Ledger) load(r storage.Reader, id uint64) (*Listing, bool, error) {
	var listing Listing
	ok, err := storage.GetJSON(r, listingKey(id), &listing)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load listing %d: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &listing, true, nil
}

func (l *Ledger) save(w storage.Writer, listing *Listing) error {
	if err := storage.PutJSON(w, listingKey(listing.ID), listing); err != nil {
		return fmt.Errorf("failed to save listing %d: %w", listing.ID, err)
	}
	return nil
}
