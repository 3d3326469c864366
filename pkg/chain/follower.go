package chain

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/hypermarket/pkg/crypto"
)

var (
	ErrStaleBlock      = errors.New("block already applied")
	ErrHeightGap       = errors.New("block height gap")
	ErrParentMismatch  = errors.New("block does not extend the local chain")
	ErrBadSeal         = errors.New("invalid sequencer seal")
	ErrAppHashMismatch = errors.New("app hash diverged from sequencer")
)

// Follower replays blocks sealed by the sequencer. It re-executes every
// block and refuses to store one whose resulting app hash differs.
type Follower struct {
	Exec         Executor
	Store        BlockStore
	SequencerKey *crypto.BLSPubKey
	Logger       *zap.SugaredLogger

	mu     sync.Mutex
	height Height
	parent Hash
}

func NewFollower(exec Executor, store BlockStore, sequencerKey *crypto.BLSPubKey) *Follower {
	return &Follower{Exec: exec, Store: store, SequencerKey: sequencerKey}
}

func (f *Follower) Height() Height {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height
}

// Resume continues from the last committed block in the store and
// finishes a block that was stored but not yet marked committed
func (f *Follower) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok, err := f.Store.GetCommitted()
	if err != nil {
		return err
	}
	if ok {
		blk, ok, err := f.Store.GetBlock(h)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("committed block %d missing from store", h)
		}
		f.height, f.parent = h, HashOfBlock(blk)
	}

	pending, ok, err := f.Store.GetBlock(f.height + 1)
	if err != nil || !ok {
		return err
	}
	if pending.Parent != f.parent {
		return fmt.Errorf("%w: pending height %d", ErrParentMismatch, pending.Height)
	}
	if err := f.commit(pending); err != nil {
		return err
	}
	if f.Logger != nil {
		f.Logger.Infow("pending_block_recovered", "height", pending.Height)
	}
	return nil
}

// Apply executes the next block.
//
// TODO: fetch missing blocks from the sequencer over a request/response
// stream instead of failing with ErrHeightGap.
func (f *Follower) Apply(b Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case b.Height <= f.height:
		return fmt.Errorf("%w: %d", ErrStaleBlock, b.Height)
	case b.Height != f.height+1:
		return fmt.Errorf("%w: have %d, got %d", ErrHeightGap, f.height, b.Height)
	case b.Parent != f.parent:
		return fmt.Errorf("%w: height %d", ErrParentMismatch, b.Height)
	}
	if f.SequencerKey != nil && !VerifySeal(f.SequencerKey, b) {
		return fmt.Errorf("%w: height %d", ErrBadSeal, b.Height)
	}

	// stored before execution so a restart replays the same block
	if err := f.Store.SaveBlock(b); err != nil {
		return fmt.Errorf("save block %d: %w", b.Height, err)
	}
	if err := f.commit(b); err != nil {
		return err
	}
	if f.Logger != nil && len(b.Payload) > 0 {
		f.Logger.Infow("block_applied", "height", b.Height, "apphash", b.AppHash.String())
	}
	return nil
}

func (f *Follower) commit(b Block) error {
	got := f.Exec.OnCommit(b)
	if got != b.AppHash {
		return fmt.Errorf("%w: height %d local %s sealed %s", ErrAppHashMismatch, b.Height, got, b.AppHash)
	}
	if err := f.Store.SetCommitted(b.Height); err != nil {
		return fmt.Errorf("set committed %d: %w", b.Height, err)
	}
	f.height, f.parent = b.Height, HashOfBlock(b)
	return nil
}
