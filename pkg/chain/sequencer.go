package chain

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hypermarket/pkg/crypto"
	"github.com/uhyunpark/hypermarket/pkg/util"
)

// Sequencer is the single block producer. It drains the executor into a
// block at most every MinBlockTime, executes it, seals it and stores it.
// Blocks are produced strictly one after another, which gives every
// transaction a total order.
type Sequencer struct {
	Exec         Executor
	Store        BlockStore
	Clock        util.Clock
	MinBlockTime time.Duration
	SkipEmpty    bool // do not produce blocks without transactions
	ID           NodeID
	Signer       *crypto.BLSSigner // optional

	Logger         *zap.SugaredLogger
	VerboseLogging bool // if false, only log non-empty commits and errors

	// OnBlock is called after a block is stored
	OnBlock func(Block)

	height Height
	parent Hash
	tip    atomic.Uint64 // height, readable from other goroutines
}

func NewSequencer(exec Executor, store BlockStore, clock util.Clock, minBlockTime time.Duration, id NodeID) *Sequencer {
	return &Sequencer{
		Exec:         exec,
		Store:        store,
		Clock:        clock,
		MinBlockTime: minBlockTime,
		ID:           id,
	}
}

// Height returns the last sealed height
func (s *Sequencer) Height() Height { return Height(s.tip.Load()) }

// Resume continues from the last committed block in the store. A block
// stored above the committed height was interrupted before its commit
// marker; it is executed again and sealed.
func (s *Sequencer) Resume() error {
	h, ok, err := s.Store.GetCommitted()
	if err != nil {
		return fmt.Errorf("load committed height: %w", err)
	}
	if ok {
		blk, ok, err := s.Store.GetBlock(h)
		if err != nil {
			return fmt.Errorf("load block %d: %w", h, err)
		}
		if !ok {
			return fmt.Errorf("committed block %d missing from store", h)
		}
		s.height = h
		s.parent = HashOfBlock(blk)
		s.tip.Store(uint64(h))
	}

	pending, ok, err := s.Store.GetBlock(s.height + 1)
	if err != nil {
		return fmt.Errorf("load block %d: %w", s.height+1, err)
	}
	if ok {
		if pending.Parent != s.parent {
			return fmt.Errorf("pending block %d does not extend height %d", pending.Height, s.height)
		}
		pending.AppHash, pending.Signature = Hash{}, nil
		if _, err := s.commit(pending); err != nil {
			return err
		}
		if s.Logger != nil {
			s.Logger.Infow("pending_block_recovered", "height", pending.Height)
		}
	}

	if s.Logger != nil && s.height > 0 {
		s.Logger.Infow("sequencer_resumed", "height", s.height, "parent", s.parent.String())
	}
	return nil
}

// Run produces blocks until ctx is cancelled
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Clock.After(s.MinBlockTime):
		}
		if _, _, err := s.Step(); err != nil {
			return err
		}
	}
}

// Step produces at most one block. It reports whether a block was sealed.
func (s *Sequencer) Step() (Block, bool, error) {
	next := s.height + 1
	payload := s.Exec.PreparePayload(next)
	if len(payload) == 0 && s.SkipEmpty {
		return Block{}, false, nil
	}

	blk := Block{
		Height:   next,
		Parent:   s.parent,
		Payload:  payload,
		Proposer: s.ID,
		Time:     s.Clock.Now(),
	}
	// stored before execution so a restart replays the same block
	if err := s.Store.SaveBlock(blk); err != nil {
		return Block{}, false, fmt.Errorf("save block %d: %w", next, err)
	}
	blk, err := s.commit(blk)
	if err != nil {
		return Block{}, false, err
	}

	if s.Logger != nil && (len(payload) > 0 || s.VerboseLogging) {
		s.Logger.Infow("block_committed", "height", next, "payload_bytes", len(payload), "apphash", fmt.Sprintf("0x%x", blk.AppHash[:]))
	}
	if s.OnBlock != nil {
		s.OnBlock(blk)
	}
	return blk, true, nil
}

// commit executes blk, seals it and advances the committed height
func (s *Sequencer) commit(blk Block) (Block, error) {
	blk.AppHash = s.Exec.OnCommit(blk)
	if s.Signer != nil {
		seal := SealHash(blk)
		blk.Signature = s.Signer.Sign(seal[:])
	}
	if err := s.Store.SaveBlock(blk); err != nil {
		return Block{}, fmt.Errorf("save block %d: %w", blk.Height, err)
	}
	if err := s.Store.SetCommitted(blk.Height); err != nil {
		return Block{}, fmt.Errorf("set committed %d: %w", blk.Height, err)
	}
	s.height = blk.Height
	s.parent = HashOfBlock(blk)
	s.tip.Store(uint64(blk.Height))
	return blk, nil
}

// VerifySeal checks a block signature against the sequencer public key
func VerifySeal(pk *crypto.BLSPubKey, b Block) bool {
	if len(b.Signature) == 0 {
		return false
	}
	seal := SealHash(b)
	return crypto.Verify(pk, b.Signature, seal[:])
}
