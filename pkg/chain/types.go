package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

type NodeID string
type Height uint64

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

type Block struct {
	Height    Height
	Parent    Hash
	AppHash   Hash // Hash of application state after executing this block
	Payload   []byte
	Proposer  NodeID
	Time      time.Time
	Signature []byte // sequencer BLS signature over SealHash
}

// HashOfBlock computes the hash of a block's contents.
// It commits to height, parent, payload, proposer and time.
// AppHash and Signature are set after execution and are not included;
// SealHash covers them.
func HashOfBlock(b Block) Hash {
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])

	h.Write(b.Parent[:])
	h.Write(b.Payload)
	h.Write([]byte(b.Proposer))

	binary.BigEndian.PutUint64(buf[:], uint64(b.Time.UnixNano()))
	h.Write(buf[:])

	return sha256.Sum256(h.Sum(nil))
}

// SealHash is the message the sequencer signs: block hash plus the
// resulting application state
func SealHash(b Block) Hash {
	bh := HashOfBlock(b)
	return sha256.Sum256(append(bh[:], b.AppHash[:]...))
}

// ---- Storage interface (impl in pkg/storage) ----

type BlockStore interface {
	SaveBlock(b Block) error
	GetBlock(h Height) (Block, bool, error)
	SetCommitted(h Height) error
	GetCommitted() (Height, bool, error)
}

// Executor turns pending transactions into block payloads and executes
// committed blocks
type Executor interface {
	PreparePayload(next Height) []byte
	OnCommit(b Block) Hash
}
