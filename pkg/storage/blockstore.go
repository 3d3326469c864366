package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/uhyunpark/hypermarket/pkg/chain"
)

// keys: blk:<8-byte-height>, cm:committed
func kBlock(h chain.Height) []byte { return Uint64Key("blk:", uint64(h)) }
func kCommitted() []byte          { return []byte("cm") }

// BlockStore persists sealed blocks in the same Pebble database as state
type BlockStore struct {
	db *DB
}

func NewBlockStore(db *DB) *BlockStore {
	return &BlockStore{db: db}
}

func (s *BlockStore) SaveBlock(b chain.Block) error {
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	return s.db.put(kBlock(b.Height), val)
}

func (s *BlockStore) GetBlock(h chain.Height) (chain.Block, bool, error) {
	val, ok, err := s.db.Get(kBlock(h))
	if err != nil || !ok {
		return chain.Block{}, false, err
	}
	var out chain.Block
	if err := decodeGob(val, &out); err != nil {
		return chain.Block{}, false, fmt.Errorf("decode block %d: %w", h, err)
	}
	return out, true, nil
}

func (s *BlockStore) SetCommitted(h chain.Height) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(h))
	return s.db.put(kCommitted(), buf[:])
}

func (s *BlockStore) GetCommitted() (chain.Height, bool, error) {
	val, ok, err := s.db.Get(kCommitted())
	if err != nil || !ok {
		return 0, false, err
	}
	if len(val) != 8 {
		return 0, false, fmt.Errorf("corrupt committed height: %d bytes", len(val))
	}
	return chain.Height(binary.BigEndian.Uint64(val)), true, nil
}

var _ chain.BlockStore = (*BlockStore)(nil)

// InMemoryBlockStore is a BlockStore for tests
type InMemoryBlockStore struct {
	mu        sync.Mutex
	blocks    map[chain.Height]chain.Block
	committed *chain.Height
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{blocks: make(map[chain.Height]chain.Block)}
}

func (s *InMemoryBlockStore) SaveBlock(b chain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Height] = b
	return nil
}

func (s *InMemoryBlockStore) GetBlock(h chain.Height) (chain.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok, nil
}

func (s *InMemoryBlockStore) SetCommitted(h chain.Height) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = &h
	return nil
}

func (s *InMemoryBlockStore) GetCommitted() (chain.Height, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed == nil {
		return 0, false, nil
	}
	return *s.committed, true, nil
}

var _ chain.BlockStore = (*InMemoryBlockStore)(nil)
