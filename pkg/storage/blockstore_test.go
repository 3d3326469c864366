package storage

import (
	"testing"
	"time"

	"github.com/uhyunpark/hypermarket/pkg/chain"
)

func TestBlockStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	bs := NewBlockStore(db)
	blk := chain.Block{
		Height:   3,
		Parent:   chain.Hash{1},
		AppHash:  chain.Hash{2},
		Payload:  []byte(`{"type":"buy"}`),
		Proposer: "seq-0",
		Time:     time.Unix(1700000000, 0).UTC(),
	}
	if err := bs.SaveBlock(blk); err != nil {
		t.Fatalf("save block: %v", err)
	}
	if err := bs.SetCommitted(3); err != nil {
		t.Fatalf("set committed: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	bs = NewBlockStore(db)

	h, ok, err := bs.GetCommitted()
	if err != nil || !ok || h != 3 {
		t.Fatalf("GetCommitted() = %d, %v, %v", h, ok, err)
	}
	got, ok, err := bs.GetBlock(3)
	if err != nil || !ok {
		t.Fatalf("GetBlock(3) = %v, %v", ok, err)
	}
	if chain.HashOfBlock(got) != chain.HashOfBlock(blk) || got.AppHash != blk.AppHash {
		t.Errorf("block changed across reopen")
	}
	if _, ok, _ := bs.GetBlock(4); ok {
		t.Error("unexpected block 4")
	}
}
