package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/uhyunpark/hypermarket/pkg/chain"
	"github.com/uhyunpark/hypermarket/pkg/crypto"
)

func TestGossipSealedBlocksAndTxs(t *testing.T) {
	if testing.Short() {
		t.Skip("libp2p gossip test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	signer, err := crypto.NewBLSSignerFromSeed([]byte("sequencer-seed-0000000000000000000"))
	if err != nil {
		t.Fatal(err)
	}

	seq, err := NewLibp2pNet(ctx, Libp2pConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0", SequencerKey: signer.Pubkey()})
	if err != nil {
		t.Fatal(err)
	}
	defer seq.Close()
	follower, err := NewLibp2pNet(ctx, Libp2pConfig{
		ListenAddr:   "/ip4/127.0.0.1/tcp/0",
		Bootstrap:    seq.Addrs(),
		SequencerKey: signer.Pubkey(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer follower.Close()

	blocks := make(chan chain.Block, 16)
	txs := make(chan []byte, 16)
	follower.SetHandlers(Handlers{OnBlock: func(_ context.Context, b chain.Block) { blocks <- b }})
	seq.SetHandlers(Handlers{OnTx: func(_ context.Context, raw []byte) { txs <- raw }})

	unsealed := chain.Block{Height: 1, Payload: []byte("forged"), Time: time.Unix(1, 0)}
	sealed := chain.Block{Height: 1, Payload: []byte("tx"), Time: time.Unix(1, 0), AppHash: chain.Hash{9}}
	seal := chain.SealHash(sealed)
	sealed.Signature = signer.Sign(seal[:])

	// the mesh forms asynchronously; republish until delivered
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	var gotBlock *chain.Block
	var gotTx []byte
	for gotBlock == nil || gotTx == nil {
		select {
		case <-ctx.Done():
			t.Fatalf("gossip not delivered: block=%v tx=%v", gotBlock != nil, gotTx != nil)
		case b := <-blocks:
			gotBlock = &b
		case raw := <-txs:
			gotTx = raw
		case <-tick.C:
			if gotBlock == nil {
				_ = seq.PublishBlock(ctx, unsealed)
				_ = seq.PublishBlock(ctx, sealed)
			}
			if gotTx == nil {
				_ = follower.PublishTx(ctx, []byte(`{"type":"mint"}`))
			}
		}
	}

	if string(gotBlock.Payload) != "tx" || gotBlock.AppHash != sealed.AppHash {
		t.Errorf("received block = %+v", gotBlock)
	}
	if string(gotTx) != `{"type":"mint"}` {
		t.Errorf("received tx = %s", gotTx)
	}
}
