package abci

import (
	"github.com/uhyunpark/hypermarket/pkg/chain"
)

// Bridge adapts an Application to the chain sequencer
type Bridge struct {
	App        Application
	MaxTxBytes int64
}

func (b *Bridge) PreparePayload(next chain.Height) []byte {
	maxBytes := b.MaxTxBytes
	if maxBytes == 0 {
		maxBytes = 1 << 24
	}
	resp := b.App.PrepareProposal(RequestPrepareProposal{Height: int64(next), MaxTxBytes: maxBytes})
	// payload: txs joined with 0x00 (signed txs are JSON and never contain 0x00)

	var payload []byte

	for _, tx := range resp.Txs {
		payload = append(payload, tx...)
		payload = append(payload, 0x00)
	}
	return payload
}

func (b *Bridge) OnCommit(committed chain.Block) chain.Hash {
	txs := SplitPayload(committed.Payload)
	resp := b.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    int64(committed.Height),
		Timestamp: committed.Time.Unix(),
		Txs:       txs,
	})
	return chain.Hash(resp.AppHash)
}

// SplitPayload recovers the transactions of a block payload
func SplitPayload(p []byte) [][]byte {
	var out [][]byte
	cur := make([]byte, 0, len(p))
	for _, b := range p {
		if b == 0x00 {
			if len(cur) > 0 {
				out = append(out, append([]byte(nil), cur...))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, b)
	}
	if len(cur) > 0 {
		out = append(out, append([]byte(nil), cur...))
	}
	return out
}
