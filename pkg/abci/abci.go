package abci

import (
	"encoding/json"
)

// Hash is a 32-byte application state hash
type Hash [32]byte

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}
type ResponseFinalizeBlock struct {
	TxResults []ExecTxResult
	AppHash   Hash // Hash of application state after execution
}

// ExecTxResult is the outcome of one transaction in a block
type ExecTxResult struct {
	Code   string  `json:"code"` // "ok" or an error code
	Log    string  `json:"log,omitempty"`
	Events []Event `json:"events,omitempty"`
}

// IsOK reports whether the transaction applied
func (r ExecTxResult) IsOK() bool { return r.Code == "ok" }

// Event is a typed notification emitted by a transaction
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes data as an event payload
func NewEvent(typ string, data any) Event {
	b, err := json.Marshal(data)
	if err != nil {
		b = []byte("null")
	}
	return Event{Type: typ, Data: b}
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}
