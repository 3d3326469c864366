package api

import (
	"github.com/uhyunpark/hypermarket/pkg/app/core/marketplace"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// ChainStatus represents sequencer and application status
type ChainStatus struct {
	Height      uint64 `json:"height"`      // Last finalized block
	AppHash     string `json:"appHash"`     // App hash of that block
	BlockTime   int64  `json:"blockTime"`   // Unix seconds
	MempoolSize int    `json:"mempoolSize"` // Pending transactions
}

// LedgerInfo is the ledger configuration plus counters
type LedgerInfo struct {
	marketplace.Stats
	Unsold uint64 `json:"unsold"`
}

// AccountInfo represents account balance and nonce
type AccountInfo struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"` // Last accepted nonce; the next tx must use a larger one
}

// ListingsResponse wraps a catalog query result
type ListingsResponse struct {
	Height   uint64                 `json:"height"`
	Listings []*marketplace.Listing `json:"listings"`
}

// SubmitTxResponse is the response from transaction submission
type SubmitTxResponse struct {
	Status       string `json:"status"` // "submitted"
	TxHash       string `json:"txHash"` // Look up the receipt at /api/v1/tx/{txHash}
	SubmissionID string `json:"submissionId"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the envelope of every pushed message
type WSMessage struct {
	Type    string `json:"type"` // "block" or an event type such as "listing_created"
	Channel string `json:"channel"`
	Height  uint64 `json:"height"`
	TxHash  string `json:"txHash,omitempty"`
	Data    any    `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["listings", "blocks", "account:0x..."]
}

// BlockUpdate is broadcast on the blocks channel after every commit
type BlockUpdate struct {
	Height  uint64 `json:"height"`
	AppHash string `json:"appHash"`
	Txs     int    `json:"txs"`
	Failed  int    `json:"failed"`
}
