package transaction

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/crypto"
)

// TestSignedTransactionRoundTrip signs each transaction type, serializes it,
// parses it back and verifies the signer
func TestSignedTransactionRoundTrip(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := key.Address()
	domain := crypto.DefaultDomain()
	operator := common.HexToAddress("0x1E00000000000000000000000000000000000001")

	tests := []struct {
		name string
		tx   *SignedTransaction
	}{
		{"deposit", NewDeposit(addr, addr, 500, 1)},
		{"mint", NewMint(addr, "ipfs://bafy", 2)},
		{"approve", NewApprove(addr, 1, operator, 3)},
		{"list", NewList(addr, 1, 100, 1, 4)},
		{"buy", NewBuy(addr, 1, 100, 5)},
	}
	verifier := NewVerifier(domain)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Sign(domain, key, tt.tx); err != nil {
				t.Fatalf("failed to sign: %v", err)
			}
			txJSON, err := json.Marshal(tt.tx)
			if err != nil {
				t.Fatalf("failed to marshal tx: %v", err)
			}

			parsed, err := ParseTransaction(txJSON)
			if err != nil {
				t.Fatalf("failed to parse transaction: %v", err)
			}
			if parsed.Type != tt.tx.Type {
				t.Errorf("wrong type: got %s, want %s", parsed.Type, tt.tx.Type)
			}

			signer, err := verifier.Verify(parsed)
			if err != nil {
				t.Fatalf("verification failed: %v", err)
			}
			if signer != addr {
				t.Errorf("signer = %s, want %s", signer.Hex(), addr.Hex())
			}
		})
	}
}

func TestVerifyRejectsForgedSigner(t *testing.T) {
	attacker, _ := crypto.GenerateKey()
	victim := common.HexToAddress("0xAA00000000000000000000000000000000000000")
	domain := crypto.DefaultDomain()

	// attacker signs a purchase claiming to be the victim
	tx := NewBuy(victim, 1, 100, 1)
	if err := Sign(domain, attacker, tx); err != nil {
		t.Fatal(err)
	}
	if _, err := NewVerifier(domain).Verify(tx); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	key, _ := crypto.GenerateKey()
	domain := crypto.DefaultDomain()

	tx := NewList(key.Address(), 1, 100, 1, 1)
	if err := Sign(domain, key, tx); err != nil {
		t.Fatal(err)
	}
	tx.List.Price = "1"
	if _, err := NewVerifier(domain).Verify(tx); err == nil {
		t.Fatal("tampered price verified")
	}
}

func TestParseTransactionErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `O:GTC:BTC`},
		{"missing type", `{"signature":"0x00"}`},
		{"missing signature", `{"type":"mint","mint":{"owner":"0xAA00000000000000000000000000000000000000","nonce":"1"}}`},
		{"unknown type", `{"type":"order","signature":"0x00"}`},
		{"payload mismatch", `{"type":"buy","mint":{"owner":"0xAA00000000000000000000000000000000000000","nonce":"1"},"signature":"0x00"}`},
		{"negative price", `{"type":"list","list":{"seller":"0xAA00000000000000000000000000000000000000","asset_id":"1","price":"-5","fee":"1","nonce":"1"},"signature":"0x00"}`},
		{"bad address", `{"type":"buy","buy":{"buyer":"bob","listing_id":"1","payment":"1","nonce":"1"},"signature":"0x00"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTransaction([]byte(tt.raw)); err == nil {
				t.Errorf("ParseTransaction(%s) succeeded", tt.raw)
			}
		})
	}
}
