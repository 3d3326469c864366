package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/uhyunpark/hypermarket/pkg/app/core/transaction"
	"github.com/uhyunpark/hypermarket/pkg/crypto"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"marketctl"}, args...))
	return out.String(), err
}

func TestSignCommands(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other := "0x00000000000000000000000000000000000000aa"

	tests := []struct {
		name string
		args []string
		typ  transaction.TxType
	}{
		{"deposit", []string{"deposit", "--to", other, "--amount", "100", "--nonce", "1"}, transaction.TxTypeDeposit},
		{"mint", []string{"mint", "--uri", "ipfs://x", "--nonce", "2"}, transaction.TxTypeMint},
		{"approve", []string{"approve", "--asset", "1", "--operator", other, "--nonce", "3"}, transaction.TxTypeApprove},
		{"list", []string{"list", "--asset", "1", "--price", "50", "--fee", "1", "--nonce", "4"}, transaction.TxTypeList},
		{"buy", []string{"buy", "--listing", "1", "--payment", "50", "--nonce", "5"}, transaction.TxTypeBuy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"sign", "--key", key.PrivateKeyHex()}, tt.args...)...)
			if err != nil {
				t.Fatal(err)
			}
			tx, err := transaction.ParseTransaction([]byte(out))
			if err != nil {
				t.Fatalf("output is not a transaction: %v\n%s", err, out)
			}
			if tx.Type != tt.typ {
				t.Errorf("type = %s, want %s", tx.Type, tt.typ)
			}
			signer, err := transaction.NewVerifier(crypto.DefaultDomain()).Verify(tx)
			if err != nil || signer != key.Address() {
				t.Errorf("Verify = %s, %v", signer.Hex(), err)
			}
		})
	}
}

func TestSignRejectsBadInput(t *testing.T) {
	key, _ := crypto.GenerateKey()
	for _, args := range [][]string{
		{"sign", "--key", "nothex", "mint", "--uri", "x", "--nonce", "1"},
		{"sign", "--key", key.PrivateKeyHex(), "approve", "--asset", "1", "--operator", "bob", "--nonce", "1"},
		{"sign", "--key", key.PrivateKeyHex(), "buy", "--listing", "1", "--payment", "5"},
	} {
		if _, err := run(t, args...); err == nil {
			t.Errorf("%q succeeded", args)
		}
	}
}

func TestSignSubmit(t *testing.T) {
	var got []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"submitted"}`))
	}))
	defer ts.Close()

	key, _ := crypto.GenerateKey()
	out, err := run(t, "sign", "--key", key.PrivateKeyHex(), "--submit", ts.URL, "mint", "--uri", "ipfs://x", "--nonce", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "submitted:") {
		t.Errorf("output = %s", out)
	}
	if _, err := transaction.ParseTransaction(got); err != nil {
		t.Errorf("server received %s: %v", got, err)
	}
}

func TestSequencerKeyDeterministic(t *testing.T) {
	a, err := run(t, "sequencer-key", "--seed", "hypermarket-devnet-sequencer-seed-0001")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := run(t, "sequencer-key", "--seed", "hypermarket-devnet-sequencer-seed-0001")
	if a != b || !strings.HasPrefix(a, "0x") {
		t.Errorf("keys %q %q", a, b)
	}
}
