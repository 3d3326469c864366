package transaction

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/crypto"
)

var ErrBadSignature = errors.New("signature does not match signer")

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify checks the signature of tx and returns the signer address.
// The recovered address must equal the address claimed in the payload.
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, error) {
	p, err := tx.Payload()
	if err != nil {
		return common.Address{}, err
	}
	msg, err := p.TypedMessage()
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid %s payload: %w", tx.Type, err)
	}
	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, err
	}
	recovered, err := v.eip712Signer.Recover(msg, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature verification failed: %w", err)
	}
	if recovered != p.From() {
		return common.Address{}, fmt.Errorf("%w: recovered %s, claimed %s", ErrBadSignature, recovered.Hex(), p.From().Hex())
	}
	return recovered, nil
}

// Sign fills in the signature of tx with key. Used by clients and tests.
func Sign(domain crypto.EIP712Domain, key *crypto.Signer, tx *SignedTransaction) error {
	p, err := tx.Payload()
	if err != nil {
		return err
	}
	msg, err := p.TypedMessage()
	if err != nil {
		return err
	}
	sig, err := crypto.NewEIP712Signer(domain).Sign(key, msg)
	if err != nil {
		return err
	}
	tx.Signature = crypto.EncodeSignature(sig)
	return nil
}
