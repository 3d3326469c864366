package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/contracts
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "Hypermarket")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local)
	VerifyingContract common.Address // Ledger address
}

// DefaultDomain returns the default EIP-712 domain for local development
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "Hypermarket",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TypedMessage is one EIP-712 struct ready for hashing.
// Integer values are passed as decimal strings, addresses as hex.
type TypedMessage struct {
	PrimaryType string
	Fields      []apitypes.Type
	Values      apitypes.TypedDataMessage
}

// EIP712Signer hashes, signs and recovers EIP-712 typed messages
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(msg TypedMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":  domainType,
			msg.PrimaryType: msg.Fields,
		},
		PrimaryType: msg.PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg.Values,
	}
}

// Hash returns the digest that should be signed
func (e *EIP712Signer) Hash(msg TypedMessage) ([]byte, error) {
	typedData := e.typedData(msg)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// Final digest: keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	digest := crypto.Keccak256Hash(rawData)

	return digest.Bytes(), nil
}

// Sign hashes msg and signs the digest
func (e *EIP712Signer) Sign(signer *Signer, msg TypedMessage) ([]byte, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", msg.PrimaryType, err)
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", msg.PrimaryType, err)
	}
	return signature, nil
}

// Recover returns the address that signed msg
func (e *EIP712Signer) Recover(msg TypedMessage, signature []byte) (common.Address, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash %s: %w", msg.PrimaryType, err)
	}
	return RecoverAddress(hash, signature)
}

// ToJSON renders msg in the format wallets expect for eth_signTypedData_v4
func (e *EIP712Signer) ToJSON(msg TypedMessage) (string, error) {
	jsonBytes, err := json.MarshalIndent(e.typedData(msg), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
