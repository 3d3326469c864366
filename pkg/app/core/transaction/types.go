package transaction

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hypermarket/pkg/crypto"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeDeposit TxType = "deposit" // Credit native units (bridge or faucet)
	TxTypeMint    TxType = "mint"    // Mint a registry asset to the signer
	TxTypeApprove TxType = "approve" // Approve an operator for one asset
	TxTypeList    TxType = "list"    // Create a listing (attaches listing fee)
	TxTypeBuy     TxType = "buy"     // Execute a sale (attaches payment)
)

// SignedTransaction is the JSON envelope accepted by the node.
// Exactly one payload matching Type must be set.
type SignedTransaction struct {
	Type      TxType          `json:"type"`
	Deposit   *DepositPayload `json:"deposit,omitempty"`
	Mint      *MintPayload    `json:"mint,omitempty"`
	Approve   *ApprovePayload `json:"approve,omitempty"`
	List      *ListPayload    `json:"list,omitempty"`
	Buy       *BuyPayload     `json:"buy,omitempty"`
	Signature string          `json:"signature"` // Hex-encoded signature (0x...)
}

// Payload is implemented by every transaction body
type Payload interface {
	// From is the address that must have signed the payload
	From() common.Address
	NonceValue() (uint64, error)
	TypedMessage() (crypto.TypedMessage, error)
}

// DepositPayload credits Amount to To. Signed by the bridge authority.
type DepositPayload struct {
	Signer string `json:"signer"` // Ethereum address (0x...)
	To     string `json:"to"`
	Amount string `json:"amount"` // uint64 as string
	Nonce  string `json:"nonce"`
}

// MintPayload mints a new asset owned by the signer
type MintPayload struct {
	Owner string `json:"owner"`
	URI   string `json:"uri"`
	Nonce string `json:"nonce"`
}

// ApprovePayload lets Operator move one asset of the signer
type ApprovePayload struct {
	Owner    string `json:"owner"`
	AssetID  string `json:"asset_id"`
	Operator string `json:"operator"`
	Nonce    string `json:"nonce"`
}

// ListPayload offers AssetID at Price, attaching Fee
type ListPayload struct {
	Seller  string `json:"seller"`
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Fee     string `json:"fee"`
	Nonce   string `json:"nonce"`
}

// BuyPayload buys ListingID, attaching Payment
type BuyPayload struct {
	Buyer     string `json:"buyer"`
	ListingID string `json:"listing_id"`
	Payment   string `json:"payment"`
	Nonce     string `json:"nonce"`
}

// ParseUint parses a decimal uint64 field
func ParseUint(name, v string) (uint64, error) {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

func parseAddress(name, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s address: %q", name, v)
	}
	return common.HexToAddress(v), nil
}

// canonical re-renders an integer field so that the signed value is the
// parsed value
func canonical(name, v string) (string, error) {
	n, err := ParseUint(name, v)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(n, 10), nil
}

func (p *DepositPayload) From() common.Address        { return common.HexToAddress(p.Signer) }
func (p *DepositPayload) NonceValue() (uint64, error) { return ParseUint("nonce", p.Nonce) }
func (p *DepositPayload) TypedMessage() (crypto.TypedMessage, error) {
	return build("Deposit", []field{
		{"signer", "address", p.Signer},
		{"to", "address", p.To},
		{"amount", "uint256", p.Amount},
		{"nonce", "uint256", p.Nonce},
	})
}

func (p *MintPayload) From() common.Address        { return common.HexToAddress(p.Owner) }
func (p *MintPayload) NonceValue() (uint64, error) { return ParseUint("nonce", p.Nonce) }
func (p *MintPayload) TypedMessage() (crypto.TypedMessage, error) {
	return build("Mint", []field{
		{"owner", "address", p.Owner},
		{"uri", "string", p.URI},
		{"nonce", "uint256", p.Nonce},
	})
}

func (p *ApprovePayload) From() common.Address        { return common.HexToAddress(p.Owner) }
func (p *ApprovePayload) NonceValue() (uint64, error) { return ParseUint("nonce", p.Nonce) }
func (p *ApprovePayload) TypedMessage() (crypto.TypedMessage, error) {
	return build("Approve", []field{
		{"owner", "address", p.Owner},
		{"assetId", "uint256", p.AssetID},
		{"operator", "address", p.Operator},
		{"nonce", "uint256", p.Nonce},
	})
}

func (p *ListPayload) From() common.Address        { return common.HexToAddress(p.Seller) }
func (p *ListPayload) NonceValue() (uint64, error) { return ParseUint("nonce", p.Nonce) }
func (p *ListPayload) TypedMessage() (crypto.TypedMessage, error) {
	return build("List", []field{
		{"seller", "address", p.Seller},
		{"assetId", "uint256", p.AssetID},
		{"price", "uint256", p.Price},
		{"fee", "uint256", p.Fee},
		{"nonce", "uint256", p.Nonce},
	})
}

func (p *BuyPayload) From() common.Address        { return common.HexToAddress(p.Buyer) }
func (p *BuyPayload) NonceValue() (uint64, error) { return ParseUint("nonce", p.Nonce) }
func (p *BuyPayload) TypedMessage() (crypto.TypedMessage, error) {
	return build("Buy", []field{
		{"buyer", "address", p.Buyer},
		{"listingId", "uint256", p.ListingID},
		{"payment", "uint256", p.Payment},
		{"nonce", "uint256", p.Nonce},
	})
}

type field struct {
	name, typ, value string
}

func build(primary string, fields []field) (crypto.TypedMessage, error) {
	msg := crypto.TypedMessage{
		PrimaryType: primary,
		Values:      apitypes.TypedDataMessage{},
	}
	for _, f := range fields {
		v := f.value
		switch f.typ {
		case "address":
			addr, err := parseAddress(f.name, v)
			if err != nil {
				return crypto.TypedMessage{}, err
			}
			v = addr.Hex()
		case "uint256":
			c, err := canonical(f.name, v)
			if err != nil {
				return crypto.TypedMessage{}, err
			}
			v = c
		}
		msg.Fields = append(msg.Fields, apitypes.Type{Name: f.name, Type: f.typ})
		msg.Values[f.name] = v
	}
	return msg, nil
}

// Payload returns the body matching Type
func (tx *SignedTransaction) Payload() (Payload, error) {
	var p Payload
	switch tx.Type {
	case TxTypeDeposit:
		if tx.Deposit != nil {
			p = tx.Deposit
		}
	case TxTypeMint:
		if tx.Mint != nil {
			p = tx.Mint
		}
	case TxTypeApprove:
		if tx.Approve != nil {
			p = tx.Approve
		}
	case TxTypeList:
		if tx.List != nil {
			p = tx.List
		}
	case TxTypeBuy:
		if tx.Buy != nil {
			p = tx.Buy
		}
	default:
		return nil, fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	if p == nil {
		return nil, fmt.Errorf("%s type requires %s payload", tx.Type, tx.Type)
	}
	return p, nil
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	p, err := tx.Payload()
	if err != nil {
		return err
	}
	if _, err := p.NonceValue(); err != nil {
		return err
	}
	if _, err := p.TypedMessage(); err != nil {
		return err
	}
	return nil
}

// ParseTransaction parses and validates a JSON transaction
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}
