package domain

import (
	"github.com/shopspring/decimal"
)

// TxInput is one spending side of a transfer.
type TxInput struct {
	Address string
	Value   decimal.Decimal
	// Token is the token contract address, empty for the native asset.
	Token string
}

// TxOutput is one receiving side of a transfer.
type TxOutput struct {
	Address string
	Value   decimal.Decimal
	Token   string
}

// UnsignedTx is a chain-agnostic transaction under construction.
// BuildUnsignedTx fills the chain-specific gaps (nonce, fee price,
// recent blockhash, ...) into Nonce/FeePricePerUnit/Payload; the
// struct then carries everything SignTransaction needs.
type UnsignedTx struct {
	Inputs  []TxInput
	Outputs []TxOutput

	// Nonce is nil until resolved for chains with account nonces.
	Nonce *uint64

	FeeLimit        decimal.Decimal
	FeePricePerUnit decimal.Decimal

	// Payload holds chain-specific material (recent blockhash,
	// account numbers, prebuilt sign bytes, ...).
	Payload map[string]any
}

// PayloadString reads a string payload field, empty when unset.
func (tx *UnsignedTx) PayloadString(key string) string {
	if tx.Payload == nil {
		return ""
	}
	s, _ := tx.Payload[key].(string)
	return s
}

// SignedTx is a fully signed transaction ready for broadcast.
type SignedTx struct {
	TxID string
	// Raw is the serialized wire form. Chain modules define the
	// encoding their node expects (hex for EVM, base64 elsewhere).
	Raw string
}
