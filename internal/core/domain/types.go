package domain

import (
	"github.com/shopspring/decimal"
)

// ClientInfo is the result of a node health probe.
type ClientInfo struct {
	BestBlockNumber uint64
	IsReady         bool
}

// AddressInfo is the on-chain state of one account.
type AddressInfo struct {
	Address       string
	Balance       decimal.Decimal
	Nonce         uint64
	ExistsOnChain bool
}

// BalanceRequest asks for one balance. An empty Token means the
// chain's native asset.
type BalanceRequest struct {
	Address string
	Token   string
}

// TxStatus is the lifecycle state of a broadcast transaction.
type TxStatus int

const (
	TxStatusPending TxStatus = iota
	TxStatusConfirmed
	TxStatusFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusPending:
		return "pending"
	case TxStatusConfirmed:
		return "confirmed"
	case TxStatusFailed:
		return "failed"
	}
	return "unknown"
}

// FeePricePerUnit is a node's fee schedule in the chain's smallest
// price unit (wei-per-gas, lamports-per-signature, ...).
type FeePricePerUnit struct {
	Normal decimal.Decimal
	Fast   decimal.Decimal
	Slow   decimal.Decimal
}

// TokenInfo describes a token contract.
type TokenInfo struct {
	Address  string
	Name     string
	Symbol   string
	Decimals int
}

// UTXO is one unspent output on UTXO-model chains.
type UTXO struct {
	TxID  string
	VOut  uint32
	Value decimal.Decimal
}

// AddressValidation is the outcome of address verification.
type AddressValidation struct {
	IsValid    bool
	Normalized string
	Display    string
}
