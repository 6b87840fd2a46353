// Package chain defines the capability contracts every chain module
// satisfies, the registry resolving implementation identifiers to
// module factories, and the fan-out adapter deriving plural
// operations from singular ones.
package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chaincore/internal/core/domain"
)

// ErrNotImplemented is returned by optional capabilities a chain
// module does not support.
var ErrNotImplemented = errors.New("not implemented")

// Client represents one node endpoint for one blockchain. A client is
// bound to exactly one chain: SetChainInfo is called once before use
// and the instance is never shared across chains.
//
// Plural operations return one slot per input; a nil slot means the
// item could not be resolved (absent), while defined slots are valid
// even when siblings failed.
type Client interface {
	SetChainInfo(info *domain.ChainInfo)

	GetInfo(ctx context.Context) (*domain.ClientInfo, error)
	GetAddresses(ctx context.Context, addresses []string) ([]*domain.AddressInfo, error)
	GetBalances(ctx context.Context, requests []domain.BalanceRequest) ([]*decimal.Decimal, error)
	GetTransactionStatuses(ctx context.Context, txids []string) ([]*domain.TxStatus, error)
	GetFeePricePerUnit(ctx context.Context) (*domain.FeePricePerUnit, error)
	BroadcastTransaction(ctx context.Context, rawTx string) (bool, error)
}

// TokenInfoGetter is an optional client capability.
type TokenInfoGetter interface {
	GetTokenInfos(ctx context.Context, tokenAddresses []string) ([]*domain.TokenInfo, error)
}

// UTXOGetter is an optional client capability for UTXO-model chains.
type UTXOGetter interface {
	GetUTXOs(ctx context.Context, address string) ([]*domain.UTXO, error)
}

// Signer produces a signature over a chain-specific digest. Key
// material stays behind this interface; the library never holds it.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
	Pubkey() []byte
}

// ClientResolver lazily resolves a ready client. Providers call it
// only when an operation actually needs node state, so resolution
// cost is deferred until then.
type ClientResolver func(ctx context.Context) (Client, error)

// Provider is the stateless transaction/address logic for one
// blockchain. Like Client it is bound to one chain via SetChainInfo.
type Provider interface {
	SetChainInfo(info *domain.ChainInfo)

	PubkeyToAddress(pubkey []byte) (string, error)
	VerifyAddress(address string) (*domain.AddressValidation, error)
	BuildUnsignedTx(ctx context.Context, tx *domain.UnsignedTx) (*domain.UnsignedTx, error)
	SignTransaction(ctx context.Context, tx *domain.UnsignedTx, signers map[string]Signer) (*domain.SignedTx, error)
}

// TokenAddressVerifier is an optional provider capability. Chains
// without it fall back to VerifyAddress.
type TokenAddressVerifier interface {
	VerifyTokenAddress(address string) (*domain.AddressValidation, error)
}

// MessageSigner is an optional provider capability.
type MessageSigner interface {
	SignMessage(ctx context.Context, message string, signer Signer) (string, error)
}

// MessageVerifier is an optional provider capability.
type MessageVerifier interface {
	VerifyMessage(address, message, signature string) (bool, error)
}
