package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/vietddude/chaincore/internal/chain"
	"github.com/vietddude/chaincore/internal/core/domain"
)

const defaultGasLimit = 21000

// Provider builds, signs, and validates for EVM chains.
type Provider struct {
	resolve chain.ClientResolver
	info    *domain.ChainInfo
	chainID *big.Int
}

// NewProvider creates the EVM provider with a lazy client resolver.
func NewProvider(resolve chain.ClientResolver) *Provider {
	return &Provider{resolve: resolve, chainID: big.NewInt(1)}
}

// SetChainInfo binds the chain and reads the chain_id option.
func (p *Provider) SetChainInfo(info *domain.ChainInfo) {
	p.info = info
	if id, err := strconv.ParseInt(info.Option("chain_id", "1"), 10, 64); err == nil {
		p.chainID = big.NewInt(id)
	}
}

// PubkeyToAddress derives the EIP-55 address from a secp256k1 public
// key, compressed or uncompressed.
func (p *Provider) PubkeyToAddress(pubkey []byte) (string, error) {
	var key *ecdsa.PublicKey
	var err error
	switch len(pubkey) {
	case 33:
		key, err = crypto.DecompressPubkey(pubkey)
	default:
		key, err = crypto.UnmarshalPubkey(pubkey)
	}
	if err != nil {
		return "", fmt.Errorf("parse pubkey: %w", err)
	}
	return crypto.PubkeyToAddress(*key).Hex(), nil
}

// VerifyAddress accepts 20-byte hex addresses; mixed-case input must
// carry a valid EIP-55 checksum.
func (p *Provider) VerifyAddress(address string) (*domain.AddressValidation, error) {
	if !common.IsHexAddress(address) {
		return &domain.AddressValidation{}, nil
	}
	checksummed := common.HexToAddress(address).Hex()

	bare := strings.TrimPrefix(address, "0x")
	mixed := bare != strings.ToLower(bare) && bare != strings.ToUpper(bare)
	if mixed && address != checksummed {
		return &domain.AddressValidation{}, nil
	}

	return &domain.AddressValidation{
		IsValid:    true,
		Normalized: strings.ToLower(checksummed),
		Display:    checksummed,
	}, nil
}

// BuildUnsignedTx fills nonce, fee price, and fee limit from the
// chain when the caller left them unset. This is where the lazy
// client resolution actually happens.
func (p *Provider) BuildUnsignedTx(ctx context.Context, tx *domain.UnsignedTx) (*domain.UnsignedTx, error) {
	if len(tx.Inputs) == 0 {
		return nil, fmt.Errorf("evm: transaction needs a sender input")
	}

	if tx.FeeLimit.IsZero() {
		tx.FeeLimit = decimal.NewFromInt(defaultGasLimit)
	}

	needNonce := tx.Nonce == nil
	needFee := tx.FeePricePerUnit.IsZero()
	if !needNonce && !needFee {
		return tx, nil
	}

	client, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}

	if needNonce {
		infos, err := client.GetAddresses(ctx, []string{tx.Inputs[0].Address})
		if err != nil {
			return nil, err
		}
		if infos[0] == nil {
			return nil, fmt.Errorf("evm: account %s not resolvable", tx.Inputs[0].Address)
		}
		nonce := infos[0].Nonce
		tx.Nonce = &nonce
	}

	if needFee {
		fee, err := client.GetFeePricePerUnit(ctx)
		if err != nil {
			return nil, err
		}
		tx.FeePricePerUnit = fee.Normal
	}

	return tx, nil
}

// SignTransaction signs a legacy transfer with the sender's signer
// and returns the 0x-hex raw transaction.
func (p *Provider) SignTransaction(
	ctx context.Context,
	tx *domain.UnsignedTx,
	signers map[string]chain.Signer,
) (*domain.SignedTx, error) {
	if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return nil, fmt.Errorf("evm: transaction needs one input and one output")
	}
	if tx.Nonce == nil {
		return nil, fmt.Errorf("evm: nonce not resolved, call BuildUnsignedTx first")
	}

	from := tx.Inputs[0].Address
	signer, ok := signers[from]
	if !ok {
		return nil, fmt.Errorf("evm: no signer for %s", from)
	}

	to := common.HexToAddress(tx.Outputs[0].Address)
	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    *tx.Nonce,
		GasPrice: tx.FeePricePerUnit.BigInt(),
		Gas:      tx.FeeLimit.BigInt().Uint64(),
		To:       &to,
		Value:    tx.Outputs[0].Value.BigInt(),
	})

	ethSigner := types.LatestSignerForChainID(p.chainID)
	digest := ethSigner.Hash(unsigned)

	sig, err := signer.Sign(digest.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	signed, err := unsigned.WithSignature(ethSigner, sig)
	if err != nil {
		return nil, fmt.Errorf("attach signature: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	return &domain.SignedTx{
		TxID: signed.Hash().Hex(),
		Raw:  hexutil.Encode(raw),
	}, nil
}

// SignMessage signs with the EIP-191 personal-message prefix.
func (p *Provider) SignMessage(_ context.Context, message string, signer chain.Signer) (string, error) {
	sig, err := signer.Sign(personalDigest(message))
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// VerifyMessage recovers the signing address and compares.
func (p *Provider) VerifyMessage(address, message, signature string) (bool, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return false, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}

	key, err := crypto.SigToPub(personalDigest(message), sig)
	if err != nil {
		return false, err
	}
	recovered := crypto.PubkeyToAddress(*key)
	return recovered == common.HexToAddress(address), nil
}

func personalDigest(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// KeySigner signs with an in-process secp256k1 key. Intended for
// tests and tooling; production callers bring their own Signer.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

// NewKeySigner wraps a private key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

func (s *KeySigner) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, s.key)
}

func (s *KeySigner) Pubkey() []byte {
	return crypto.FromECDSAPub(&s.key.PublicKey)
}

var (
	_ chain.Provider        = (*Provider)(nil)
	_ chain.MessageSigner   = (*Provider)(nil)
	_ chain.MessageVerifier = (*Provider)(nil)
	_ chain.Signer          = (*KeySigner)(nil)
)

// Factory wires this module into the registry.
type Factory struct{}

func (Factory) NewClient(cfg domain.ClientConfig) (chain.Client, error) {
	return NewClient(cfg)
}

func (Factory) NewProvider(resolve chain.ClientResolver) (chain.Provider, error) {
	return NewProvider(resolve), nil
}

// Register binds the module under its implementation identifier.
func Register(r *chain.Registry) {
	r.Register(domain.ImplEVM, Factory{})
}
