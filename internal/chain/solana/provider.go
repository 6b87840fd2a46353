package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/mr-tron/base58"

	"github.com/vietddude/chaincore/internal/chain"
	"github.com/vietddude/chaincore/internal/core/domain"
)

const payloadBlockhash = "recentBlockhash"

// Provider builds, signs, and validates for Solana.
type Provider struct {
	resolve chain.ClientResolver
	info    *domain.ChainInfo
}

// NewProvider creates the Solana provider with a lazy client resolver.
func NewProvider(resolve chain.ClientResolver) *Provider {
	return &Provider{resolve: resolve}
}

// SetChainInfo binds the chain.
func (p *Provider) SetChainInfo(info *domain.ChainInfo) { p.info = info }

// PubkeyToAddress encodes a 32-byte ed25519 public key as base58.
func (p *Provider) PubkeyToAddress(pubkey []byte) (string, error) {
	if len(pubkey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("solana: pubkey must be %d bytes, got %d",
			ed25519.PublicKeySize, len(pubkey))
	}
	return base58.Encode(pubkey), nil
}

// VerifyAddress accepts base58 strings decoding to 32 bytes.
func (p *Provider) VerifyAddress(address string) (*domain.AddressValidation, error) {
	decoded, err := base58.Decode(address)
	if err != nil || len(decoded) != ed25519.PublicKeySize {
		return &domain.AddressValidation{}, nil
	}
	return &domain.AddressValidation{
		IsValid:    true,
		Normalized: address,
		Display:    address,
	}, nil
}

// BuildUnsignedTx resolves the recent blockhash and fee the
// transaction must carry. The client is only resolved here.
func (p *Provider) BuildUnsignedTx(ctx context.Context, tx *domain.UnsignedTx) (*domain.UnsignedTx, error) {
	client, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	solClient, ok := client.(*Client)
	if !ok {
		return nil, fmt.Errorf("solana: resolved client is %T", client)
	}

	if tx.PayloadString(payloadBlockhash) == "" {
		blockhash, err := solClient.GetLatestBlockhash(ctx)
		if err != nil {
			return nil, err
		}
		if tx.Payload == nil {
			tx.Payload = make(map[string]any)
		}
		tx.Payload[payloadBlockhash] = blockhash
	}

	if tx.FeePricePerUnit.IsZero() {
		fee, err := client.GetFeePricePerUnit(ctx)
		if err != nil {
			return nil, err
		}
		tx.FeePricePerUnit = fee.Normal
	}

	return tx, nil
}

// SignTransaction assembles a system transfer, signs its message with
// the sender's signer, and returns the base64 wire form.
func (p *Provider) SignTransaction(
	ctx context.Context,
	tx *domain.UnsignedTx,
	signers map[string]chain.Signer,
) (*domain.SignedTx, error) {
	if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return nil, fmt.Errorf("solana: transaction needs one input and one output")
	}
	blockhashStr := tx.PayloadString(payloadBlockhash)
	if blockhashStr == "" {
		return nil, fmt.Errorf("solana: blockhash not resolved, call BuildUnsignedTx first")
	}

	fromAddr := tx.Inputs[0].Address
	signer, ok := signers[fromAddr]
	if !ok {
		return nil, fmt.Errorf("solana: no signer for %s", fromAddr)
	}

	from, err := solanago.PublicKeyFromBase58(fromAddr)
	if err != nil {
		return nil, fmt.Errorf("parse sender: %w", err)
	}
	to, err := solanago.PublicKeyFromBase58(tx.Outputs[0].Address)
	if err != nil {
		return nil, fmt.Errorf("parse recipient: %w", err)
	}
	blockhash, err := solanago.HashFromBase58(blockhashStr)
	if err != nil {
		return nil, fmt.Errorf("parse blockhash: %w", err)
	}

	lamports := tx.Outputs[0].Value.BigInt().Uint64()
	built, err := solanago.NewTransaction(
		[]solanago.Instruction{
			system.NewTransferInstruction(lamports, from, to).Build(),
		},
		blockhash,
		solanago.TransactionPayer(from),
	)
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}

	message, err := built.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	rawSig, err := signer.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if len(rawSig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("solana: signature must be %d bytes, got %d",
			ed25519.SignatureSize, len(rawSig))
	}

	var sig solanago.Signature
	copy(sig[:], rawSig)
	built.Signatures = []solanago.Signature{sig}

	wire, err := built.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	return &domain.SignedTx{
		TxID: sig.String(),
		Raw:  base64.StdEncoding.EncodeToString(wire),
	}, nil
}

// KeySigner signs with an in-process ed25519 key. Intended for tests
// and tooling.
type KeySigner struct {
	key ed25519.PrivateKey
}

// NewKeySigner wraps a private key.
func NewKeySigner(key ed25519.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

func (s *KeySigner) Sign(digest []byte) ([]byte, error) {
	return ed25519.Sign(s.key, digest), nil
}

func (s *KeySigner) Pubkey() []byte {
	return []byte(s.key.Public().(ed25519.PublicKey))
}

var (
	_ chain.Provider = (*Provider)(nil)
	_ chain.Signer   = (*KeySigner)(nil)
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
	r.Register(domain.ImplSolana, Factory{})
}
