package near

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/vietddude/chaincore/internal/chain"
	"github.com/vietddude/chaincore/internal/core/domain"
)

const payloadBlockHash = "block_hash"

// Named accounts: dot-separated parts of lowercase alphanumerics with
// interior hyphens or underscores, 2 to 64 chars total.
var namedAccountRe = regexp.MustCompile(`^([a-z\d]+([-_][a-z\d]+)*\.)*[a-z\d]+([-_][a-z\d]+)*$`)

// Provider implements offline operations for NEAR: implicit account
// derivation, account id validation, and ed25519 transfer signing.
type Provider struct {
	resolve chain.ClientResolver
	info    *domain.ChainInfo
}

// NewProvider creates a provider backed by a lazy client resolver.
func NewProvider(resolve chain.ClientResolver) *Provider {
	return &Provider{resolve: resolve}
}

func (p *Provider) SetChainInfo(info *domain.ChainInfo) { p.info = info }

// PubkeyToAddress derives the implicit account id, the lowercase hex
// of the 32-byte ed25519 public key.
func (p *Provider) PubkeyToAddress(pubkey []byte) (string, error) {
	if len(pubkey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("unexpected pubkey length %d", len(pubkey))
	}
	return hex.EncodeToString(pubkey), nil
}

func isImplicitAccount(address string) bool {
	if len(address) != 64 {
		return false
	}
	_, err := hex.DecodeString(address)
	return err == nil && address == strings.ToLower(address)
}

// VerifyAddress accepts implicit accounts (64 lowercase hex chars) and
// named accounts.
func (p *Provider) VerifyAddress(address string) (*domain.AddressValidation, error) {
	valid := isImplicitAccount(address) ||
		(len(address) >= 2 && len(address) <= 64 && namedAccountRe.MatchString(address))
	if !valid {
		return &domain.AddressValidation{}, nil
	}
	return &domain.AddressValidation{
		IsValid:    true,
		Normalized: address,
		Display:    address,
	}, nil
}

// BuildUnsignedTx fills the sender nonce, gas price, and the recent
// block hash the wire format anchors to.
func (p *Provider) BuildUnsignedTx(ctx context.Context, tx *domain.UnsignedTx) (*domain.UnsignedTx, error) {
	if len(tx.Inputs) != 1 || len(tx.Outputs) != 1 {
		return nil, fmt.Errorf("near transfers need exactly one input and one output")
	}
	client, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	nearClient, ok := client.(*Client)
	if !ok {
		return nil, fmt.Errorf("unexpected client type %T", client)
	}

	if tx.Payload == nil {
		tx.Payload = map[string]any{}
	}
	if _, ok := tx.Payload[payloadBlockHash]; !ok {
		hash, err := nearClient.GetLatestBlockHash(ctx)
		if err != nil {
			return nil, err
		}
		tx.Payload[payloadBlockHash] = hash
	}
	if tx.FeePricePerUnit.IsZero() {
		fee, err := client.GetFeePricePerUnit(ctx)
		if err != nil {
			return nil, err
		}
		tx.FeePricePerUnit = fee.Normal
	}
	if tx.Nonce == nil {
		var nonce uint64
		tx.Nonce = &nonce
	}
	return tx, nil
}

// borshWriter serializes the NEAR transaction wire format: strings as
// u32 length plus bytes, integers little-endian, u128 as 16 bytes.
type borshWriter struct {
	buf bytes.Buffer
}

func (w *borshWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *borshWriter) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *borshWriter) u32(v uint32) { binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *borshWriter) u64(v uint64) { binary.Write(&w.buf, binary.LittleEndian, v) }

func (w *borshWriter) u128(v *big.Int) error {
	if v.Sign() < 0 || v.BitLen() > 128 {
		return fmt.Errorf("value %s does not fit in u128", v)
	}
	var be [16]byte
	v.FillBytes(be[:])
	for i := 15; i >= 0; i-- {
		w.buf.WriteByte(be[i])
	}
	return nil
}

// Action enum: Transfer is variant 3.
const actionTransfer = 3

// ed25519 is key type 0 in the PublicKey and Signature layouts.
const keyTypeED25519 = 0

func serializeTransfer(
	signerID string,
	pubkey []byte,
	nonce uint64,
	receiverID string,
	blockHash []byte,
	deposit *big.Int,
) ([]byte, error) {
	if len(blockHash) != 32 {
		return nil, fmt.Errorf("block hash must be 32 bytes, got %d", len(blockHash))
	}
	var w borshWriter
	w.str(signerID)
	w.u8(keyTypeED25519)
	w.buf.Write(pubkey)
	w.u64(nonce)
	w.str(receiverID)
	w.buf.Write(blockHash)
	w.u32(1) // one action
	w.u8(actionTransfer)
	if err := w.u128(deposit); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

// SignTransaction signs the transfer with the input account key and
// assembles the base64 wire form. TxID is the base58 sha256 of the
// unsigned transaction bytes, which is what the node reports back.
func (p *Provider) SignTransaction(
	_ context.Context,
	tx *domain.UnsignedTx,
	signers map[string]chain.Signer,
) (*domain.SignedTx, error) {
	if len(tx.Inputs) != 1 || len(tx.Outputs) != 1 {
		return nil, fmt.Errorf("near transfers need exactly one input and one output")
	}
	if tx.Nonce == nil {
		return nil, fmt.Errorf("unsigned tx is missing a nonce")
	}
	from, to := tx.Inputs[0], tx.Outputs[0]
	signer, ok := signers[from.Address]
	if !ok {
		return nil, fmt.Errorf("no signer for account %s", from.Address)
	}
	pubkey := signer.Pubkey()
	if len(pubkey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("unexpected pubkey length %d", len(pubkey))
	}

	blockHash, err := base58.Decode(tx.PayloadString(payloadBlockHash))
	if err != nil {
		return nil, fmt.Errorf("decode block hash: %w", err)
	}
	deposit := to.Value.BigInt()

	unsigned, err := serializeTransfer(from.Address, pubkey, *tx.Nonce, to.Address, blockHash, deposit)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(unsigned)

	sig, err := signer.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("unexpected signature length %d", len(sig))
	}

	var w borshWriter
	w.buf.Write(unsigned)
	w.u8(keyTypeED25519)
	w.buf.Write(sig)

	return &domain.SignedTx{
		TxID: base58.Encode(digest[:]),
		Raw:  base64.StdEncoding.EncodeToString(w.buf.Bytes()),
	}, nil
}

// KeySigner signs with an ed25519 private key.
type KeySigner struct {
	priv ed25519.PrivateKey
}

// NewKeySigner wraps an ed25519 private key (64-byte expanded form).
func NewKeySigner(priv ed25519.PrivateKey) (*KeySigner, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("unexpected private key length %d", len(priv))
	}
	return &KeySigner{priv: priv}, nil
}

func (s *KeySigner) Sign(digest []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, digest), nil
}

func (s *KeySigner) Pubkey() []byte {
	return s.priv.Public().(ed25519.PublicKey)
}

// Factory builds near clients and providers for the registry.
type Factory struct{}

func (Factory) NewClient(cfg domain.ClientConfig) (chain.Client, error) {
	return NewClient(cfg)
}

func (Factory) NewProvider(resolve chain.ClientResolver) (chain.Provider, error) {
	return NewProvider(resolve), nil
}

// Register installs the near factory.
func Register(r *chain.Registry) {
	r.Register(domain.ImplNEAR, Factory{})
}

var (
	_ chain.Provider = (*Provider)(nil)
	_ chain.Signer   = (*KeySigner)(nil)
)
