package cosmos

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/vietddude/chaincore/internal/chain"
	"github.com/vietddude/chaincore/internal/core/domain"
)

// payload keys understood by BuildUnsignedTx and SignTransaction
const (
	payloadChainID       = "chain_id"
	payloadAccountNumber = "account_number"
	payloadMemo          = "memo"
)

// Provider implements offline operations for Cosmos SDK chains:
// bech32 address derivation and verification, and amino-JSON
// transaction signing.
type Provider struct {
	resolve chain.ClientResolver
	info    *domain.ChainInfo
}

// NewProvider creates a provider backed by a lazy client resolver.
func NewProvider(resolve chain.ClientResolver) *Provider {
	return &Provider{resolve: resolve}
}

func (p *Provider) SetChainInfo(info *domain.ChainInfo) { p.info = info }

func (p *Provider) prefix() string { return p.info.Option(optBech32Prefix, "cosmos") }

// PubkeyToAddress derives the bech32 account address from a secp256k1
// public key, compressed or uncompressed.
func (p *Provider) PubkeyToAddress(pubkey []byte) (string, error) {
	compressed, err := normalizePubkey(pubkey)
	if err != nil {
		return "", err
	}
	return encodeBech32(p.prefix(), btcutil.Hash160(compressed))
}

func normalizePubkey(pubkey []byte) ([]byte, error) {
	switch len(pubkey) {
	case 33:
		if _, err := ethcrypto.DecompressPubkey(pubkey); err != nil {
			return nil, fmt.Errorf("invalid compressed pubkey: %w", err)
		}
		return pubkey, nil
	case 65:
		pub, err := ethcrypto.UnmarshalPubkey(pubkey)
		if err != nil {
			return nil, fmt.Errorf("invalid pubkey: %w", err)
		}
		return ethcrypto.CompressPubkey(pub), nil
	default:
		return nil, fmt.Errorf("unexpected pubkey length %d", len(pubkey))
	}
}

func encodeBech32(hrp string, payload []byte) (string, error) {
	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert bits: %w", err)
	}
	return bech32.Encode(hrp, converted)
}

// VerifyAddress checks bech32 structure, the configured prefix, and
// the 20-byte payload length.
func (p *Provider) VerifyAddress(address string) (*domain.AddressValidation, error) {
	invalid := &domain.AddressValidation{}
	hrp, data, err := bech32.Decode(strings.ToLower(address))
	if err != nil {
		return invalid, nil
	}
	if hrp != p.prefix() {
		return invalid, nil
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil || len(payload) != 20 {
		return invalid, nil
	}
	normalized := strings.ToLower(address)
	return &domain.AddressValidation{
		IsValid:    true,
		Normalized: normalized,
		Display:    normalized,
	}, nil
}

// BuildUnsignedTx fills in the sender sequence and fee price when the
// caller left them unset. Chain id and memo ride in the payload.
func (p *Provider) BuildUnsignedTx(ctx context.Context, tx *domain.UnsignedTx) (*domain.UnsignedTx, error) {
	if len(tx.Inputs) != 1 || len(tx.Outputs) != 1 {
		return nil, fmt.Errorf("cosmos transfers need exactly one input and one output")
	}
	if tx.Payload == nil {
		tx.Payload = map[string]any{}
	}
	if _, ok := tx.Payload[payloadChainID]; !ok {
		tx.Payload[payloadChainID] = p.info.Option(optChainID, "")
	}

	if tx.Nonce == nil || tx.FeePricePerUnit.IsZero() {
		client, err := p.resolve(ctx)
		if err != nil {
			return nil, err
		}
		if tx.Nonce == nil {
			infos, err := client.GetAddresses(ctx, []string{tx.Inputs[0].Address})
			if err != nil {
				return nil, err
			}
			if len(infos) != 1 || infos[0] == nil {
				return nil, fmt.Errorf("resolve account %s", tx.Inputs[0].Address)
			}
			nonce := infos[0].Nonce
			tx.Nonce = &nonce
		}
		if tx.FeePricePerUnit.IsZero() {
			fee, err := client.GetFeePricePerUnit(ctx)
			if err != nil {
				return nil, err
			}
			tx.FeePricePerUnit = fee.Normal
		}
	}
	return tx, nil
}

// signDoc is the canonical amino-JSON document whose sha256 digest
// gets signed. Field order is fixed by the JSON marshaller since keys
// are emitted alphabetically.
type signDoc struct {
	AccountNumber string            `json:"account_number"`
	ChainID       string            `json:"chain_id"`
	Fee           stdFee            `json:"fee"`
	Memo          string            `json:"memo"`
	Msgs          []json.RawMessage `json:"msgs"`
	Sequence      string            `json:"sequence"`
}

type stdFee struct {
	Amount []coin `json:"amount"`
	Gas    string `json:"gas"`
}

type coin struct {
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
}

type msgSend struct {
	Type  string `json:"type"`
	Value struct {
		Amount      []coin `json:"amount"`
		FromAddress string `json:"from_address"`
		ToAddress   string `json:"to_address"`
	} `json:"value"`
}

// SignTransaction signs the transfer with the input address key and
// assembles the base64 wire form.
func (p *Provider) SignTransaction(
	_ context.Context,
	tx *domain.UnsignedTx,
	signers map[string]chain.Signer,
) (*domain.SignedTx, error) {
	if tx.Nonce == nil {
		return nil, fmt.Errorf("unsigned tx is missing a sequence")
	}
	if len(tx.Inputs) != 1 || len(tx.Outputs) != 1 {
		return nil, fmt.Errorf("cosmos transfers need exactly one input and one output")
	}
	from, to := tx.Inputs[0], tx.Outputs[0]
	signer, ok := signers[from.Address]
	if !ok {
		return nil, fmt.Errorf("no signer for address %s", from.Address)
	}

	denom := to.Token
	if denom == "" {
		denom = p.info.Option(optDenom, "uatom")
	}
	var msg msgSend
	msg.Type = "cosmos-sdk/MsgSend"
	msg.Value.Amount = []coin{{Amount: to.Value.String(), Denom: denom}}
	msg.Value.FromAddress = from.Address
	msg.Value.ToAddress = to.Address
	rawMsg, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal msg: %w", err)
	}

	gas := tx.FeeLimit
	if gas.IsZero() {
		gas = decimal.NewFromInt(200000)
	}
	feeAmount := tx.FeePricePerUnit.Mul(gas).Ceil()
	doc := signDoc{
		AccountNumber: tx.PayloadString(payloadAccountNumber),
		ChainID:       tx.PayloadString(payloadChainID),
		Fee: stdFee{
			Amount: []coin{{Amount: feeAmount.String(), Denom: denom}},
			Gas:    gas.String(),
		},
		Memo:     tx.PayloadString(payloadMemo),
		Msgs:     []json.RawMessage{rawMsg},
		Sequence: fmt.Sprintf("%d", *tx.Nonce),
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal sign doc: %w", err)
	}
	digest := sha256.Sum256(docBytes)

	sig, err := signer.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if len(sig) > 64 {
		sig = sig[:64] // drop the recovery byte
	}
	compressed, err := normalizePubkey(signer.Pubkey())
	if err != nil {
		return nil, err
	}

	signed := map[string]any{
		"msg":  []json.RawMessage{rawMsg},
		"fee":  doc.Fee,
		"memo": doc.Memo,
		"signatures": []map[string]any{{
			"pub_key": map[string]string{
				"type":  "tendermint/PubKeySecp256k1",
				"value": base64.StdEncoding.EncodeToString(compressed),
			},
			"signature": base64.StdEncoding.EncodeToString(sig),
		}},
	}
	wire, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("marshal signed tx: %w", err)
	}

	txHash := sha256.Sum256(wire)
	return &domain.SignedTx{
		TxID: strings.ToUpper(hex.EncodeToString(txHash[:])),
		Raw:  base64.StdEncoding.EncodeToString(wire),
	}, nil
}

// KeySigner signs with a raw secp256k1 private key.
type KeySigner struct {
	priv []byte
}

// NewKeySigner wraps a 32-byte secp256k1 private key.
func NewKeySigner(priv []byte) (*KeySigner, error) {
	if _, err := ethcrypto.ToECDSA(priv); err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &KeySigner{priv: priv}, nil
}

func (s *KeySigner) Sign(digest []byte) ([]byte, error) {
	key, err := ethcrypto.ToECDSA(s.priv)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Sign(digest, key)
}

func (s *KeySigner) Pubkey() []byte {
	key, err := ethcrypto.ToECDSA(s.priv)
	if err != nil {
		return nil
	}
	return ethcrypto.CompressPubkey(&key.PublicKey)
}

// Factory builds cosmos clients and providers for the registry.
type Factory struct{}

func (Factory) NewClient(cfg domain.ClientConfig) (chain.Client, error) {
	return NewClient(cfg)
}

func (Factory) NewProvider(resolve chain.ClientResolver) (chain.Provider, error) {
	return NewProvider(resolve), nil
}

// Register installs the cosmos factory.
func Register(r *chain.Registry) {
	r.Register(domain.ImplCosmos, Factory{})
}

var (
	_ chain.Provider = (*Provider)(nil)
	_ chain.Signer   = (*KeySigner)(nil)
)
