package near

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/vietddude/chaincore/internal/chain"
	"github.com/vietddude/chaincore/internal/core/domain"
)

// rpcStub answers JSON-RPC calls from a method table. An entry
// starting with "!" is returned as an error message instead.
func rpcStub(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int             `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		resp, ok := responses[req.Method]
		if !ok {
			t.Errorf("unexpected method %s", req.Method)
			return
		}
		if msg, isErr := strings.CutPrefix(resp, "!"); isErr {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32000,"message":%q}}`, req.ID, msg)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, resp)
	}))
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(domain.ClientConfig{Type: "rpc", URL: url})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestGetInfo(t *testing.T) {
	srv := rpcStub(t, map[string]string{
		"status": `{"sync_info":{"latest_block_height":112233445,"syncing":false}}`,
	})
	defer srv.Close()

	info, err := newTestClient(t, srv.URL).GetInfo(context.Background())
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.BestBlockNumber != 112233445 {
		t.Errorf("BestBlockNumber = %d, want 112233445", info.BestBlockNumber)
	}
	if !info.IsReady {
		t.Error("expected ready node")
	}
}

func TestGetInfo_SyncingNode(t *testing.T) {
	srv := rpcStub(t, map[string]string{
		"status": `{"sync_info":{"latest_block_height":5,"syncing":true}}`,
	})
	defer srv.Close()

	info, err := newTestClient(t, srv.URL).GetInfo(context.Background())
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.IsReady {
		t.Error("syncing node must not report ready")
	}
}

func TestGetAddresses_MissingAccount(t *testing.T) {
	srv := rpcStub(t, map[string]string{
		"query": `!account nosuch.near does not exist while viewing`,
	})
	defer srv.Close()

	infos, err := newTestClient(t, srv.URL).GetAddresses(context.Background(),
		[]string{"nosuch.near"})
	if err != nil {
		t.Fatalf("GetAddresses: %v", err)
	}
	if infos[0] == nil {
		t.Fatal("missing account is a valid answer, not a failure")
	}
	if infos[0].ExistsOnChain {
		t.Error("missing account must not exist on chain")
	}
}

func TestGetAddresses(t *testing.T) {
	srv := rpcStub(t, map[string]string{
		"query": `{"amount":"399992611103597728750000000","storage_usage":182}`,
	})
	defer srv.Close()

	infos, err := newTestClient(t, srv.URL).GetAddresses(context.Background(),
		[]string{"alice.near"})
	if err != nil {
		t.Fatalf("GetAddresses: %v", err)
	}
	if infos[0] == nil || !infos[0].ExistsOnChain {
		t.Fatal("account should exist on chain")
	}
	want := decimal.RequireFromString("399992611103597728750000000")
	if !infos[0].Balance.Equal(want) {
		t.Errorf("Balance = %s, want %s", infos[0].Balance, want)
	}
}

func TestGetTransactionStatuses(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     domain.TxStatus
	}{
		{"success", `{"status":{"SuccessValue":""}}`, domain.TxStatusConfirmed},
		{"failure", `{"status":{"Failure":{"error_type":"ActionError"}}}`, domain.TxStatusFailed},
		{"unknown", `!Transaction 9av2U6cova7LZPA9NPij6CTUrpBbgPG6LKVkyhcCqtk3 doesn't exist`, domain.TxStatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := rpcStub(t, map[string]string{"tx": tc.response})
			defer srv.Close()

			statuses, err := newTestClient(t, srv.URL).GetTransactionStatuses(context.Background(),
				[]string{"9av2U6cova7LZPA9NPij6CTUrpBbgPG6LKVkyhcCqtk3:alice.near"})
			if err != nil {
				t.Fatalf("GetTransactionStatuses: %v", err)
			}
			if statuses[0] == nil {
				t.Fatal("status is nil")
			}
			if *statuses[0] != tc.want {
				t.Errorf("status = %s, want %s", statuses[0], tc.want)
			}
		})
	}
}

func TestGetTransactionStatuses_BadTxID(t *testing.T) {
	srv := rpcStub(t, map[string]string{})
	defer srv.Close()

	statuses, err := newTestClient(t, srv.URL).GetTransactionStatuses(context.Background(),
		[]string{"no-sender-part"})
	if err != nil {
		t.Fatalf("GetTransactionStatuses: %v", err)
	}
	if statuses[0] != nil {
		t.Error("malformed txid must yield an absent slot")
	}
}

func TestGetFeePricePerUnit(t *testing.T) {
	srv := rpcStub(t, map[string]string{
		"gas_price": `{"gas_price":"100000000"}`,
	})
	defer srv.Close()

	fee, err := newTestClient(t, srv.URL).GetFeePricePerUnit(context.Background())
	if err != nil {
		t.Fatalf("GetFeePricePerUnit: %v", err)
	}
	want := decimal.NewFromInt(100000000)
	if !fee.Normal.Equal(want) || !fee.Fast.Equal(want) || !fee.Slow.Equal(want) {
		t.Errorf("tiers = %s/%s/%s, want flat %s", fee.Slow, fee.Normal, fee.Fast, want)
	}
}

func TestVerifyAddress(t *testing.T) {
	p := NewProvider(nil)
	valid := []string{
		"alice.near",
		"aurora",
		"sub.account.near",
		"ab",
		"app_1-dev.alice.near",
		"98793cd91a3f870fb126f66285808c7e094afcfc4eda8a970f6648cdf0dbd6de",
	}
	for _, addr := range valid {
		check, err := p.VerifyAddress(addr)
		if err != nil {
			t.Fatalf("VerifyAddress(%q): %v", addr, err)
		}
		if !check.IsValid {
			t.Errorf("address %q should verify", addr)
		}
		if check.Normalized != addr {
			t.Errorf("Normalized = %q, want %q", check.Normalized, addr)
		}
	}

	invalid := []string{
		"",
		"a",
		"Alice.near",
		"alice..near",
		"-alice.near",
		"alice_.near",
		strings.Repeat("a", 65),
	}
	for _, addr := range invalid {
		check, err := p.VerifyAddress(addr)
		if err != nil {
			t.Fatalf("VerifyAddress(%q): %v", addr, err)
		}
		if check.IsValid {
			t.Errorf("address %q should not verify", addr)
		}
	}
}

func TestPubkeyToAddress(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	p := NewProvider(nil)
	addr, err := p.PubkeyToAddress(pub)
	if err != nil {
		t.Fatalf("PubkeyToAddress: %v", err)
	}
	check, err := p.VerifyAddress(addr)
	if err != nil {
		t.Fatalf("VerifyAddress: %v", err)
	}
	if !check.IsValid {
		t.Errorf("implicit account %q did not verify", addr)
	}

	if _, err := p.PubkeyToAddress(pub[:16]); err == nil {
		t.Error("short pubkey must be rejected")
	}
}

func TestSignTransaction(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer, err := NewKeySigner(priv)
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	p := NewProvider(nil)
	from, err := p.PubkeyToAddress(pub)
	if err != nil {
		t.Fatalf("PubkeyToAddress: %v", err)
	}

	blockHash := sha256.Sum256([]byte("recent block"))
	nonce := uint64(42)
	tx := &domain.UnsignedTx{
		Inputs:  []domain.TxInput{{Address: from, Value: decimal.RequireFromString("1000000000000000000000000")}},
		Outputs: []domain.TxOutput{{Address: "bob.near", Value: decimal.RequireFromString("1000000000000000000000000")}},
		Nonce:   &nonce,
		Payload: map[string]any{payloadBlockHash: base58.Encode(blockHash[:])},
	}

	signed, err := p.SignTransaction(context.Background(), tx,
		map[string]chain.Signer{from: signer})
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}

	wire, err := base64.StdEncoding.DecodeString(signed.Raw)
	if err != nil {
		t.Fatalf("Raw is not base64: %v", err)
	}
	if len(wire) < ed25519.SignatureSize+1 {
		t.Fatalf("wire form too short: %d bytes", len(wire))
	}

	// The signed form is the unsigned bytes followed by the key type
	// byte and the 64-byte signature.
	unsigned := wire[:len(wire)-ed25519.SignatureSize-1]
	if keyType := wire[len(wire)-ed25519.SignatureSize-1]; keyType != 0 {
		t.Errorf("signature key type = %d, want 0", keyType)
	}
	sig := wire[len(wire)-ed25519.SignatureSize:]
	digest := sha256.Sum256(unsigned)
	if !ed25519.Verify(pub, digest[:], sig) {
		t.Error("signature does not verify against the transaction digest")
	}
	if signed.TxID != base58.Encode(digest[:]) {
		t.Errorf("TxID = %s, want the base58 digest of the unsigned bytes", signed.TxID)
	}
}
