// Package solana implements the chain module for Solana, speaking
// JSON-RPC to the node and assembling transactions with solana-go.
package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chaincore/internal/chain"
	"github.com/vietddude/chaincore/internal/core/domain"
	"github.com/vietddude/chaincore/internal/transport"
)

// Client talks to one Solana node over JSON-RPC.
type Client struct {
	rpc  *transport.JSONRPC
	info *domain.ChainInfo
	log  *slog.Logger
}

// NewClient creates a client for one endpoint.
func NewClient(cfg domain.ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("solana: endpoint url is empty")
	}
	req := transport.NewRequester(cfg.URL, transport.WithHeaders(cfg.Headers))
	return &Client{
		rpc: transport.NewJSONRPC(req),
		log: slog.Default().With("module", "solana"),
	}, nil
}

// SetChainInfo binds the chain. Called once before use.
func (c *Client) SetChainInfo(info *domain.ChainInfo) { c.info = info }

// GetInfo probes slot height and node health. getHealth errors on an
// unhealthy node, which counts as a rejection, not a transport fault.
func (c *Client) GetInfo(ctx context.Context) (*domain.ClientInfo, error) {
	results, err := c.rpc.BatchCall(ctx, []transport.Request{
		{Method: "getSlot", Params: []any{map[string]string{"commitment": "finalized"}}},
		{Method: "getHealth", Params: []any{}},
	}, nil)
	if err != nil {
		return nil, err
	}
	if results[0].Err != nil {
		return nil, results[0].Err
	}

	var slot uint64
	if err := json.Unmarshal(results[0].Result, &slot); err != nil {
		return nil, fmt.Errorf("decode slot: %w", err)
	}

	var health string
	ready := results[1].Err == nil &&
		json.Unmarshal(results[1].Result, &health) == nil && health == "ok"

	return &domain.ClientInfo{BestBlockNumber: slot, IsReady: ready}, nil
}

// GetLatestBlockhash fetches the recent blockhash transactions must
// reference.
func (c *Client) GetLatestBlockhash(ctx context.Context) (string, error) {
	result, err := c.rpc.Call(ctx, "getLatestBlockhash",
		[]any{map[string]string{"commitment": "finalized"}}, nil)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("decode blockhash: %w", err)
	}
	return parsed.Value.Blockhash, nil
}

// GetAddresses resolves lamport balance and existence per address.
func (c *Client) GetAddresses(ctx context.Context, addresses []string) ([]*domain.AddressInfo, error) {
	calls := make([]transport.Request, len(addresses))
	for i, addr := range addresses {
		calls[i] = transport.Request{
			Method: "getAccountInfo",
			Params: []any{addr, map[string]string{"encoding": "base64"}},
		}
	}

	results, err := c.rpc.BatchCall(ctx, calls, nil)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.AddressInfo, len(addresses))
	for i, res := range results {
		if res.Err != nil {
			c.log.Warn("account lookup failed",
				"handler", "getAddress", "input", addresses[i], "error", res.Err)
			continue
		}
		var parsed struct {
			Value *struct {
				Lamports uint64 `json:"lamports"`
			} `json:"value"`
		}
		if err := json.Unmarshal(res.Result, &parsed); err != nil {
			c.log.Warn("account decode failed",
				"handler", "getAddress", "input", addresses[i], "error", err)
			continue
		}
		info := &domain.AddressInfo{Address: addresses[i]}
		if parsed.Value != nil {
			info.Balance = decimal.NewFromUint64(parsed.Value.Lamports)
			info.ExistsOnChain = true
		}
		out[i] = info
	}
	return out, nil
}

// GetBalances resolves native lamports, or SPL token balances when a
// mint address is given.
func (c *Client) GetBalances(ctx context.Context, requests []domain.BalanceRequest) ([]*decimal.Decimal, error) {
	calls := make([]transport.Request, len(requests))
	for i, req := range requests {
		if req.Token == "" {
			calls[i] = transport.Request{Method: "getBalance", Params: []any{req.Address}}
			continue
		}
		calls[i] = transport.Request{
			Method: "getTokenAccountsByOwner",
			Params: []any{
				req.Address,
				map[string]string{"mint": req.Token},
				map[string]string{"encoding": "jsonParsed"},
			},
		}
	}

	results, err := c.rpc.BatchCall(ctx, calls, nil)
	if err != nil {
		return nil, err
	}

	out := make([]*decimal.Decimal, len(requests))
	for i, res := range results {
		if res.Err != nil {
			c.log.Warn("balance lookup failed",
				"handler", "getBalance", "input", requests[i].Address, "error", res.Err)
			continue
		}
		value, err := decodeBalance(res.Result, requests[i].Token != "")
		if err != nil {
			c.log.Warn("balance decode failed",
				"handler", "getBalance", "input", requests[i].Address, "error", err)
			continue
		}
		out[i] = value
	}
	return out, nil
}

func decodeBalance(raw json.RawMessage, token bool) (*decimal.Decimal, error) {
	if !token {
		var parsed struct {
			Value uint64 `json:"value"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, err
		}
		d := decimal.NewFromUint64(parsed.Value)
		return &d, nil
	}

	// token accounts: sum over every account holding the mint
	var parsed struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								Amount string `json:"amount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, acc := range parsed.Value {
		amount, err := decimal.NewFromString(acc.Account.Data.Parsed.Info.TokenAmount.Amount)
		if err != nil {
			return nil, err
		}
		total = total.Add(amount)
	}
	return &total, nil
}

// GetTransactionStatuses maps signature statuses. An unknown
// signature (null slot in the node's answer) is absent.
func (c *Client) GetTransactionStatuses(ctx context.Context, txids []string) ([]*domain.TxStatus, error) {
	result, err := c.rpc.Call(ctx, "getSignatureStatuses",
		[]any{txids, map[string]bool{"searchTransactionHistory": true}}, nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("decode statuses: %w", err)
	}
	if len(parsed.Value) != len(txids) {
		return nil, &transport.ProtocolError{Message: fmt.Sprintf(
			"asked for %d signatures, got %d statuses", len(txids), len(parsed.Value),
		)}
	}

	out := make([]*domain.TxStatus, len(txids))
	for i, entry := range parsed.Value {
		if entry == nil {
			continue
		}
		status := domain.TxStatusPending
		switch {
		case len(entry.Err) > 0 && string(entry.Err) != "null":
			status = domain.TxStatusFailed
		case entry.ConfirmationStatus == "confirmed" || entry.ConfirmationStatus == "finalized":
			status = domain.TxStatusConfirmed
		}
		out[i] = &status
	}
	return out, nil
}

// GetFeePricePerUnit reads lamports-per-signature. Solana fees are
// flat, so all tiers match.
func (c *Client) GetFeePricePerUnit(ctx context.Context) (*domain.FeePricePerUnit, error) {
	result, err := c.rpc.Call(ctx, "getFees", []any{}, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Value struct {
			FeeCalculator struct {
				LamportsPerSignature uint64 `json:"lamportsPerSignature"`
			} `json:"feeCalculator"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("decode fees: %w", err)
	}
	price := decimal.NewFromUint64(parsed.Value.FeeCalculator.LamportsPerSignature)
	return &domain.FeePricePerUnit{Normal: price, Fast: price, Slow: price}, nil
}

// BroadcastTransaction submits a base64 raw transaction.
func (c *Client) BroadcastTransaction(ctx context.Context, rawTx string) (bool, error) {
	_, err := c.rpc.Call(ctx, "sendTransaction",
		[]any{rawTx, map[string]string{"encoding": "base64"}}, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

var _ chain.Client = (*Client)(nil)
