// Package near implements the chain module for NEAR. The node speaks
// JSON-RPC with named params; transaction status lookups additionally
// need the sender, so txids are "hash:sender_id" composites.
package near

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chaincore/internal/chain"
	"github.com/vietddude/chaincore/internal/core/domain"
	"github.com/vietddude/chaincore/internal/transport"
)

// Client talks to one NEAR node.
type Client struct {
	rpc *transport.JSONRPC
	log *slog.Logger
}

// NewClient creates a client for one RPC endpoint.
func NewClient(cfg domain.ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("near: endpoint url is empty")
	}
	req := transport.NewRequester(cfg.URL, transport.WithHeaders(cfg.Headers))
	return &Client{
		rpc: transport.NewJSONRPC(req),
		log: slog.Default().With("module", "near"),
	}, nil
}

func (c *Client) SetChainInfo(*domain.ChainInfo) {}

// GetInfo reads the node status. A node still syncing is not ready.
func (c *Client) GetInfo(ctx context.Context) (*domain.ClientInfo, error) {
	raw, err := c.rpc.Call(ctx, "status", []any{}, nil)
	if err != nil {
		return nil, err
	}
	var status struct {
		SyncInfo struct {
			LatestBlockHeight uint64 `json:"latest_block_height"`
			Syncing           bool   `json:"syncing"`
		} `json:"sync_info"`
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &domain.ClientInfo{
		BestBlockNumber: status.SyncInfo.LatestBlockHeight,
		IsReady:         !status.SyncInfo.Syncing,
	}, nil
}

// GetLatestBlockHash returns the base58 hash of the latest final
// block, needed when assembling a transaction.
func (c *Client) GetLatestBlockHash(ctx context.Context) (string, error) {
	raw, err := c.rpc.Call(ctx, "block", map[string]any{"finality": "final"}, nil)
	if err != nil {
		return "", err
	}
	var block struct {
		Header struct {
			Hash string `json:"hash"`
		} `json:"header"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return "", fmt.Errorf("decode block: %w", err)
	}
	return block.Header.Hash, nil
}

// accountMissing reports whether the RPC error means the account does
// not exist, which is a valid answer rather than a node failure.
func accountMissing(err error) bool {
	var perr *transport.ProtocolError
	if !errors.As(err, &perr) {
		return false
	}
	return strings.Contains(perr.Message, "does not exist") ||
		strings.Contains(perr.Message, "UNKNOWN_ACCOUNT")
}

func (c *Client) viewAccount(ctx context.Context, accountID string) (json.RawMessage, error) {
	return c.rpc.Call(ctx, "query", map[string]any{
		"request_type": "view_account",
		"finality":     "final",
		"account_id":   accountID,
	}, nil)
}

func (c *Client) getAddress(ctx context.Context, accountID string) (domain.AddressInfo, error) {
	info := domain.AddressInfo{Address: accountID}
	raw, err := c.viewAccount(ctx, accountID)
	if err != nil {
		if accountMissing(err) {
			return info, nil
		}
		return domain.AddressInfo{}, err
	}
	var account struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return domain.AddressInfo{}, fmt.Errorf("decode account: %w", err)
	}
	balance, err := decimal.NewFromString(account.Amount)
	if err != nil {
		return domain.AddressInfo{}, fmt.Errorf("parse amount %q: %w", account.Amount, err)
	}
	info.Balance = balance
	info.ExistsOnChain = true
	return info, nil
}

// GetAddresses fans the singular account lookup out per account id.
func (c *Client) GetAddresses(ctx context.Context, addresses []string) ([]*domain.AddressInfo, error) {
	return chain.FanOut(ctx, c.log, "getAddress", addresses, c.getAddress)
}

func (c *Client) getBalance(ctx context.Context, req domain.BalanceRequest) (decimal.Decimal, error) {
	if req.Token == "" {
		info, err := c.getAddress(ctx, req.Address)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return info.Balance, nil
	}

	// NEP-141 token balance via a view call on the token contract.
	args, err := json.Marshal(map[string]string{"account_id": req.Address})
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("marshal args: %w", err)
	}
	raw, err := c.rpc.Call(ctx, "query", map[string]any{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   req.Token,
		"method_name":  "ft_balance_of",
		"args_base64":  base64.StdEncoding.EncodeToString(args),
	}, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var view struct {
		Result []byte `json:"result"`
	}
	if err := json.Unmarshal(raw, &view); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode view call: %w", err)
	}
	// The contract returns a JSON string of the amount.
	var amount string
	if err := json.Unmarshal(view.Result, &amount); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode ft_balance_of result: %w", err)
	}
	balance, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return balance, nil
}

// GetBalances fans the singular balance lookup out per request.
// Token carries the NEP-141 contract account for non-native assets.
func (c *Client) GetBalances(ctx context.Context, requests []domain.BalanceRequest) ([]*decimal.Decimal, error) {
	return chain.FanOut(ctx, c.log, "getBalance", requests, c.getBalance)
}

// splitTxID splits the "hash:sender_id" composite form.
func splitTxID(txid string) (hash, sender string, err error) {
	hash, sender, ok := strings.Cut(txid, ":")
	if !ok || hash == "" || sender == "" {
		return "", "", fmt.Errorf("txid %q is not in hash:sender_id form", txid)
	}
	return hash, sender, nil
}

func (c *Client) getTransactionStatus(ctx context.Context, txid string) (domain.TxStatus, error) {
	hash, sender, err := splitTxID(txid)
	if err != nil {
		return 0, err
	}
	raw, err := c.rpc.Call(ctx, "tx", map[string]any{
		"tx_hash":           hash,
		"sender_account_id": sender,
	}, nil)
	if err != nil {
		var perr *transport.ProtocolError
		if errors.As(err, &perr) && strings.Contains(perr.Message, "doesn't exist") {
			return domain.TxStatusPending, nil
		}
		return 0, err
	}
	var outcome struct {
		Status map[string]json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return 0, fmt.Errorf("decode tx outcome: %w", err)
	}
	if _, failed := outcome.Status["Failure"]; failed {
		return domain.TxStatusFailed, nil
	}
	if _, ok := outcome.Status["SuccessValue"]; ok {
		return domain.TxStatusConfirmed, nil
	}
	if _, ok := outcome.Status["SuccessReceiptId"]; ok {
		return domain.TxStatusConfirmed, nil
	}
	return domain.TxStatusPending, nil
}

// GetTransactionStatuses fans the singular lookup out per composite
// txid.
func (c *Client) GetTransactionStatuses(ctx context.Context, txids []string) ([]*domain.TxStatus, error) {
	return chain.FanOut(ctx, c.log, "getTransactionStatus", txids, c.getTransactionStatus)
}

// GetFeePricePerUnit quotes the current gas price. NEAR adjusts the
// price per block and pins it at execution, so every tier is the same.
func (c *Client) GetFeePricePerUnit(ctx context.Context) (*domain.FeePricePerUnit, error) {
	raw, err := c.rpc.Call(ctx, "gas_price", []any{nil}, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		GasPrice string `json:"gas_price"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode gas price: %w", err)
	}
	price, err := decimal.NewFromString(parsed.GasPrice)
	if err != nil {
		return nil, fmt.Errorf("parse gas price %q: %w", parsed.GasPrice, err)
	}
	return &domain.FeePricePerUnit{Normal: price, Fast: price, Slow: price}, nil
}

// BroadcastTransaction submits base64 signed tx bytes without waiting
// for execution.
func (c *Client) BroadcastTransaction(ctx context.Context, rawTx string) (bool, error) {
	_, err := c.rpc.Call(ctx, "broadcast_tx_async", []any{rawTx}, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

var _ chain.Client = (*Client)(nil)
