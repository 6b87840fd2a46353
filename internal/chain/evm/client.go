// Package evm implements the chain module for Ethereum-compatible
// networks (Ethereum, Polygon, BSC, ...), speaking JSON-RPC to the
// node and go-ethereum primitives for transactions and addresses.
package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/vietddude/chaincore/internal/chain"
	"github.com/vietddude/chaincore/internal/core/domain"
	"github.com/vietddude/chaincore/internal/transport"
)

// ERC-20 selectors
const (
	selBalanceOf = "0x70a08231"
	selName      = "0x06fdde03"
	selSymbol    = "0x95d89b41"
	selDecimals  = "0x313ce567"
)

// Client talks to one EVM node over JSON-RPC.
type Client struct {
	rpc  *transport.JSONRPC
	info *domain.ChainInfo
	log  *slog.Logger
}

// NewClient creates a client for one endpoint.
func NewClient(cfg domain.ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("evm: endpoint url is empty")
	}
	req := transport.NewRequester(cfg.URL, transport.WithHeaders(cfg.Headers))
	return &Client{
		rpc: transport.NewJSONRPC(req),
		log: slog.Default().With("module", "evm"),
	}, nil
}

// SetChainInfo binds the chain. Called once before use.
func (c *Client) SetChainInfo(info *domain.ChainInfo) { c.info = info }

// GetInfo probes node height and sync state.
func (c *Client) GetInfo(ctx context.Context) (*domain.ClientInfo, error) {
	results, err := c.rpc.BatchCall(ctx, []transport.Request{
		{Method: "eth_blockNumber", Params: []any{}},
		{Method: "eth_syncing", Params: []any{}},
	}, nil)
	if err != nil {
		return nil, err
	}
	if results[0].Err != nil {
		return nil, results[0].Err
	}

	height, err := parseQuantity(results[0].Result)
	if err != nil {
		return nil, err
	}

	// a node answering false to eth_syncing is caught up
	ready := results[1].Err == nil && bytes.Equal(results[1].Result, []byte("false"))

	return &domain.ClientInfo{
		BestBlockNumber: height.Uint64(),
		IsReady:         ready,
	}, nil
}

// GetAddresses resolves balance and nonce for each address. A failed
// address yields a nil slot.
func (c *Client) GetAddresses(ctx context.Context, addresses []string) ([]*domain.AddressInfo, error) {
	calls := make([]transport.Request, 0, len(addresses)*2)
	for _, addr := range addresses {
		calls = append(calls,
			transport.Request{Method: "eth_getBalance", Params: []any{addr, "latest"}},
			transport.Request{Method: "eth_getTransactionCount", Params: []any{addr, "latest"}},
		)
	}

	results, err := c.rpc.BatchCall(ctx, calls, nil)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.AddressInfo, len(addresses))
	for i, addr := range addresses {
		balRes, nonceRes := results[i*2], results[i*2+1]
		if balRes.Err != nil || nonceRes.Err != nil {
			c.log.Warn("address lookup failed",
				"handler", "getAddress", "input", addr,
				"error", firstErr(balRes.Err, nonceRes.Err))
			continue
		}
		balance, err1 := parseQuantity(balRes.Result)
		nonce, err2 := parseQuantity(nonceRes.Result)
		if err1 != nil || err2 != nil {
			c.log.Warn("address lookup failed",
				"handler", "getAddress", "input", addr,
				"error", firstErr(err1, err2))
			continue
		}
		out[i] = &domain.AddressInfo{
			Address:       addr,
			Balance:       decimal.NewFromBigInt(balance, 0),
			Nonce:         nonce.Uint64(),
			ExistsOnChain: true,
		}
	}
	return out, nil
}

// GetBalances resolves native or ERC-20 balances per request.
func (c *Client) GetBalances(ctx context.Context, requests []domain.BalanceRequest) ([]*decimal.Decimal, error) {
	calls := make([]transport.Request, len(requests))
	for i, req := range requests {
		if req.Token == "" {
			calls[i] = transport.Request{
				Method: "eth_getBalance",
				Params: []any{req.Address, "latest"},
			}
			continue
		}
		calls[i] = transport.Request{
			Method: "eth_call",
			Params: []any{map[string]string{
				"to":   req.Token,
				"data": selBalanceOf + leftPadAddress(req.Address),
			}, "latest"},
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
		value, err := parseQuantity(res.Result)
		if err != nil {
			c.log.Warn("balance lookup failed",
				"handler", "getBalance", "input", requests[i].Address, "error", err)
			continue
		}
		d := decimal.NewFromBigInt(value, 0)
		out[i] = &d
	}
	return out, nil
}

// GetTransactionStatuses maps receipts to statuses. A null receipt is
// a pending transaction, not an absent one.
func (c *Client) GetTransactionStatuses(ctx context.Context, txids []string) ([]*domain.TxStatus, error) {
	calls := make([]transport.Request, len(txids))
	for i, txid := range txids {
		calls[i] = transport.Request{
			Method: "eth_getTransactionReceipt",
			Params: []any{txid},
		}
	}

	results, err := c.rpc.BatchCall(ctx, calls, nil)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.TxStatus, len(txids))
	for i, res := range results {
		if res.Err != nil {
			c.log.Warn("receipt lookup failed",
				"handler", "getTransactionStatus", "input", txids[i], "error", res.Err)
			continue
		}
		status := domain.TxStatusPending
		if !bytes.Equal(res.Result, []byte("null")) {
			var receipt struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(res.Result, &receipt); err != nil {
				c.log.Warn("receipt decode failed",
					"handler", "getTransactionStatus", "input", txids[i], "error", err)
				continue
			}
			if receipt.Status == "0x1" {
				status = domain.TxStatusConfirmed
			} else {
				status = domain.TxStatusFailed
			}
		}
		out[i] = &status
	}
	return out, nil
}

// GetFeePricePerUnit derives a three-tier schedule from eth_gasPrice.
func (c *Client) GetFeePricePerUnit(ctx context.Context) (*domain.FeePricePerUnit, error) {
	result, err := c.rpc.Call(ctx, "eth_gasPrice", []any{}, nil)
	if err != nil {
		return nil, err
	}
	price, err := parseQuantity(result)
	if err != nil {
		return nil, err
	}

	normal := decimal.NewFromBigInt(price, 0)
	return &domain.FeePricePerUnit{
		Normal: normal,
		Fast:   normal.Mul(decimal.NewFromFloat(1.25)).Floor(),
		Slow:   normal.Mul(decimal.NewFromFloat(0.8)).Floor(),
	}, nil
}

// BroadcastTransaction submits a raw signed transaction (0x-hex).
func (c *Client) BroadcastTransaction(ctx context.Context, rawTx string) (bool, error) {
	_, err := c.rpc.Call(ctx, "eth_sendRawTransaction", []any{rawTx}, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetTokenInfos reads ERC-20 metadata via eth_call. Tokens whose
// contract rejects a call come back as nil slots.
func (c *Client) GetTokenInfos(ctx context.Context, tokenAddresses []string) ([]*domain.TokenInfo, error) {
	calls := make([]transport.Request, 0, len(tokenAddresses)*3)
	for _, token := range tokenAddresses {
		for _, sel := range []string{selName, selSymbol, selDecimals} {
			calls = append(calls, transport.Request{
				Method: "eth_call",
				Params: []any{map[string]string{"to": token, "data": sel}, "latest"},
			})
		}
	}

	results, err := c.rpc.BatchCall(ctx, calls, nil)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.TokenInfo, len(tokenAddresses))
	for i, token := range tokenAddresses {
		nameRes, symRes, decRes := results[i*3], results[i*3+1], results[i*3+2]
		if nameRes.Err != nil || symRes.Err != nil || decRes.Err != nil {
			c.log.Warn("token lookup failed",
				"handler", "getTokenInfo", "input", token,
				"error", firstErr(nameRes.Err, symRes.Err, decRes.Err))
			continue
		}
		name, err1 := decodeABIString(nameRes.Result)
		symbol, err2 := decodeABIString(symRes.Result)
		decimals, err3 := parseQuantity(decRes.Result)
		if err1 != nil || err2 != nil || err3 != nil {
			c.log.Warn("token decode failed",
				"handler", "getTokenInfo", "input", token,
				"error", firstErr(err1, err2, err3))
			continue
		}
		out[i] = &domain.TokenInfo{
			Address:  token,
			Name:     name,
			Symbol:   symbol,
			Decimals: int(decimals.Int64()),
		}
	}
	return out, nil
}

var _ chain.Client = (*Client)(nil)
var _ chain.TokenInfoGetter = (*Client)(nil)

// parseQuantity decodes a JSON-encoded 0x-hex quantity.
func parseQuantity(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("quantity is not a string: %s", raw)
	}
	if s == "0x" || s == "0x0" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("malformed quantity %q", s)
	}
	return value, nil
}

// leftPadAddress encodes an address as a 32-byte ABI word (no 0x).
func leftPadAddress(addr string) string {
	return fmt.Sprintf("%064s", strings.TrimPrefix(strings.ToLower(addr), "0x"))
}

// decodeABIString decodes the common string return encoding
// (offset, length, bytes). Some legacy tokens return bytes32 instead;
// those decode as the trimmed fixed word.
func decodeABIString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("abi return is not a string: %s", raw)
	}
	data, err := hexutil.Decode(s)
	if err != nil {
		return "", err
	}
	if len(data) == 32 {
		return string(bytes.TrimRight(data, "\x00")), nil
	}
	if len(data) < 64 {
		return "", fmt.Errorf("abi string too short: %d bytes", len(data))
	}
	length := new(big.Int).SetBytes(data[32:64]).Int64()
	if int64(len(data)) < 64+length {
		return "", fmt.Errorf("abi string truncated")
	}
	return string(data[64 : 64+length]), nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
