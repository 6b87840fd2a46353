// Package cosmos implements the chain module for Cosmos SDK chains,
// speaking to the node's REST gateway (LCD). Endpoints configured
// with type "grpc" are health-probe-only candidates backed by the
// standard gRPC health service.
package cosmos

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chaincore/internal/chain"
	"github.com/vietddude/chaincore/internal/core/domain"
	"github.com/vietddude/chaincore/internal/transport"
)

// option keys read from ChainInfo.Options
const (
	optDenom        = "denom"
	optBech32Prefix = "bech32_prefix"
	optGasPrice     = "gas_price"
	optChainID      = "chain_id"
)

// Client talks to one Cosmos node over the REST gateway. When the
// endpoint carries a companion gRPC target, readiness comes from the
// standard gRPC health service instead of the LCD syncing endpoint.
type Client struct {
	rest   *transport.REST
	health *transport.GRPC
	info   *domain.ChainInfo
	log    *slog.Logger
}

// NewClient creates a client for one REST endpoint.
func NewClient(cfg domain.ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("cosmos: endpoint url is empty")
	}
	req := transport.NewRequester(cfg.URL, transport.WithHeaders(cfg.Headers))
	c := &Client{
		rest: transport.NewREST(req),
		log:  slog.Default().With("module", "cosmos"),
	}
	if cfg.GRPCURL != "" {
		health, err := transport.DialGRPC(context.Background(), cfg.GRPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial health endpoint: %w", err)
		}
		c.health = health
	}
	return c, nil
}

// SetChainInfo binds the chain. Called once before use.
func (c *Client) SetChainInfo(info *domain.ChainInfo) { c.info = info }

func (c *Client) denom() string { return c.info.Option(optDenom, "uatom") }

// GetInfo probes latest height and sync state.
func (c *Client) GetInfo(ctx context.Context) (*domain.ClientInfo, error) {
	latest, err := c.rest.Get(ctx, "/cosmos/base/tendermint/v1beta1/blocks/latest", nil, nil)
	if err != nil {
		return nil, err
	}
	var block struct {
		Block struct {
			Header struct {
				Height string `json:"height"`
			} `json:"header"`
		} `json:"block"`
	}
	if err := json.Unmarshal(latest, &block); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	height, err := strconv.ParseUint(block.Block.Header.Height, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse height %q: %w", block.Block.Header.Height, err)
	}

	ready, err := c.ready(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.ClientInfo{
		BestBlockNumber: height,
		IsReady:         ready,
	}, nil
}

func (c *Client) ready(ctx context.Context) (bool, error) {
	if c.health != nil {
		return c.health.Health(ctx, "")
	}
	raw, err := c.rest.Get(ctx, "/cosmos/base/tendermint/v1beta1/syncing", nil, nil)
	if err != nil {
		return false, err
	}
	var syncing struct {
		Syncing bool `json:"syncing"`
	}
	if err := json.Unmarshal(raw, &syncing); err != nil {
		return false, fmt.Errorf("decode syncing: %w", err)
	}
	return !syncing.Syncing, nil
}

// getAddress resolves one account. A 404 from the auth endpoint means
// the account does not exist yet, which is a valid answer.
func (c *Client) getAddress(ctx context.Context, address string) (*domain.AddressInfo, error) {
	raw, status, err := c.rest.GetTolerant(ctx,
		"/cosmos/auth/v1beta1/accounts/"+address, nil, nil, http.StatusNotFound)
	if err != nil {
		return nil, err
	}

	info := &domain.AddressInfo{Address: address}
	if status == http.StatusNotFound {
		return info, nil
	}

	var account struct {
		Account struct {
			Sequence string `json:"sequence"`
		} `json:"account"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if account.Account.Sequence != "" {
		seq, err := strconv.ParseUint(account.Account.Sequence, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse sequence: %w", err)
		}
		info.Nonce = seq
	}
	info.ExistsOnChain = true

	balance, err := c.getBalance(ctx, domain.BalanceRequest{Address: address})
	if err != nil {
		return nil, err
	}
	info.Balance = *balance
	return info, nil
}

// GetAddresses fans the singular account lookup out per address.
func (c *Client) GetAddresses(ctx context.Context, addresses []string) ([]*domain.AddressInfo, error) {
	out, err := chain.FanOut(ctx, c.log, "getAddress", addresses,
		func(ctx context.Context, address string) (domain.AddressInfo, error) {
			info, err := c.getAddress(ctx, address)
			if err != nil {
				return domain.AddressInfo{}, err
			}
			return *info, nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getBalance(ctx context.Context, req domain.BalanceRequest) (*decimal.Decimal, error) {
	denom := req.Token
	if denom == "" {
		denom = c.denom()
	}
	raw, err := c.rest.Get(ctx,
		"/cosmos/bank/v1beta1/balances/"+req.Address+"/by_denom",
		url.Values{"denom": {denom}}, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Balance struct {
			Amount string `json:"amount"`
		} `json:"balance"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	if parsed.Balance.Amount == "" {
		zero := decimal.Zero
		return &zero, nil
	}
	amount, err := decimal.NewFromString(parsed.Balance.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", parsed.Balance.Amount, err)
	}
	return &amount, nil
}

// GetBalances fans the singular balance lookup out per request.
// Token carries the denom for non-native assets.
func (c *Client) GetBalances(ctx context.Context, requests []domain.BalanceRequest) ([]*decimal.Decimal, error) {
	out, err := chain.FanOut(ctx, c.log, "getBalance", requests,
		func(ctx context.Context, req domain.BalanceRequest) (decimal.Decimal, error) {
			amount, err := c.getBalance(ctx, req)
			if err != nil {
				return decimal.Decimal{}, err
			}
			return *amount, nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getTransactionStatus(ctx context.Context, txid string) (domain.TxStatus, error) {
	raw, status, err := c.rest.GetTolerant(ctx,
		"/cosmos/tx/v1beta1/txs/"+txid, nil, nil, http.StatusNotFound)
	if err != nil {
		return 0, err
	}
	if status == http.StatusNotFound {
		return domain.TxStatusPending, nil
	}
	var parsed struct {
		TxResponse struct {
			Code int `json:"code"`
		} `json:"tx_response"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, fmt.Errorf("decode tx: %w", err)
	}
	if parsed.TxResponse.Code == 0 {
		return domain.TxStatusConfirmed, nil
	}
	return domain.TxStatusFailed, nil
}

// GetTransactionStatuses fans the singular lookup out per txid. A
// hash the node has never seen counts as pending, not absent.
func (c *Client) GetTransactionStatuses(ctx context.Context, txids []string) ([]*domain.TxStatus, error) {
	return chain.FanOut(ctx, c.log, "getTransactionStatus", txids,
		c.getTransactionStatus)
}

// GetFeePricePerUnit reads the configured gas price; Cosmos nodes do
// not quote one over the LCD.
func (c *Client) GetFeePricePerUnit(_ context.Context) (*domain.FeePricePerUnit, error) {
	price, err := decimal.NewFromString(c.info.Option(optGasPrice, "0.025"))
	if err != nil {
		return nil, fmt.Errorf("parse gas_price option: %w", err)
	}
	return &domain.FeePricePerUnit{
		Normal: price,
		Fast:   price.Mul(decimal.NewFromInt(2)),
		Slow:   price,
	}, nil
}

// BroadcastTransaction submits base64 tx bytes in sync mode.
func (c *Client) BroadcastTransaction(ctx context.Context, rawTx string) (bool, error) {
	raw, err := c.rest.Post(ctx, "/cosmos/tx/v1beta1/txs", map[string]string{
		"tx_bytes": rawTx,
		"mode":     "BROADCAST_MODE_SYNC",
	}, nil)
	if err != nil {
		return false, err
	}
	var parsed struct {
		TxResponse struct {
			Code   int    `json:"code"`
			RawLog string `json:"raw_log"`
		} `json:"tx_response"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return false, fmt.Errorf("decode broadcast response: %w", err)
	}
	if parsed.TxResponse.Code != 0 {
		return false, &transport.ProtocolError{
			Code:    parsed.TxResponse.Code,
			Message: parsed.TxResponse.RawLog,
		}
	}
	return true, nil
}

var _ chain.Client = (*Client)(nil)
