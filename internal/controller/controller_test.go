package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chaincore/internal/chain"
	"github.com/vietddude/chaincore/internal/core/domain"
)

const testChain = domain.ChainCode("testnet")

// mockClient implements chain.Client for resolution tests.
type mockClient struct {
	url       string
	ready     bool
	infoErr   error
	infoDelay time.Duration

	infoCalls   atomic.Int32
	ctxCanceled chan struct{}

	info *domain.ChainInfo
}

func (m *mockClient) SetChainInfo(info *domain.ChainInfo) { m.info = info }

func (m *mockClient) GetInfo(ctx context.Context) (*domain.ClientInfo, error) {
	m.infoCalls.Add(1)
	if m.infoDelay > 0 {
		select {
		case <-time.After(m.infoDelay):
		case <-ctx.Done():
			if m.ctxCanceled != nil {
				close(m.ctxCanceled)
			}
			return nil, ctx.Err()
		}
	}
	if m.infoErr != nil {
		return nil, m.infoErr
	}
	return &domain.ClientInfo{BestBlockNumber: 100, IsReady: m.ready}, nil
}

func (m *mockClient) GetAddresses(context.Context, []string) ([]*domain.AddressInfo, error) {
	return nil, nil
}
func (m *mockClient) GetBalances(context.Context, []domain.BalanceRequest) ([]*decimal.Decimal, error) {
	return nil, nil
}
func (m *mockClient) GetTransactionStatuses(context.Context, []string) ([]*domain.TxStatus, error) {
	return nil, nil
}
func (m *mockClient) GetFeePricePerUnit(context.Context) (*domain.FeePricePerUnit, error) {
	return &domain.FeePricePerUnit{Normal: decimal.NewFromInt(1)}, nil
}
func (m *mockClient) BroadcastTransaction(context.Context, string) (bool, error) {
	return true, nil
}

// mockFactory hands out pre-built clients keyed by endpoint URL.
type mockFactory struct {
	mu      sync.Mutex
	clients map[string]*mockClient
	built   int
}

func (f *mockFactory) NewClient(cfg domain.ClientConfig) (chain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built++
	c, ok := f.clients[cfg.URL]
	if !ok {
		return nil, fmt.Errorf("no mock for %s", cfg.URL)
	}
	c.url = cfg.URL
	return c, nil
}

func (f *mockFactory) NewProvider(resolve chain.ClientResolver) (chain.Provider, error) {
	return &mockProvider{resolve: resolve}, nil
}

type mockProvider struct {
	resolve chain.ClientResolver
	info    *domain.ChainInfo
}

func (p *mockProvider) SetChainInfo(info *domain.ChainInfo) { p.info = info }
func (p *mockProvider) PubkeyToAddress([]byte) (string, error) {
	return "addr", nil
}
func (p *mockProvider) VerifyAddress(address string) (*domain.AddressValidation, error) {
	return &domain.AddressValidation{IsValid: address != "", Normalized: address}, nil
}
func (p *mockProvider) BuildUnsignedTx(ctx context.Context, tx *domain.UnsignedTx) (*domain.UnsignedTx, error) {
	// resolution deferred until the provider needs a client
	client, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	fee, err := client.GetFeePricePerUnit(ctx)
	if err != nil {
		return nil, err
	}
	tx.FeePricePerUnit = fee.Normal
	return tx, nil
}
func (p *mockProvider) SignTransaction(context.Context, *domain.UnsignedTx, map[string]chain.Signer) (*domain.SignedTx, error) {
	return &domain.SignedTx{TxID: "0xsigned"}, nil
}

func newTestController(t *testing.T, f *mockFactory, opts ...Option) *Controller {
	t.Helper()
	reg := chain.NewRegistry()
	reg.Register("mock", f)
	chains := []domain.ChainInfo{{
		Code: testChain,
		Impl: "mock",
		Clients: []domain.ClientConfig{
			{Type: "rpc", URL: "http://a"},
			{Type: "rpc", URL: "http://b"},
		},
	}}
	return New(chains, reg, opts...)
}

func TestGetClient_RacePicksReadyCandidate(t *testing.T) {
	a := &mockClient{ready: false}
	b := &mockClient{ready: true}
	f := &mockFactory{clients: map[string]*mockClient{"http://a": a, "http://b": b}}
	c := newTestController(t, f)

	got, err := c.GetClient(context.Background(), testChain, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != b {
		t.Fatal("expected the ready candidate to win")
	}

	// within the TTL window no readiness check runs again
	aCalls, bCalls := a.infoCalls.Load(), b.infoCalls.Load()
	for i := 0; i < 3; i++ {
		if _, err := c.GetClient(context.Background(), testChain, nil); err != nil {
			t.Fatalf("cached resolution failed: %v", err)
		}
	}
	if a.infoCalls.Load() != aCalls || b.infoCalls.Load() != bCalls {
		t.Error("cached entry must resolve with zero readiness checks")
	}
}

func TestGetClient_AllNotReady(t *testing.T) {
	a := &mockClient{ready: false}
	b := &mockClient{ready: false}
	f := &mockFactory{clients: map[string]*mockClient{"http://a": a, "http://b": b}}
	c := newTestController(t, f, WithRaceTimeout(time.Second))

	_, err := c.GetClient(context.Background(), testChain, nil)
	if !errors.Is(err, ErrNoAvailableClient) {
		t.Fatalf("expected ErrNoAvailableClient, got %v", err)
	}
	if err.Error() != "No available client" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestGetClient_ErrorsAreRejections(t *testing.T) {
	a := &mockClient{infoErr: fmt.Errorf("connection refused")}
	b := &mockClient{ready: true}
	f := &mockFactory{clients: map[string]*mockClient{"http://a": a, "http://b": b}}
	c := newTestController(t, f)

	got, err := c.GetClient(context.Background(), testChain, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != b {
		t.Fatal("erroring candidate must not win")
	}
}

func TestGetClient_RaceTimeout(t *testing.T) {
	// both candidates hang past the race deadline
	a := &mockClient{ready: true, infoDelay: 5 * time.Second}
	b := &mockClient{ready: true, infoDelay: 5 * time.Second}
	f := &mockFactory{clients: map[string]*mockClient{"http://a": a, "http://b": b}}
	c := newTestController(t, f, WithRaceTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := c.GetClient(context.Background(), testChain, nil)
	if !errors.Is(err, ErrNoAvailableClient) {
		t.Fatalf("expected ErrNoAvailableClient, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("race not bounded by timeout, took %v", elapsed)
	}
}

func TestGetClient_LosersAreCancelled(t *testing.T) {
	slow := &mockClient{ready: true, infoDelay: 10 * time.Second, ctxCanceled: make(chan struct{})}
	fast := &mockClient{ready: true}
	f := &mockFactory{clients: map[string]*mockClient{"http://a": slow, "http://b": fast}}
	c := newTestController(t, f)

	if _, err := c.GetClient(context.Background(), testChain, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-slow.ctxCanceled:
	case <-time.After(2 * time.Second):
		t.Fatal("losing candidate was not cancelled")
	}
}

func TestGetClient_ExpiredEntryReraces(t *testing.T) {
	now := time.Now()
	var clock struct {
		sync.Mutex
		t time.Time
	}
	clock.t = now

	a := &mockClient{ready: true}
	b := &mockClient{ready: false}
	f := &mockFactory{clients: map[string]*mockClient{"http://a": a, "http://b": b}}
	c := newTestController(t, f, withClock(func() time.Time {
		clock.Lock()
		defer clock.Unlock()
		return clock.t
	}))

	if _, err := c.GetClient(context.Background(), testChain, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := a.infoCalls.Load()

	clock.Lock()
	clock.t = now.Add(DefaultCacheTTL + time.Second)
	clock.Unlock()

	if _, err := c.GetClient(context.Background(), testChain, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.infoCalls.Load() == calls {
		t.Error("expired entry must trigger a new race")
	}
}

func TestGetClient_FilterBypassesCache(t *testing.T) {
	a := &mockClient{ready: true}
	b := &mockClient{ready: true}
	f := &mockFactory{clients: map[string]*mockClient{"http://a": a, "http://b": b}}
	c := newTestController(t, f)

	// cache a winner with no filter
	first, err := c.GetClient(context.Background(), testChain, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// a filter rejecting the cached winner forces a new race that
	// only the other endpoint can win
	var wantURL string
	if first == a {
		wantURL = "http://b"
	} else {
		wantURL = "http://a"
	}
	got, err := c.GetClient(context.Background(), testChain,
		func(_ chain.Client, cfg domain.ClientConfig) bool { return cfg.URL == wantURL })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == first {
		t.Error("filter-rejected cache entry must not be returned")
	}
}

func TestGetClient_FilterWithNoCandidates(t *testing.T) {
	a := &mockClient{ready: true}
	b := &mockClient{ready: true}
	f := &mockFactory{clients: map[string]*mockClient{"http://a": a, "http://b": b}}
	c := newTestController(t, f)

	_, err := c.GetClient(context.Background(), testChain,
		func(_ chain.Client, cfg domain.ClientConfig) bool { return cfg.Type == "grpc" })
	if !errors.Is(err, ErrNoAvailableClient) {
		t.Fatalf("expected ErrNoAvailableClient, got %v", err)
	}
}

func TestGetClient_PoolBuiltOnce(t *testing.T) {
	a := &mockClient{ready: true}
	b := &mockClient{ready: true}
	f := &mockFactory{clients: map[string]*mockClient{"http://a": a, "http://b": b}}
	c := newTestController(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetClient(context.Background(), testChain, nil)
		}()
	}
	wg.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.built != 2 {
		t.Errorf("pool must be constructed exactly once, built %d clients", f.built)
	}
}

func TestReset_ForcesNewRace(t *testing.T) {
	a := &mockClient{ready: true}
	b := &mockClient{ready: false}
	f := &mockFactory{clients: map[string]*mockClient{"http://a": a, "http://b": b}}
	c := newTestController(t, f)

	if _, err := c.GetClient(context.Background(), testChain, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := a.infoCalls.Load()

	c.Reset(testChain)

	if _, err := c.GetClient(context.Background(), testChain, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.infoCalls.Load() == calls {
		t.Error("reset must drop the cached winner")
	}
}

func TestGetClient_UnknownChain(t *testing.T) {
	f := &mockFactory{clients: map[string]*mockClient{}}
	c := newTestController(t, f)

	_, err := c.GetClient(context.Background(), "nope", nil)
	var uce *UnknownChainError
	if !errors.As(err, &uce) {
		t.Fatalf("expected UnknownChainError, got %v", err)
	}
}

func TestGetProvider_LazyResolution(t *testing.T) {
	a := &mockClient{ready: true}
	b := &mockClient{ready: false}
	f := &mockFactory{clients: map[string]*mockClient{"http://a": a, "http://b": b}}
	c := newTestController(t, f)

	p, err := c.GetProvider(testChain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// no resolution happened yet
	if a.infoCalls.Load() != 0 {
		t.Fatal("provider construction must not resolve a client")
	}

	tx, err := p.BuildUnsignedTx(context.Background(), &domain.UnsignedTx{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.infoCalls.Load() == 0 {
		t.Error("building a tx should have resolved the client")
	}
	if !tx.FeePricePerUnit.Equal(decimal.NewFromInt(1)) {
		t.Errorf("fee not filled: %v", tx.FeePricePerUnit)
	}
}

func TestDispatch_OptionalCapabilities(t *testing.T) {
	a := &mockClient{ready: true}
	b := &mockClient{ready: true}
	f := &mockFactory{clients: map[string]*mockClient{"http://a": a, "http://b": b}}
	c := newTestController(t, f)

	if _, err := c.GetTokenInfos(context.Background(), testChain, []string{"0x1"}); !errors.Is(err, chain.ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
	if _, err := c.GetUTXOs(context.Background(), testChain, "addr"); !errors.Is(err, chain.ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
	if _, err := c.SignMessage(context.Background(), testChain, "hi", nil); !errors.Is(err, chain.ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
	if _, err := c.VerifyMessage(testChain, "a", "m", "s"); !errors.Is(err, chain.ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}

	// VerifyTokenAddress defaults to VerifyAddress
	v, err := c.VerifyTokenAddress(testChain, "someaddr")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.IsValid {
		t.Error("default token verification should have used VerifyAddress")
	}
}
