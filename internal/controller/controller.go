// Package controller resolves and caches one ready client per chain
// and dispatches uniform operations to chain modules.
//
// Client resolution per chain code moves through: uncached -> racing
// -> cached-fresh -> cached-stale -> racing. The readiness race runs
// every candidate's health probe concurrently under a shared
// deadline; the first candidate reporting ready wins and is memoized
// with a TTL. Losing candidates are cancelled, not abandoned.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chaincore/internal/chain"
	"github.com/vietddude/chaincore/internal/core/domain"
)

// ErrNoAvailableClient is the terminal failure of a readiness race:
// every candidate errored, reported not ready, or the race timed
// out. The controller never retries; callers own their retry policy.
var ErrNoAvailableClient = errors.New("No available client")

const (
	// DefaultRaceTimeout bounds one readiness race.
	DefaultRaceTimeout = 10 * time.Second

	// DefaultCacheTTL is how long a race winner is trusted without
	// re-probing.
	DefaultCacheTTL = 5 * time.Minute
)

// Filter restricts which candidates may win a race (and whether a
// cached winner is still acceptable). cfg is the candidate's
// endpoint config, so filters can select by endpoint kind.
type Filter func(c chain.Client, cfg domain.ClientConfig) bool

// candidate pairs a live client with the config that built it.
type candidate struct {
	client chain.Client
	cfg    domain.ClientConfig
}

type cachedEntry struct {
	candidate
	expiresAt time.Time
}

// chainState is everything the controller owns for one chain code.
// Its mutex serializes pool construction, racing, and cache writes,
// so concurrent GetClient calls cannot build the pool twice.
type chainState struct {
	mu     sync.Mutex
	pool   []candidate
	cached *cachedEntry
}

// Option customizes a Controller.
type Option func(*Controller)

// WithRaceTimeout overrides the readiness race deadline.
func WithRaceTimeout(d time.Duration) Option {
	return func(c *Controller) { c.raceTimeout = d }
}

// WithCacheTTL overrides the cached-client TTL.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Controller) { c.cacheTTL = d }
}

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// withClock overrides time for tests.
func withClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is the process-scoped orchestration core. All per-chain
// state (candidate pool, cached winner) lives here and nowhere else.
type Controller struct {
	chains   map[domain.ChainCode]*domain.ChainInfo
	registry *chain.Registry

	raceTimeout time.Duration
	cacheTTL    time.Duration

	mu    sync.Mutex
	state map[domain.ChainCode]*chainState

	log *slog.Logger
	now func() time.Time
}

// New creates a controller over the configured chains.
func New(chains []domain.ChainInfo, registry *chain.Registry, opts ...Option) *Controller {
	c := &Controller{
		chains:      make(map[domain.ChainCode]*domain.ChainInfo, len(chains)),
		registry:    registry,
		raceTimeout: DefaultRaceTimeout,
		cacheTTL:    DefaultCacheTTL,
		state:       make(map[domain.ChainCode]*chainState),
		log:         slog.Default(),
		now:         time.Now,
	}
	for i := range chains {
		c.chains[chains[i].Code] = &chains[i]
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChainInfo returns the static info for a chain code.
func (c *Controller) ChainInfo(code domain.ChainCode) (*domain.ChainInfo, error) {
	info, ok := c.chains[code]
	if !ok {
		return nil, &UnknownChainError{Code: code}
	}
	return info, nil
}

// UnknownChainError reports a chain code with no configuration.
type UnknownChainError struct {
	Code domain.ChainCode
}

func (e *UnknownChainError) Error() string {
	return "unknown chain code " + string(e.Code)
}

func (c *Controller) chainState(code domain.ChainCode) *chainState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[code]
	if !ok {
		st = &chainState{}
		c.state[code] = st
	}
	return st
}

// GetClient returns a ready client for the chain. An unexpired cached
// winner that passes the filter is returned with zero network
// activity; otherwise the candidate pool is (lazily) built and raced
// for readiness. A nil filter accepts every candidate.
func (c *Controller) GetClient(
	ctx context.Context,
	code domain.ChainCode,
	filter Filter,
) (chain.Client, error) {
	info, err := c.ChainInfo(code)
	if err != nil {
		return nil, err
	}

	st := c.chainState(code)
	st.mu.Lock()
	defer st.mu.Unlock()

	if e := st.cached; e != nil && c.now().Before(e.expiresAt) {
		if filter == nil || filter(e.client, e.cfg) {
			cacheHits.WithLabelValues(string(code)).Inc()
			return e.client, nil
		}
	}

	if st.pool == nil {
		pool, err := c.buildPool(info)
		if err != nil {
			return nil, err
		}
		st.pool = pool
	}

	var candidates []candidate
	for _, cand := range st.pool {
		if filter == nil || filter(cand.client, cand.cfg) {
			candidates = append(candidates, cand)
		}
	}
	if len(candidates) == 0 {
		resolutions.WithLabelValues(string(code), "no_candidate").Inc()
		return nil, ErrNoAvailableClient
	}

	winner, err := c.race(ctx, code, candidates)
	if err != nil {
		resolutions.WithLabelValues(string(code), "failed").Inc()
		return nil, err
	}

	// wholesale overwrite of any prior entry for this chain
	st.cached = &cachedEntry{
		candidate: *winner,
		expiresAt: c.now().Add(c.cacheTTL),
	}
	resolutions.WithLabelValues(string(code), "ok").Inc()

	return winner.client, nil
}

// buildPool instantiates one client per configured endpoint and binds
// the chain info to each.
func (c *Controller) buildPool(info *domain.ChainInfo) ([]candidate, error) {
	factory, err := c.registry.Lookup(info.Impl)
	if err != nil {
		return nil, err
	}

	pool := make([]candidate, 0, len(info.Clients))
	for _, cfg := range info.Clients {
		client, err := factory.NewClient(cfg)
		if err != nil {
			c.log.Warn("skipping client",
				"chain", info.Code, "type", cfg.Type, "url", cfg.URL, "error", err)
			continue
		}
		client.SetChainInfo(info)
		pool = append(pool, candidate{client: client, cfg: cfg})
	}
	return pool, nil
}

// race probes every candidate concurrently and resolves with the
// first that reports IsReady. A candidate that answers with
// IsReady=false is a rejection, not a win. The race context carries
// the race deadline and is cancelled as soon as a winner settles, so
// losing probes are aborted instead of running to completion
// unobserved.
func (c *Controller) race(
	ctx context.Context,
	code domain.ChainCode,
	candidates []candidate,
) (*candidate, error) {
	raceCtx, cancel := context.WithTimeout(ctx, c.raceTimeout)
	defer cancel()

	start := c.now()

	winner := make(chan *candidate, 1)
	var wg sync.WaitGroup
	for i := range candidates {
		cand := &candidates[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := cand.client.GetInfo(raceCtx)
			if err != nil {
				c.log.Debug("candidate errored",
					"chain", code, "url", cand.cfg.URL, "error", err)
				return
			}
			if !info.IsReady {
				c.log.Debug("candidate not ready",
					"chain", code, "url", cand.cfg.URL, "block", info.BestBlockNumber)
				return
			}
			select {
			case winner <- cand:
			default:
			}
		}()
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	defer func() {
		raceDuration.WithLabelValues(string(code)).Observe(time.Since(start).Seconds())
	}()

	select {
	case cand := <-winner:
		cancel() // abort losing probes
		return cand, nil
	case <-allDone:
		// a win may have landed just as the last probe finished
		select {
		case cand := <-winner:
			return cand, nil
		default:
			return nil, ErrNoAvailableClient
		}
	case <-raceCtx.Done():
		return nil, ErrNoAvailableClient
	}
}

// GetProvider returns the chain's provider bound to its static info
// and a lazy client resolver, so client resolution only happens when
// an operation needs node state.
func (c *Controller) GetProvider(code domain.ChainCode) (chain.Provider, error) {
	info, err := c.ChainInfo(code)
	if err != nil {
		return nil, err
	}
	factory, err := c.registry.Lookup(info.Impl)
	if err != nil {
		return nil, err
	}
	provider, err := factory.NewProvider(func(ctx context.Context) (chain.Client, error) {
		return c.GetClient(ctx, code, nil)
	})
	if err != nil {
		return nil, err
	}
	provider.SetChainInfo(info)
	return provider, nil
}

// Reset drops the pool and cached winner for a chain, forcing a new
// race on the next resolution. Intended for teardown and tests.
func (c *Controller) Reset(code domain.ChainCode) {
	st := c.chainState(code)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pool = nil
	st.cached = nil
}

// --- uniform dispatch -------------------------------------------------
//
// Each method resolves the chain's client or provider and forwards the
// call, returning its result or propagating its failure untouched.

func (c *Controller) GetInfo(ctx context.Context, code domain.ChainCode) (*domain.ClientInfo, error) {
	client, err := c.GetClient(ctx, code, nil)
	if err != nil {
		return nil, err
	}
	defer observeDispatch(code, "get_info", c.now())
	return client.GetInfo(ctx)
}

func (c *Controller) GetAddresses(
	ctx context.Context,
	code domain.ChainCode,
	addresses []string,
) ([]*domain.AddressInfo, error) {
	client, err := c.GetClient(ctx, code, nil)
	if err != nil {
		return nil, err
	}
	defer observeDispatch(code, "get_addresses", c.now())
	return client.GetAddresses(ctx, addresses)
}

func (c *Controller) GetBalances(
	ctx context.Context,
	code domain.ChainCode,
	requests []domain.BalanceRequest,
) ([]*decimal.Decimal, error) {
	client, err := c.GetClient(ctx, code, nil)
	if err != nil {
		return nil, err
	}
	defer observeDispatch(code, "get_balances", c.now())
	return client.GetBalances(ctx, requests)
}

func (c *Controller) GetTransactionStatuses(
	ctx context.Context,
	code domain.ChainCode,
	txids []string,
) ([]*domain.TxStatus, error) {
	client, err := c.GetClient(ctx, code, nil)
	if err != nil {
		return nil, err
	}
	defer observeDispatch(code, "get_transaction_statuses", c.now())
	return client.GetTransactionStatuses(ctx, txids)
}

func (c *Controller) GetFeePricePerUnit(
	ctx context.Context,
	code domain.ChainCode,
) (*domain.FeePricePerUnit, error) {
	client, err := c.GetClient(ctx, code, nil)
	if err != nil {
		return nil, err
	}
	defer observeDispatch(code, "get_fee_price_per_unit", c.now())
	return client.GetFeePricePerUnit(ctx)
}

func (c *Controller) BroadcastTransaction(
	ctx context.Context,
	code domain.ChainCode,
	rawTx string,
) (bool, error) {
	client, err := c.GetClient(ctx, code, nil)
	if err != nil {
		return false, err
	}
	defer observeDispatch(code, "broadcast_transaction", c.now())
	return client.BroadcastTransaction(ctx, rawTx)
}

func (c *Controller) GetTokenInfos(
	ctx context.Context,
	code domain.ChainCode,
	tokenAddresses []string,
) ([]*domain.TokenInfo, error) {
	client, err := c.GetClient(ctx, code, nil)
	if err != nil {
		return nil, err
	}
	getter, ok := client.(chain.TokenInfoGetter)
	if !ok {
		return nil, chain.ErrNotImplemented
	}
	defer observeDispatch(code, "get_token_infos", c.now())
	return getter.GetTokenInfos(ctx, tokenAddresses)
}

func (c *Controller) GetUTXOs(
	ctx context.Context,
	code domain.ChainCode,
	address string,
) ([]*domain.UTXO, error) {
	client, err := c.GetClient(ctx, code, nil)
	if err != nil {
		return nil, err
	}
	getter, ok := client.(chain.UTXOGetter)
	if !ok {
		return nil, chain.ErrNotImplemented
	}
	defer observeDispatch(code, "get_utxos", c.now())
	return getter.GetUTXOs(ctx, address)
}

func (c *Controller) PubkeyToAddress(code domain.ChainCode, pubkey []byte) (string, error) {
	provider, err := c.GetProvider(code)
	if err != nil {
		return "", err
	}
	return provider.PubkeyToAddress(pubkey)
}

func (c *Controller) VerifyAddress(
	code domain.ChainCode,
	address string,
) (*domain.AddressValidation, error) {
	provider, err := c.GetProvider(code)
	if err != nil {
		return nil, err
	}
	return provider.VerifyAddress(address)
}

// VerifyTokenAddress falls back to VerifyAddress for chains whose
// token addresses share the account address format.
func (c *Controller) VerifyTokenAddress(
	code domain.ChainCode,
	address string,
) (*domain.AddressValidation, error) {
	provider, err := c.GetProvider(code)
	if err != nil {
		return nil, err
	}
	if verifier, ok := provider.(chain.TokenAddressVerifier); ok {
		return verifier.VerifyTokenAddress(address)
	}
	return provider.VerifyAddress(address)
}

func (c *Controller) BuildUnsignedTx(
	ctx context.Context,
	code domain.ChainCode,
	tx *domain.UnsignedTx,
) (*domain.UnsignedTx, error) {
	provider, err := c.GetProvider(code)
	if err != nil {
		return nil, err
	}
	defer observeDispatch(code, "build_unsigned_tx", c.now())
	return provider.BuildUnsignedTx(ctx, tx)
}

func (c *Controller) SignTransaction(
	ctx context.Context,
	code domain.ChainCode,
	tx *domain.UnsignedTx,
	signers map[string]chain.Signer,
) (*domain.SignedTx, error) {
	provider, err := c.GetProvider(code)
	if err != nil {
		return nil, err
	}
	defer observeDispatch(code, "sign_transaction", c.now())
	return provider.SignTransaction(ctx, tx, signers)
}

func (c *Controller) SignMessage(
	ctx context.Context,
	code domain.ChainCode,
	message string,
	signer chain.Signer,
) (string, error) {
	provider, err := c.GetProvider(code)
	if err != nil {
		return "", err
	}
	ms, ok := provider.(chain.MessageSigner)
	if !ok {
		return "", chain.ErrNotImplemented
	}
	return ms.SignMessage(ctx, message, signer)
}

func (c *Controller) VerifyMessage(
	code domain.ChainCode,
	address, message, signature string,
) (bool, error) {
	provider, err := c.GetProvider(code)
	if err != nil {
		return false, err
	}
	mv, ok := provider.(chain.MessageVerifier)
	if !ok {
		return false, chain.ErrNotImplemented
	}
	return mv.VerifyMessage(address, message, signature)
}
