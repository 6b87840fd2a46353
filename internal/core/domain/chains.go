package domain

// ChainCode identifies which blockchain a call targets.
type ChainCode string

// Impl identifies a chain implementation in the registry.
type Impl string

const (
	ImplEVM    Impl = "evm"
	ImplSolana Impl = "solana"
	ImplCosmos Impl = "cosmos"
	ImplNEAR   Impl = "near"
)

// ClientConfig describes one node endpoint for a chain.
// It is consumed only at pool-construction time.
type ClientConfig struct {
	// Type selects the client constructor within the chain module
	// (e.g., "rpc", "rest", "grpc").
	Type string `yaml:"type"`

	// URL is the node endpoint.
	URL string `yaml:"url"`

	// Headers are merged into every request issued by this client.
	Headers map[string]string `yaml:"headers,omitempty"`

	// GRPCURL, when set, is a companion gRPC target the client may
	// use for health probing alongside the primary URL.
	GRPCURL string `yaml:"grpc_url,omitempty"`
}

// ChainInfo carries everything a chain module needs to talk to one chain.
// It is immutable once bound to a client or provider instance.
type ChainInfo struct {
	Code    ChainCode         `yaml:"code"`
	Impl    Impl              `yaml:"impl"`
	Clients []ClientConfig    `yaml:"clients"`
	Options map[string]string `yaml:"options,omitempty"`
}

// Option returns a chain-specific option, or def when unset.
func (c *ChainInfo) Option(key, def string) string {
	if c == nil || c.Options == nil {
		return def
	}
	if v, ok := c.Options[key]; ok {
		return v
	}
	return def
}
