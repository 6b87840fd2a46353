package chain

import (
	"fmt"
	"sync"

	"github.com/vietddude/chaincore/internal/core/domain"
)

// Factory builds the two capability objects of one chain module.
type Factory interface {
	// NewClient instantiates a client for one configured endpoint.
	// ChainInfo is bound separately via SetChainInfo.
	NewClient(cfg domain.ClientConfig) (Client, error)

	// NewProvider instantiates the chain's transaction/address logic
	// with a lazy client resolver.
	NewProvider(resolve ClientResolver) (Provider, error)
}

// Registry maps implementation identifiers to module factories. It is
// populated at startup; no reflection involved.
type Registry struct {
	mu        sync.RWMutex
	factories map[domain.Impl]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.Impl]Factory)}
}

// Register binds an implementation identifier to a factory.
// Re-registering an identifier overwrites the previous binding.
func (r *Registry) Register(impl domain.Impl, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[impl] = f
}

// Lookup resolves an implementation identifier.
func (r *Registry) Lookup(impl domain.Impl) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[impl]
	if !ok {
		return nil, fmt.Errorf("unknown chain implementation %q", impl)
	}
	return f, nil
}
