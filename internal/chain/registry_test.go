package chain

import (
	"testing"

	"github.com/vietddude/chaincore/internal/core/domain"
)

type nopFactory struct{}

func (nopFactory) NewClient(domain.ClientConfig) (Client, error)  { return nil, nil }
func (nopFactory) NewProvider(ClientResolver) (Provider, error)   { return nil, nil }

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.ImplEVM, nopFactory{})

	if _, err := r.Lookup(domain.ImplEVM); err != nil {
		t.Fatalf("registered impl must resolve: %v", err)
	}
	if _, err := r.Lookup("starcoin"); err == nil {
		t.Fatal("unknown impl must fail")
	}
}
