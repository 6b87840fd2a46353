package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/chaincore/internal/core/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "config_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := tmpFile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: text
controller:
  race_timeout: 5s
  cache_ttl: 2m
chains:
  - code: eth
    impl: evm
    clients:
      - type: rpc
        url: https://eth.example.com
        headers:
          X-Api-Key: secret
    options:
      chain_id: "1"
  - code: cosmoshub
    impl: cosmos
    clients:
      - type: rest
        url: https://lcd.example.com
        grpc_url: grpc.example.com:9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Controller.RaceTimeout != 5*time.Second {
		t.Errorf("RaceTimeout = %s, want 5s", cfg.Controller.RaceTimeout)
	}
	if cfg.Controller.CacheTTL != 2*time.Minute {
		t.Errorf("CacheTTL = %s, want 2m", cfg.Controller.CacheTTL)
	}
	if len(cfg.Chains) != 2 {
		t.Fatalf("got %d chains, want 2", len(cfg.Chains))
	}
	eth := cfg.Chains[0]
	if eth.Code != "eth" || eth.Impl != domain.ImplEVM {
		t.Errorf("chain 0 = %s/%s, want eth/evm", eth.Code, eth.Impl)
	}
	if eth.Clients[0].Headers["X-Api-Key"] != "secret" {
		t.Error("client headers not decoded")
	}
	if eth.Option("chain_id", "") != "1" {
		t.Error("chain options not decoded")
	}
	if cfg.Chains[1].Clients[0].GRPCURL != "grpc.example.com:9090" {
		t.Error("grpc_url not decoded")
	}
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_NODE_URL", "https://node.example.com/v1/abc123")

	path := writeConfig(t, `
chains:
  - code: eth
    impl: evm
    clients:
      - type: rpc
        url: ${TEST_NODE_URL}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.Chains[0].Clients[0].URL; got != "https://node.example.com/v1/abc123" {
		t.Errorf("Expected URL https://node.example.com/v1/abc123, got %s", got)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"missing code",
			"chains:\n  - impl: evm\n    clients:\n      - url: https://x\n",
			"no code",
		},
		{
			"missing impl",
			"chains:\n  - code: eth\n    clients:\n      - url: https://x\n",
			"no impl",
		},
		{
			"no clients",
			"chains:\n  - code: eth\n    impl: evm\n",
			"no client endpoints",
		},
		{
			"duplicate code",
			"chains:\n  - code: eth\n    impl: evm\n    clients:\n      - url: https://x\n" +
				"  - code: eth\n    impl: evm\n    clients:\n      - url: https://y\n",
			"duplicate chain code",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
