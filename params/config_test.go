package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.Ledger.Address != def.Ledger.Address || cfg.Ledger.ListingFee != def.Ledger.ListingFee {
		t.Errorf("ledger = %+v, want defaults %+v", cfg.Ledger, def.Ledger)
	}
	if cfg.Node.Role != RoleSequencer {
		t.Errorf("role = %s", cfg.Node.Role)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "LISTING_FEE=7\nOPERATOR_ADDRESS=0x00000000000000000000000000000000000000aa\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	// environment wins over the .env file
	t.Setenv("LISTING_FEE", "9")
	t.Setenv("NODE_MIN_BLOCK_TIME_MS", "50")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("P2P_BOOTSTRAP", "/ip4/127.0.0.1/tcp/1/p2p/x")
	t.Cleanup(func() { os.Unsetenv("OPERATOR_ADDRESS") })

	cfg, err := LoadFromEnv(envFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ledger.ListingFee != 9 {
		t.Errorf("ListingFee = %d, want 9", cfg.Ledger.ListingFee)
	}
	if cfg.Ledger.Operator != common.HexToAddress("0xaa") {
		t.Errorf("Operator = %s", cfg.Ledger.Operator.Hex())
	}
	if cfg.Node.MinBlockTime != 50*time.Millisecond {
		t.Errorf("MinBlockTime = %s", cfg.Node.MinBlockTime)
	}
	if len(cfg.API.CORSOrigins) != 2 || cfg.API.CORSOrigins[1] != "http://b.test" {
		t.Errorf("CORSOrigins = %q", cfg.API.CORSOrigins)
	}
	if len(cfg.P2P.Bootstrap) != 1 {
		t.Errorf("Bootstrap = %q", cfg.P2P.Bootstrap)
	}
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad address", "LEDGER_ADDRESS", "nope"},
		{"bad fee", "LISTING_FEE", "-1"},
		{"bad chain id", "CHAIN_ID", "zero"},
		{"bad role", "NODE_ROLE", "validator"},
		{"follower without key", "NODE_ROLE", "follower"},
		{"bad pubkey", "SEQUENCER_PUBKEY", "0xzz"},
		{"short seed", "SEQUENCER_SEED", "devnet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
				t.Errorf("%s=%s accepted", tt.key, tt.val)
			}
		})
	}
}
