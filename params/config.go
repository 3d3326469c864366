package params

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Role string

// minSeedLen is the shortest input keying material BLS key generation accepts
const minSeedLen = 32

const (
	RoleSequencer Role = "sequencer"
	RoleFollower  Role = "follower"
)

// Ledger configures the escrow ledger and the accounts around it
type Ledger struct {
	Address    common.Address
	Operator   common.Address
	Registry   common.Address
	Bridge     common.Address // zero accepts deposits from anyone (dev faucet)
	ListingFee uint64
	ChainID    *big.Int
}

type Node struct {
	Role    Role
	DataDir string
	LogFile string
	Verbose bool
	// MinBlockTime throttles block production on the sequencer.
	//
	//   - Devnet:  200ms (5 blocks/sec)
	//   - Testnet: 100ms
	MinBlockTime time.Duration
	SkipEmpty    bool
	EnableTxGen  bool
}

type API struct {
	Addr        string
	CORSOrigins []string
}

type P2P struct {
	Listen    string
	Bootstrap []string
	// SequencerSeed derives the sequencer BLS key. Followers leave it empty
	// and set SequencerPubKey instead.
	SequencerSeed   []byte
	SequencerPubKey []byte
}

type Config struct {
	Ledger Ledger
	Node   Node
	API    API
	P2P    P2P
}

func Default() Config {
	return Config{
		Ledger: Ledger{
			Address:    common.HexToAddress("0x00000000000000000000000000000000000E5C40"),
			Operator:   common.HexToAddress("0x000000000000000000000000000000000000FEE0"),
			Registry:   common.HexToAddress("0x0000000000000000000000000000000000000721"),
			ListingFee: 25,
			ChainID:    big.NewInt(1337),
		},
		Node: Node{
			Role:         RoleSequencer,
			DataDir:      "data",
			LogFile:      "data/node.log",
			MinBlockTime: 200 * time.Millisecond,
			SkipEmpty:    true,
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		P2P: P2P{
			Listen:        "/ip4/0.0.0.0/tcp/26656",
			SequencerSeed: []byte("hypermarket-devnet-sequencer-seed-0001"),
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// optional: missing .env is not an error
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var err error
	addr := func(key string, dst *common.Address) {
		v := os.Getenv(key)
		if v == "" || err != nil {
			return
		}
		if !common.IsHexAddress(v) {
			err = fmt.Errorf("%s: invalid address %q", key, v)
			return
		}
		*dst = common.HexToAddress(v)
	}
	addr("LEDGER_ADDRESS", &cfg.Ledger.Address)
	addr("OPERATOR_ADDRESS", &cfg.Ledger.Operator)
	addr("REGISTRY_ADDRESS", &cfg.Ledger.Registry)
	addr("BRIDGE_ADDRESS", &cfg.Ledger.Bridge)
	if err != nil {
		return Config{}, err
	}

	if fee := os.Getenv("LISTING_FEE"); fee != "" {
		v, perr := strconv.ParseUint(fee, 10, 64)
		if perr != nil {
			return Config{}, fmt.Errorf("LISTING_FEE: %w", perr)
		}
		cfg.Ledger.ListingFee = v
	}
	if id := os.Getenv("CHAIN_ID"); id != "" {
		v, ok := new(big.Int).SetString(id, 10)
		if !ok || v.Sign() <= 0 {
			return Config{}, fmt.Errorf("CHAIN_ID: invalid value %q", id)
		}
		cfg.Ledger.ChainID = v
	}

	if role := os.Getenv("NODE_ROLE"); role != "" {
		switch Role(role) {
		case RoleSequencer, RoleFollower:
			cfg.Node.Role = Role(role)
		default:
			return Config{}, fmt.Errorf("NODE_ROLE: unknown role %q", role)
		}
	}
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.Verbose = os.Getenv("VERBOSE") == "true"
	cfg.Node.EnableTxGen = os.Getenv("ENABLE_TXGEN") == "true"
	if minBlock := os.Getenv("NODE_MIN_BLOCK_TIME_MS"); minBlock != "" {
		if ms, err := strconv.Atoi(minBlock); err == nil {
			cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
		}
	}
	if skip := os.Getenv("NODE_SKIP_EMPTY"); skip != "" {
		cfg.Node.SkipEmpty = skip == "true"
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	cfg.P2P.Listen = getEnv("P2P_LISTEN", cfg.P2P.Listen)
	if peers := os.Getenv("P2P_BOOTSTRAP"); peers != "" {
		cfg.P2P.Bootstrap = splitList(peers)
	}
	if seed := os.Getenv("SEQUENCER_SEED"); seed != "" {
		if len(seed) < minSeedLen {
			return Config{}, fmt.Errorf("SEQUENCER_SEED must be at least %d bytes", minSeedLen)
		}
		cfg.P2P.SequencerSeed = []byte(seed)
	}
	if pk := os.Getenv("SEQUENCER_PUBKEY"); pk != "" {
		b, perr := hex.DecodeString(strings.TrimPrefix(pk, "0x"))
		if perr != nil {
			return Config{}, fmt.Errorf("SEQUENCER_PUBKEY: %w", perr)
		}
		cfg.P2P.SequencerPubKey = b
	}
	if cfg.Node.Role == RoleFollower && len(cfg.P2P.SequencerPubKey) == 0 {
		return Config{}, fmt.Errorf("SEQUENCER_PUBKEY is required for role %s", RoleFollower)
	}

	return cfg, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
