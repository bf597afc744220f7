package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
)

type Pair struct {
	Symbol     string
	BaseToken  common.Address
	QuoteToken common.Address
	Decimals   uint8
	PriceStep  *uint256.Int
	MinAmount  *uint256.Int

	// Paused serves reads but rejects every order.
	Paused bool

	// Reserves the pool is seeded with on a fresh database.
	InitialBase  *uint256.Int
	InitialQuote *uint256.Int
}

// Accounts are the settlement counterparties of the venue itself.
type Accounts struct {
	Pool         common.Address
	Venue        common.Address // escrows the offered amounts of resting orders
	FeeRecipient common.Address
}

type Node struct {
	APIAddr        string
	DataDir        string
	LogFile        string
	LogLevel       string
	AllowedOrigins []string

	// RequireSignatures rejects order submissions without an EIP-712 signature.
	// Devnets may turn it off and trust the stated owner.
	RequireSignatures bool
	ChainID           int64

	// Faucet accounts are credited FaucetAmount of both tokens on a fresh ledger.
	Faucet       []common.Address
	FaucetAmount *uint256.Int

	// TxGen trades random requests as the faucet accounts (devnet only).
	TxGen         bool
	TxGenInterval time.Duration
	TxGenBatch    int
}

type Kafka struct {
	Brokers []string // empty disables the Kafka sink
	Topic   string
}

type Config struct {
	Pair     Pair
	Accounts Accounts
	Node     Node
	Kafka    Kafka
}

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18)))
}

func Default() Config {
	return Config{
		Pair: Pair{
			Symbol:       "HYB-USDC",
			BaseToken:    common.HexToAddress("0x00000000000000000000000000000000000000b1"),
			QuoteToken:   common.HexToAddress("0x00000000000000000000000000000000000000a1"),
			Decimals:     18,
			PriceStep:    uint256.NewInt(1000),
			MinAmount:    uint256.NewInt(1000),
			InitialBase:  ether(5),
			InitialQuote: ether(10),
		},
		Accounts: Accounts{
			Pool:         common.HexToAddress("0x0000000000000000000000000000000000000001"),
			Venue:        common.HexToAddress("0x0000000000000000000000000000000000000002"),
			FeeRecipient: common.HexToAddress("0x0000000000000000000000000000000000000003"),
		},
		Node: Node{
			APIAddr:           ":8080",
			DataDir:           "data",
			LogFile:           "data/node.log",
			LogLevel:          "info",
			AllowedOrigins:    []string{"http://localhost:3000", "http://localhost:3001"},
			RequireSignatures: true,
			ChainID:           1337,
			FaucetAmount:      ether(1000),
			TxGenInterval:     200 * time.Millisecond,
			TxGenBatch:        5,
		},
		Kafka: Kafka{
			Topic: "hybridx.events",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var errs []string
	fail := func(key string, err error) { errs = append(errs, fmt.Sprintf("%s: %v", key, err)) }

	address := func(key string, dst *common.Address) {
		if v := os.Getenv(key); v != "" {
			if !common.IsHexAddress(v) {
				fail(key, fmt.Errorf("not a hex address: %q", v))
				return
			}
			*dst = common.HexToAddress(v)
		}
	}
	amount := func(key string, dst **uint256.Int) {
		if v := os.Getenv(key); v != "" {
			n, err := uint256.FromDecimal(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = n
		}
	}

	cfg.Pair.Symbol = getEnv("PAIR_SYMBOL", cfg.Pair.Symbol)
	address("PAIR_BASE_TOKEN", &cfg.Pair.BaseToken)
	address("PAIR_QUOTE_TOKEN", &cfg.Pair.QuoteToken)
	if v := os.Getenv("PAIR_DECIMALS"); v != "" {
		d, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			fail("PAIR_DECIMALS", err)
		} else {
			cfg.Pair.Decimals = uint8(d)
		}
	}
	if v := os.Getenv("PAIR_PAUSED"); v != "" {
		cfg.Pair.Paused = v == "true"
	}
	amount("PAIR_PRICE_STEP", &cfg.Pair.PriceStep)
	amount("PAIR_MIN_AMOUNT", &cfg.Pair.MinAmount)
	amount("PAIR_INITIAL_BASE", &cfg.Pair.InitialBase)
	amount("PAIR_INITIAL_QUOTE", &cfg.Pair.InitialQuote)

	address("ACCOUNT_POOL", &cfg.Accounts.Pool)
	address("ACCOUNT_VENUE", &cfg.Accounts.Venue)
	address("ACCOUNT_FEE_RECIPIENT", &cfg.Accounts.FeeRecipient)

	cfg.Node.APIAddr = getEnv("NODE_API_ADDR", cfg.Node.APIAddr)
	cfg.Node.DataDir = getEnv("NODE_DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if v := os.Getenv("NODE_ALLOWED_ORIGINS"); v != "" {
		cfg.Node.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("NODE_REQUIRE_SIGNATURES"); v != "" {
		cfg.Node.RequireSignatures = v == "true"
	}
	if v := os.Getenv("NODE_CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fail("NODE_CHAIN_ID", err)
		} else {
			cfg.Node.ChainID = id
		}
	}
	if v := os.Getenv("NODE_FAUCET"); v != "" {
		cfg.Node.Faucet = nil
		for _, a := range splitList(v) {
			if !common.IsHexAddress(a) {
				fail("NODE_FAUCET", fmt.Errorf("not a hex address: %q", a))
				continue
			}
			cfg.Node.Faucet = append(cfg.Node.Faucet, common.HexToAddress(a))
		}
	}
	amount("NODE_FAUCET_AMOUNT", &cfg.Node.FaucetAmount)
	if v := os.Getenv("ENABLE_TXGEN"); v != "" {
		cfg.Node.TxGen = v == "true"
	}
	if v := os.Getenv("TXGEN_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Node.TxGenInterval = time.Duration(ms) * time.Millisecond
		} else {
			fail("TXGEN_INTERVAL_MS", fmt.Errorf("want a positive integer, got %q", v))
		}
	}
	if v := os.Getenv("TXGEN_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Node.TxGenBatch = n
		} else {
			fail("TXGEN_BATCH", fmt.Errorf("want a positive integer, got %q", v))
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	if len(errs) > 0 {
		return cfg, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
