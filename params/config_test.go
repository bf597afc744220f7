package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Pair.Symbol != "HYB-USDC" {
		t.Errorf("symbol = %q", cfg.Pair.Symbol)
	}
	if !cfg.Pair.InitialQuote.Eq(uint256.MustFromDecimal("10000000000000000000")) {
		t.Errorf("initial quote = %s", cfg.Pair.InitialQuote)
	}
	if !cfg.Node.RequireSignatures {
		t.Error("signatures must be required by default")
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Error("kafka must be off by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PAIR_SYMBOL", "ETH-USDC")
	t.Setenv("PAIR_DECIMALS", "6")
	t.Setenv("PAIR_MIN_AMOUNT", "5000")
	t.Setenv("PAIR_PAUSED", "true")
	t.Setenv("ACCOUNT_VENUE", "0x00000000000000000000000000000000000000fe")
	t.Setenv("NODE_REQUIRE_SIGNATURES", "false")
	t.Setenv("NODE_FAUCET", "0x0000000000000000000000000000000000000a11, 0x0000000000000000000000000000000000000b0b")
	t.Setenv("KAFKA_BROKERS", "k1:9092,,k2:9092")
	t.Setenv("ENABLE_TXGEN", "true")
	t.Setenv("TXGEN_INTERVAL_MS", "50")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pair.Symbol != "ETH-USDC" || cfg.Pair.Decimals != 6 {
		t.Errorf("pair = %+v", cfg.Pair)
	}
	if !cfg.Pair.Paused {
		t.Error("pair not paused")
	}
	if !cfg.Pair.MinAmount.Eq(uint256.NewInt(5000)) {
		t.Errorf("min amount = %s", cfg.Pair.MinAmount)
	}
	if cfg.Accounts.Venue != common.HexToAddress("0xfe") {
		t.Errorf("venue = %s", cfg.Accounts.Venue.Hex())
	}
	if cfg.Node.RequireSignatures {
		t.Error("require signatures not overridden")
	}
	if len(cfg.Node.Faucet) != 2 {
		t.Errorf("faucet = %v", cfg.Node.Faucet)
	}
	if !cfg.Node.TxGen || cfg.Node.TxGenInterval != 50*time.Millisecond || cfg.Node.TxGenBatch != 5 {
		t.Errorf("txgen = %v %v %d", cfg.Node.TxGen, cfg.Node.TxGenInterval, cfg.Node.TxGenBatch)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("NODE_API_ADDR=:9999\nKAFKA_TOPIC=fills\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override variables already set
	t.Setenv("NODE_API_ADDR", "")
	os.Unsetenv("NODE_API_ADDR")
	t.Setenv("KAFKA_TOPIC", "")
	os.Unsetenv("KAFKA_TOPIC")

	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.APIAddr != ":9999" || cfg.Kafka.Topic != "fills" {
		t.Errorf("node %q topic %q", cfg.Node.APIAddr, cfg.Kafka.Topic)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("PAIR_BASE_TOKEN", "hyb")
	t.Setenv("PAIR_PRICE_STEP", "1.5")
	t.Setenv("NODE_CHAIN_ID", "x")
	t.Setenv("TXGEN_BATCH", "0")

	if _, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error")
	}
}
