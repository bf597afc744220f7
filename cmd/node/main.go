package main

import (
	"context"
	"log"
	"math/big"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hybridx/params"
	"github.com/uhyunpark/hybridx/pkg/api"
	"github.com/uhyunpark/hybridx/pkg/app/core"
	"github.com/uhyunpark/hybridx/pkg/app/core/amm"
	"github.com/uhyunpark/hybridx/pkg/app/core/market"
	"github.com/uhyunpark/hybridx/pkg/app/core/transaction"
	"github.com/uhyunpark/hybridx/pkg/app/hybrid"
	"github.com/uhyunpark/hybridx/pkg/crypto"
	"github.com/uhyunpark/hybridx/pkg/events"
	"github.com/uhyunpark/hybridx/pkg/metrics"
	"github.com/uhyunpark/hybridx/pkg/settlement"
	"github.com/uhyunpark/hybridx/pkg/storage"
	"github.com/uhyunpark/hybridx/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Market ----
	m, err := market.NewMarket(cfg.Pair.Symbol, cfg.Pair.BaseToken, cfg.Pair.QuoteToken,
		market.CustomParams(cfg.Pair.Decimals, cfg.Pair.PriceStep, cfg.Pair.MinAmount))
	if err != nil {
		return err
	}
	if cfg.Pair.Paused {
		m.Status = market.Paused
		sugar.Warnw("pair_paused", "pair", m.Symbol)
	}
	accounts := settlement.Accounts{
		Pool:         cfg.Accounts.Pool,
		Venue:        cfg.Accounts.Venue,
		FeeRecipient: cfg.Accounts.FeeRecipient,
	}

	// ---- Storage & ledger ----
	store, err := storage.NewStore(filepath.Join(cfg.Node.DataDir, "pair.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	balances, err := store.LoadBalances()
	if err != nil {
		return err
	}
	ledger := settlement.NewPersistentLedger(store, balances)
	if len(balances) == 0 {
		if err := fundGenesis(ledger, cfg, accounts); err != nil {
			return err
		}
		sugar.Infow("ledger_funded", "pool", accounts.Pool.Hex(), "faucet_accounts", len(cfg.Node.Faucet))
	}

	// ---- Events ----
	hub := api.NewHub(sugar)
	sink := events.Fanout{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafka.Close()
		sink = append(sink, kafka)
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// ---- Metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return err
	}

	// ---- Pair ----
	pair, err := hybrid.NewPair(hybrid.Config{
		Market:   m,
		Accounts: accounts,
		Settler:  ledger,
		Store:    store,
		Sink:     sink,
		Clock:    util.RealClock{},
		Logger:   sugar,
	}, amm.NewReserves(cfg.Pair.InitialBase, cfg.Pair.InitialQuote))
	if err != nil {
		return err
	}

	// ---- API Server ----
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Node.ChainID)
	apiServer := api.NewServer(api.Options{
		Pair:           pair,
		Balances:       ledger,
		Verifier:       transaction.NewVerifier(m.Symbol, domain, util.RealClock{}, cfg.Node.RequireSignatures),
		Hub:            hub,
		Gatherer:       reg,
		AllowedOrigins: cfg.Node.AllowedOrigins,
		Logger:         sugar,
	})
	// ---- Transaction generator (optional) ----
	// Enable with: ENABLE_TXGEN=true NODE_FAUCET=0x...,0x...
	if cfg.Node.TxGen {
		fcfg := hybrid.DefaultFeederConfig(cfg.Node.Faucet)
		fcfg.Interval = cfg.Node.TxGenInterval
		fcfg.BatchSize = cfg.Node.TxGenBatch
		feeder, err := hybrid.StartFeeder(ctx, pair, fcfg, sugar)
		if err != nil {
			return err
		}
		defer feeder.Stop()
	}

	errc := make(chan error, 1)
	go func() { errc <- apiServer.Start(ctx, cfg.Node.APIAddr) }()

	sugar.Infow("node_starting",
		"pair", m.Symbol,
		"api_addr", cfg.Node.APIAddr,
		"require_signatures", cfg.Node.RequireSignatures,
		"chain_id", cfg.Node.ChainID)

	// Progress logging loop
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return apiServer.Shutdown(shutdownCtx)
		case err := <-errc:
			return err
		case <-ticker.C:
			logStatus(sugar, pair)
		}
	}
}

// fundGenesis credits the pool with its initial reserves and every faucet
// account with FaucetAmount of both tokens.
func fundGenesis(ledger *settlement.Ledger, cfg params.Config, accounts settlement.Accounts) error {
	if err := ledger.Credit(cfg.Pair.BaseToken, accounts.Pool, cfg.Pair.InitialBase); err != nil {
		return err
	}
	if err := ledger.Credit(cfg.Pair.QuoteToken, accounts.Pool, cfg.Pair.InitialQuote); err != nil {
		return err
	}
	for _, a := range cfg.Node.Faucet {
		if err := ledger.Credit(cfg.Pair.BaseToken, a, cfg.Node.FaucetAmount); err != nil {
			return err
		}
		if err := ledger.Credit(cfg.Pair.QuoteToken, a, cfg.Node.FaucetAmount); err != nil {
			return err
		}
	}
	return nil
}

func logStatus(sugar *zap.SugaredLogger, pair *hybrid.Pair) {
	price, err := pair.CurrentPrice()
	if err != nil {
		sugar.Warnw("pair_status_failed", "err", err)
		return
	}
	r := pair.Reserves()
	sugar.Infow("pair_status",
		"pair", pair.Market().Symbol,
		"price", pair.Market().ToDecimal(price).String(),
		"base_reserve", r.Base.Dec(),
		"quote_reserve", r.Quote.Dec(),
		"bid_escrow", pair.Escrow(core.Buy).Dec(),
		"ask_escrow", pair.Escrow(core.Sell).Dec())
}
