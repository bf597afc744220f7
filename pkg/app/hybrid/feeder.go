package hybrid

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hybridx/pkg/app/core"
	"github.com/uhyunpark/hybridx/pkg/app/core/market"
	"github.com/uhyunpark/hybridx/pkg/app/core/matching"
)

// FeederConfig controls the devnet load generator.
type FeederConfig struct {
	Interval  time.Duration    // how often a batch is submitted
	BatchSize int              // requests per batch
	Traders   []common.Address // funded accounts to trade as
	SpreadBps uint64           // limit prices fall within ±SpreadBps of the pool price
	MaxAmount *uint256.Int     // offered amounts are drawn from [MinAmount, MaxAmount]
	Seed      int64
}

func DefaultFeederConfig(traders []common.Address) FeederConfig {
	return FeederConfig{
		Interval:  200 * time.Millisecond,
		BatchSize: 5,
		Traders:   traders,
		SpreadBps: 500,
		MaxAmount: uint256.NewInt(1e18),
		Seed:      time.Now().UnixNano(),
	}
}

// Generator draws random requests around a price.
type Generator struct {
	m   *market.Market
	cfg FeederConfig
	rng *rand.Rand
}

func NewGenerator(m *market.Market, cfg FeederConfig) *Generator {
	return &Generator{m: m, cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Next returns a request whose limit sits on the price grid within the
// configured spread of price.
func (g *Generator) Next(price *uint256.Int) matching.Request {
	side := core.Buy
	if g.rng.Intn(2) == 1 {
		side = core.Sell
	}

	// offset in [-spread, +spread] basis points
	spread := int64(g.cfg.SpreadBps)
	offset := g.rng.Int63n(2*spread+1) - spread
	bps := uint256.NewInt(uint64(10_000 + offset))
	limit := new(uint256.Int).Mul(price, bps)
	limit.Div(limit, uint256.NewInt(10_000))
	limit.Sub(limit, new(uint256.Int).Mod(limit, g.m.PriceStep))
	if limit.IsZero() {
		limit.Set(g.m.PriceStep)
	}

	amount := g.m.MinAmount.Clone()
	if g.cfg.MaxAmount != nil && g.cfg.MaxAmount.Gt(g.m.MinAmount) {
		span := new(uint256.Int).Sub(g.cfg.MaxAmount, g.m.MinAmount)
		span.AddUint64(span, 1)
		draw := new(uint256.Int).Mod(uint256.NewInt(g.rng.Uint64()), span)
		amount.Add(amount, draw)
	}

	return matching.Request{
		Side:   side,
		Amount: amount,
		Price:  limit,
		Owner:  g.cfg.Traders[g.rng.Intn(len(g.cfg.Traders))],
	}
}

// Feeder submits generated requests to a pair until stopped.
type Feeder struct {
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	accepted atomic.Uint64
	rejected atomic.Uint64
}

// StartFeeder starts a background goroutine that continuously feeds requests
// to p. Stop it with Stop or by cancelling ctx.
func StartFeeder(ctx context.Context, p *Pair, cfg FeederConfig, log *zap.SugaredLogger) (*Feeder, error) {
	if len(cfg.Traders) == 0 {
		return nil, errors.New("feeder: no traders")
	}
	if cfg.Interval <= 0 || cfg.BatchSize <= 0 {
		return nil, errors.New("feeder: interval and batch size must be positive")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	feedCtx, cancel := context.WithCancel(ctx)
	f := &Feeder{cancel: cancel, done: make(chan struct{})}
	gen := NewGenerator(p.Market(), cfg)

	go func() {
		defer close(f.done)
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		start := time.Now()
		log.Infow("feeder_started", "pair", p.Market().Symbol, "batch", cfg.BatchSize, "interval", cfg.Interval, "traders", len(cfg.Traders))

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(start)
				log.Infow("feeder_stopped",
					"accepted", f.accepted.Load(),
					"rejected", f.rejected.Load(),
					"elapsed", elapsed.Round(time.Second))
				return

			case <-ticker.C:
				price, err := p.CurrentPrice()
				if err != nil {
					log.Warnw("feeder_price_failed", "err", err)
					continue
				}
				for i := 0; i < cfg.BatchSize; i++ {
					if _, err := p.Submit(feedCtx, gen.Next(price)); err != nil {
						f.rejected.Add(1)
						log.Debugw("feeder_rejected", "err", err)
						continue
					}
					f.accepted.Add(1)
				}
			}
		}
	}()
	return f, nil
}

// Stop halts the feeder and waits for the in-flight batch.
func (f *Feeder) Stop() {
	f.once.Do(f.cancel)
	<-f.done
}

// Stats returns how many generated requests were accepted and rejected.
func (f *Feeder) Stats() (accepted, rejected uint64) {
	return f.accepted.Load(), f.rejected.Load()
}
