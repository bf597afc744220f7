// Package hybrid serves one pair: it runs each request through the matching
// engine as a single unit of work and persists, settles and publishes it.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hybridx/pkg/app/core"
	"github.com/uhyunpark/hybridx/pkg/app/core/amm"
	"github.com/uhyunpark/hybridx/pkg/app/core/market"
	"github.com/uhyunpark/hybridx/pkg/app/core/matching"
	"github.com/uhyunpark/hybridx/pkg/app/core/orderbook"
	"github.com/uhyunpark/hybridx/pkg/events"
	"github.com/uhyunpark/hybridx/pkg/metrics"
	"github.com/uhyunpark/hybridx/pkg/settlement"
	"github.com/uhyunpark/hybridx/pkg/storage"
	"github.com/uhyunpark/hybridx/pkg/util"
)

// publishTimeout bounds event delivery for one accepted request.
const publishTimeout = 5 * time.Second

// Store is the durable side of a pair.
type Store interface {
	Apply(storage.Changes) error
	Load() (matching.State, bool, error)
}

type Config struct {
	Market   *market.Market
	Accounts settlement.Accounts
	Settler  settlement.Settler
	Store    Store       // optional
	Sink     events.Sink // optional
	Clock    util.Clock  // defaults to the real clock
	Logger   *zap.SugaredLogger
}

// Execution is an accepted request.
type Execution struct {
	Result matching.Result
	Batch  settlement.Batch
}

// Pair owns one engine. Every operation takes the pair lock, so requests are
// applied one at a time in arrival order.
type Pair struct {
	mu     sync.Mutex
	engine *matching.Engine

	market   *market.Market
	accounts settlement.Accounts
	settler  settlement.Settler
	store    Store
	sink     events.Sink
	clock    util.Clock
	log      *zap.SugaredLogger
}

// NewPair restores the pair from cfg.Store when it holds one, and otherwise
// starts an empty book over the initial reserves.
func NewPair(cfg Config, initial amm.Reserves) (*Pair, error) {
	if cfg.Market == nil || cfg.Settler == nil {
		return nil, errors.New("hybrid: market and settler are required")
	}
	p := &Pair{
		market:   cfg.Market,
		accounts: cfg.Accounts,
		settler:  cfg.Settler,
		store:    cfg.Store,
		sink:     cfg.Sink,
		clock:    cfg.Clock,
		log:      cfg.Logger,
	}
	if p.sink == nil {
		p.sink = events.Discard{}
	}
	if p.clock == nil {
		p.clock = util.RealClock{}
	}
	if p.log == nil {
		p.log = zap.NewNop().Sugar()
	}

	if p.store != nil {
		st, found, err := p.store.Load()
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", cfg.Market.Symbol, err)
		}
		if found {
			if p.engine, err = matching.Restore(cfg.Market, st); err != nil {
				return nil, err
			}
			p.log.Infow("pair_restored", "pair", cfg.Market.Symbol, "orders", len(st.Orders), "next_id", st.NextID,
				"base", st.Reserves.Base.Dec(), "quote", st.Reserves.Quote.Dec())
			return p, nil
		}
	}

	engine, err := matching.New(cfg.Market, initial)
	if err != nil {
		return nil, err
	}
	p.engine = engine
	if p.store != nil {
		if err := p.store.Apply(storage.Changes{Reserves: initial, NextID: engine.NextOrderID()}); err != nil {
			return nil, fmt.Errorf("persist initial state: %w", err)
		}
	}
	p.log.Infow("pair_created", "pair", cfg.Market.Symbol, "base", initial.Base.Dec(), "quote", initial.Quote.Dec())
	return p, nil
}

func (p *Pair) Market() *market.Market { return p.market }

// Submit matches req and, if everything downstream accepts it, makes it
// final. Any failure leaves the pair as it was.
func (p *Pair) Submit(ctx context.Context, req matching.Request) (*Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	p.mu.Lock()
	exec, err := p.submitLocked(ctx, req)
	p.mu.Unlock()

	metrics.MatchLatency.WithLabelValues(p.market.Symbol).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Requests.WithLabelValues(p.market.Symbol, req.Side.String(), "rejected").Inc()
		p.log.Infow("request_rejected", "pair", p.market.Symbol, "owner", req.Owner.Hex(), "side", req.Side.String(), "err", err)
		return nil, err
	}
	metrics.Requests.WithLabelValues(p.market.Symbol, req.Side.String(), "accepted").Inc()
	p.observe(exec)

	// the unit of work is final, so its events outlive the caller's context
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	p.publish(pctx, req, exec)
	cancel()
	return exec, nil
}

func (p *Pair) submitLocked(ctx context.Context, req matching.Request) (*Execution, error) {
	cp := p.engine.Checkpoint()
	res, err := p.engine.Match(req)
	if err != nil {
		return nil, err
	}

	recipient := req.Recipient
	if recipient == (common.Address{}) {
		recipient = req.Owner
	}
	batch := settlement.Build(p.market, p.accounts, req.Owner, recipient, res)

	if p.store != nil {
		if err := p.store.Apply(p.changes(res)); err != nil {
			p.engine.Revert(cp)
			return nil, fmt.Errorf("persist: %w", err)
		}
	}

	if err := p.settler.Settle(ctx, batch); err != nil {
		p.engine.Revert(cp)
		err = fmt.Errorf("settle batch %s: %w", batch.ID, err)
		if p.store != nil {
			if cerr := p.store.Apply(p.undo(res)); cerr != nil {
				p.log.Errorw("undo_failed", "pair", p.market.Symbol, "batch", batch.ID.String(), "err", cerr)
				return nil, errors.Join(err, fmt.Errorf("undo persisted state: %w", cerr))
			}
		}
		return nil, err
	}

	p.engine.Commit()
	p.log.Debugw("request_applied", "pair", p.market.Symbol, "batch", batch.ID.String(), "transfers", len(batch.Transfers))
	return &Execution{Result: res, Batch: batch}, nil
}

// changes is what res wrote: every touched order in its new state, the new
// order and the reserves.
func (p *Pair) changes(res matching.Result) storage.Changes {
	c := storage.Changes{Reserves: p.engine.Reserves(), NextID: p.engine.NextOrderID()}
	for _, f := range res.Fills {
		if o, ok := p.engine.Order(f.OrderID); ok {
			c.Orders = append(c.Orders, o)
		}
	}
	if res.Created != nil {
		c.Orders = append(c.Orders, res.Created)
	}
	return c
}

// undo must run after the engine was reverted: it writes the touched orders
// back in their reverted state and drops the order res created.
func (p *Pair) undo(res matching.Result) storage.Changes {
	c := storage.Changes{Reserves: p.engine.Reserves(), NextID: p.engine.NextOrderID()}
	for _, f := range res.Fills {
		if o, ok := p.engine.Order(f.OrderID); ok {
			c.Orders = append(c.Orders, o)
		}
	}
	if res.Created != nil {
		c.Deleted = append(c.Deleted, res.Created)
	}
	return c
}

func (p *Pair) observe(exec *Execution) {
	res := exec.Result
	sym := p.market.Symbol
	metrics.Fills.WithLabelValues(sym).Add(float64(len(res.Fills)))
	if res.Created != nil {
		metrics.OrdersCreated.WithLabelValues(sym, res.Created.Side.String()).Inc()
	}
	metrics.PoolPrice.WithLabelValues(sym).Set(p.market.ToDecimal(res.EndPrice).InexactFloat64())

	p.log.Infow("request_matched",
		"pair", sym,
		"side", res.Side.String(),
		"offered", res.Offered.Dec(),
		"pool_in", res.PoolIn.Dec(),
		"order_in", res.OrderIn.Dec(),
		"fills", len(res.Fills),
		"leftover", res.Leftover.Dec(),
		"end_price", res.EndPrice.Dec(),
	)
}

func (p *Pair) publish(ctx context.Context, req matching.Request, exec *Execution) {
	res := exec.Result
	now := p.clock.Now()
	var evs []events.Envelope

	if !res.PoolIn.IsZero() || !res.OrderIn.IsZero() {
		m := events.Matched{
			BatchID:    exec.Batch.ID,
			Taker:      req.Owner,
			Recipient:  req.Recipient,
			Side:       res.Side,
			Offered:    res.Offered,
			PoolIn:     res.PoolIn,
			PoolOut:    res.PoolOut,
			OrderIn:    res.OrderIn,
			OrderOut:   res.OrderOut,
			Fee:        res.OrderFee,
			Leftover:   res.Leftover,
			StartPrice: res.StartPrice,
			EndPrice:   res.EndPrice,
		}
		if m.Recipient == (common.Address{}) {
			m.Recipient = req.Owner
		}
		for _, f := range res.Fills {
			m.Fills = append(m.Fills, events.Fill{
				OrderID:     f.OrderID,
				Beneficiary: f.Beneficiary,
				Price:       f.Price,
				Paid:        f.Consumed,
				Received:    f.Net(),
				Fee:         f.Fee,
				Filled:      f.Filled,
			})
		}
		evs = append(evs, events.NewEnvelope(events.KindMatched, p.market.Symbol, now, m))
	}
	if o := res.Created; o != nil {
		evs = append(evs, events.NewEnvelope(events.KindOrderCreated, p.market.Symbol, now, events.OrderCreated{
			OrderID:         o.ID,
			Owner:           o.Owner,
			Beneficiary:     o.Beneficiary,
			Side:            o.Side,
			Price:           o.Price,
			AmountOffered:   o.AmountOffered,
			AmountRemaining: o.AmountRemaining,
		}))
	}

	for _, ev := range evs {
		if err := p.sink.Publish(ctx, ev); err != nil {
			metrics.EventPublishErrors.WithLabelValues(p.market.Symbol).Inc()
			p.log.Warnw("event_publish_failed", "pair", p.market.Symbol, "kind", string(ev.Kind), "id", ev.ID.String(), "err", err)
		}
	}
}

// Quote is a dry run of Submit's matching step.
func (p *Pair) Quote(req matching.Request) (matching.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Quote(req)
}

func (p *Pair) Snapshot(maxLevels int) (matching.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Snapshot(maxLevels)
}

func (p *Pair) CurrentPrice() (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.CurrentPrice()
}

func (p *Pair) Reserves() amm.Reserves {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Reserves()
}

func (p *Pair) Order(id uint64) (*orderbook.Order, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Order(id)
}

func (p *Pair) OrdersOf(owner common.Address) []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.OrdersOf(owner)
}

// Escrow is what resting orders on side hold.
func (p *Pair) Escrow(side core.Side) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Escrow(side)
}

// SyncReserves adopts reserves observed outside the venue.
func (p *Pair) SyncReserves(r amm.Reserves) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.engine.Reserves()
	if err := p.engine.SyncReserves(r); err != nil {
		return err
	}
	if p.store != nil {
		if err := p.store.Apply(storage.Changes{Reserves: r, NextID: p.engine.NextOrderID()}); err != nil {
			_ = p.engine.SyncReserves(prev)
			return fmt.Errorf("persist reserves: %w", err)
		}
	}
	p.log.Infow("reserves_synced", "pair", p.market.Symbol, "base", r.Base.Dec(), "quote", r.Quote.Dec())
	return nil
}
