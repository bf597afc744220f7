package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/hybridx/pkg/app/core/amm"
	"github.com/uhyunpark/hybridx/pkg/app/core/market"
	"github.com/uhyunpark/hybridx/pkg/app/core/transaction"
	"github.com/uhyunpark/hybridx/pkg/app/hybrid"
	"github.com/uhyunpark/hybridx/pkg/crypto"
	"github.com/uhyunpark/hybridx/pkg/metrics"
	"github.com/uhyunpark/hybridx/pkg/settlement"
)

const symbol = "HYB-USDC"

var (
	baseToken  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	quoteToken = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	accounts   = settlement.Accounts{
		Pool:         common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Venue:        common.HexToAddress("0x0000000000000000000000000000000000000002"),
		FeeRecipient: common.HexToAddress("0x0000000000000000000000000000000000000003"),
	}
)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), amm.Scale(18))
}

func tenths(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), amm.Scale(17))
}

type env struct {
	srv    *Server
	pair   *hybrid.Pair
	http   *httptest.Server
	ledger *settlement.Ledger
	maker  *crypto.Signer
	taker  *crypto.Signer
	nonce  int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	m, err := market.NewMarket(symbol, baseToken, quoteToken, market.DefaultParams())
	require.NoError(t, err)

	e := &env{ledger: settlement.NewLedger()}
	e.maker, err = crypto.GenerateKey()
	require.NoError(t, err)
	e.taker, err = crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, e.ledger.Credit(baseToken, accounts.Pool, ether(5)))
	require.NoError(t, e.ledger.Credit(quoteToken, accounts.Pool, ether(10)))
	require.NoError(t, e.ledger.Credit(baseToken, e.maker.Address(), ether(20)))
	require.NoError(t, e.ledger.Credit(quoteToken, e.taker.Address(), ether(20)))

	// the hub logs from connection goroutines that may outlive the test
	hub := NewHub(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	pair, err := hybrid.NewPair(hybrid.Config{
		Market:   m,
		Accounts: accounts,
		Settler:  e.ledger,
		Sink:     hub,
		Logger:   log,
	}, amm.NewReserves(ether(5), ether(10)))
	require.NoError(t, err)
	e.pair = pair

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	e.srv = NewServer(Options{
		Pair:     pair,
		Balances: e.ledger,
		Verifier: transaction.NewVerifier(symbol, crypto.DefaultDomain(), nil, true),
		Hub:      hub,
		Gatherer: reg,
		Logger:   log,
	})
	e.http = httptest.NewServer(e.srv.Handler())
	t.Cleanup(e.http.Close)
	return e
}

func (e *env) order(t *testing.T, s *crypto.Signer, side uint8, amount, price *uint256.Int) transaction.SignedOrder {
	t.Helper()
	e.nonce++
	o := &crypto.OrderIntent{
		Pair:     symbol,
		Side:     side,
		Amount:   amount.ToBig(),
		Price:    price.ToBig(),
		Nonce:    big.NewInt(e.nonce),
		Deadline: big.NewInt(0),
		Owner:    s.Address(),
	}
	sig, err := crypto.NewTypedSigner(crypto.DefaultDomain()).SignOrder(s, o)
	require.NoError(t, err)
	return transaction.SignedOrder{Order: transaction.FromIntent(o), Signature: crypto.EncodeSignature(sig)}
}

func (e *env) post(t *testing.T, so transaction.SignedOrder) *http.Response {
	t.Helper()
	body, err := json.Marshal(so)
	require.NoError(t, err)
	resp, err := http.Post(e.http.URL+"/api/v1/orders", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (e *env) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response, status int) T {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, status, resp.StatusCode, string(body))
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func TestGetPairAndPrice(t *testing.T) {
	e := newEnv(t)

	info := decode[PairInfo](t, e.get(t, "/api/v1/pair"), http.StatusOK)
	require.Equal(t, symbol, info.Symbol)
	require.Equal(t, baseToken.Hex(), info.BaseToken)
	require.Equal(t, "Active", info.Status)
	require.Equal(t, ether(2), info.Price)
	require.Equal(t, "2", info.PriceDecimal.String())
	require.Equal(t, uint64(3), info.FeeNumerator)

	price := decode[PriceInfo](t, e.get(t, "/api/v1/price"), http.StatusOK)
	require.Equal(t, ether(2), price.Price)
	require.Equal(t, ether(5), price.Reserves.Base)

	health := decode[HealthStatus](t, e.get(t, "/health"), http.StatusOK)
	require.Equal(t, "ok", health.Status)
}

func TestSubmitSignedOrderAndQuery(t *testing.T) {
	e := newEnv(t)
	maker := e.maker.Address()

	sub := decode[SubmitOrderResponse](t, e.post(t, e.order(t, e.maker, 2, ether(2), tenths(21))), http.StatusOK)
	require.Equal(t, "accepted", sub.Status)
	require.NotNil(t, sub.Execution.Created)
	id := sub.Execution.Created.ID
	require.True(t, sub.Execution.PoolIn.IsZero(), "the pool already sits at 2.0, below the ask")

	o := decode[OrderInfo](t, e.get(t, "/api/v1/orders/"+strconv.FormatUint(id, 10)), http.StatusOK)
	require.Equal(t, id, o.ID)
	require.Equal(t, "sell", o.Side)
	require.Equal(t, "2.1", o.PriceDecimal.String())
	require.True(t, o.Live)

	orders := decode[[]OrderInfo](t, e.get(t, "/api/v1/accounts/"+maker.Hex()+"/orders"), http.StatusOK)
	require.Len(t, orders, 1)

	book := decode[OrderbookSnapshot](t, e.get(t, "/api/v1/orderbook?depth=5"), http.StatusOK)
	require.Empty(t, book.Bids)
	require.Len(t, book.Asks, 1)
	require.Equal(t, ether(2), book.Asks[0].Amount)

	bal := decode[BalanceInfo](t, e.get(t, "/api/v1/accounts/"+maker.Hex()+"/balances"), http.StatusOK)
	require.Equal(t, ether(18), bal.Base)
	require.True(t, bal.Quote.IsZero())

	// the taker lifts the pool up to 2.1 and then the ask
	sub = decode[SubmitOrderResponse](t, e.post(t, e.order(t, e.taker, 1, ether(1), tenths(21))), http.StatusOK)
	require.False(t, sub.Execution.PoolIn.IsZero())
	require.Len(t, sub.Execution.Fills, 1)
	require.Equal(t, id, sub.Execution.Fills[0].OrderID)
	require.Nil(t, sub.Execution.Created)
	require.NotEqual(t, "", sub.BatchID.String())

	bal = decode[BalanceInfo](t, e.get(t, "/api/v1/accounts/"+e.taker.Address().Hex()+"/balances"), http.StatusOK)
	require.Equal(t, sub.Execution.Received, bal.Base)
}

func TestSubmitRejections(t *testing.T) {
	e := newEnv(t)
	broke, err := crypto.GenerateKey()
	require.NoError(t, err)

	so := e.order(t, e.maker, 2, ether(1), tenths(21))
	decode[SubmitOrderResponse](t, e.post(t, so), http.StatusOK)
	replay := decode[ErrorResponse](t, e.post(t, so), http.StatusConflict)
	require.Equal(t, "nonce already used", replay.Error)

	forged := e.order(t, e.taker, 2, ether(1), tenths(21))
	forged.Order.Owner = e.maker.Address().Hex()
	decode[ErrorResponse](t, e.post(t, forged), http.StatusUnauthorized)

	offGrid := decode[ErrorResponse](t, e.post(t, e.order(t, e.maker, 2, ether(1), uint256.NewInt(1))), http.StatusBadRequest)
	require.Contains(t, offGrid.Message, "invalid price")

	unfunded := decode[ErrorResponse](t, e.post(t, e.order(t, broke, 1, ether(1), ether(3))), http.StatusConflict)
	require.Equal(t, "insufficient balance", unfunded.Error)

	resp, err := http.Post(e.http.URL+"/api/v1/orders", "application/json", strings.NewReader(`{"bogus":1}`))
	require.NoError(t, err)
	decode[ErrorResponse](t, resp, http.StatusBadRequest)

	// nothing above changed the book
	book := decode[OrderbookSnapshot](t, e.get(t, "/api/v1/orderbook"), http.StatusOK)
	require.Len(t, book.Asks, 1)
	require.Equal(t, ether(2), book.Price)
}

func TestSubmitOnPausedMarket(t *testing.T) {
	e := newEnv(t)
	e.pair.Market().Status = market.Paused

	info := decode[PairInfo](t, e.get(t, "/api/v1/pair"), http.StatusOK)
	require.Equal(t, "Paused", info.Status)

	paused := decode[ErrorResponse](t, e.post(t, e.order(t, e.maker, 2, ether(1), tenths(21))), http.StatusServiceUnavailable)
	require.Equal(t, "market paused", paused.Error)

	book := decode[OrderbookSnapshot](t, e.get(t, "/api/v1/orderbook"), http.StatusOK)
	require.Empty(t, book.Asks)
}

func TestQuoteIsDryRun(t *testing.T) {
	e := newEnv(t)

	q := decode[ExecutionInfo](t, e.get(t, "/api/v1/quote?side=buy&amount=1000000000000000000&price=3000000000000000000"), http.StatusOK)
	require.Equal(t, uint256.MustFromDecimal("453305446940074565"), q.PoolOut)
	require.Equal(t, "2.419339999999999999", q.EndPriceDecimal.String())
	require.True(t, q.Leftover.IsZero())
	require.Nil(t, q.Created)

	price := decode[PriceInfo](t, e.get(t, "/api/v1/price"), http.StatusOK)
	require.Equal(t, ether(2), price.Price)

	decode[ErrorResponse](t, e.get(t, "/api/v1/quote?side=up&amount=1&price=1"), http.StatusBadRequest)
	decode[ErrorResponse](t, e.get(t, "/api/v1/quote?side=buy&amount=x&price=1"), http.StatusBadRequest)
}

func TestRequestValidation(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		path   string
		status int
	}{
		{"/api/v1/orderbook?depth=-1", http.StatusBadRequest},
		{"/api/v1/orderbook?depth=two", http.StatusBadRequest},
		{"/api/v1/orders/42", http.StatusNotFound},
		{"/api/v1/accounts/alice/orders", http.StatusBadRequest},
		{"/api/v1/accounts/0x12/balances", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			decode[ErrorResponse](t, e.get(t, tt.path), tt.status)
		})
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	e := newEnv(t)

	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"orders"}}))
	require.Eventually(t, func() bool { return e.srv.Hub().Subscribers("orders") == 1 }, 2*time.Second, 10*time.Millisecond)

	decode[SubmitOrderResponse](t, e.post(t, e.order(t, e.maker, 2, ether(2), tenths(21))), http.StatusOK)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Channel string `json:"channel"`
		Type    string `json:"type"`
		Data    struct {
			Pair    string `json:"pair"`
			Payload struct {
				OrderID uint64 `json:"orderId"`
			} `json:"payload"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "orders", msg.Channel)
	require.Equal(t, "order_created", msg.Type)
	require.Equal(t, symbol, msg.Data.Pair)
	require.NotZero(t, msg.Data.Payload.OrderID)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	decode[SubmitOrderResponse](t, e.post(t, e.order(t, e.maker, 2, ether(1), tenths(21))), http.StatusOK)

	resp := e.get(t, "/metrics")
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "hybridx_requests_total")
}
