package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hybridx/pkg/app/core"
	"github.com/uhyunpark/hybridx/pkg/app/core/amm"
	"github.com/uhyunpark/hybridx/pkg/app/core/matching"
	"github.com/uhyunpark/hybridx/pkg/app/core/orderbook"
	"github.com/uhyunpark/hybridx/pkg/app/core/transaction"
	"github.com/uhyunpark/hybridx/pkg/app/hybrid"
	"github.com/uhyunpark/hybridx/pkg/settlement"
)

const maxBodyBytes = 64 << 10

// Balances reads settled token balances.
type Balances interface {
	BalanceOf(token, account common.Address) *uint256.Int
}

type Options struct {
	Pair           *hybrid.Pair
	Balances       Balances
	Verifier       *transaction.Verifier
	Hub            *Hub                // defaults to a fresh hub
	Gatherer       prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	pair     *hybrid.Pair
	balances Balances
	verifier *transaction.Verifier
	router   *mux.Router
	hub      *Hub
	handler  http.Handler
	httpSrv  *http.Server
	log      *zap.SugaredLogger
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		pair:     opts.Pair,
		balances: opts.Balances,
		verifier: opts.Verifier,
		router:   mux.NewRouter(),
		hub:      opts.Hub,
		log:      log,
	}
	if s.hub == nil {
		s.hub = NewHub(log)
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}

	s.setupRoutes(gatherer)
	s.handler = cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(s.router)
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Pair endpoints
	api.HandleFunc("/pair", s.handleGetPair).Methods("GET")
	api.HandleFunc("/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/price", s.handleGetPrice).Methods("GET")
	api.HandleFunc("/quote", s.handleQuote).Methods("GET")

	// Orders
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/orders", s.handleGetAccountOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func (s *Server) Hub() *Hub { return s.hub }

// Handler is the CORS-wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// Start runs the hub and serves addr until Shutdown.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Infow("api_listening", "addr", addr, "pair", s.pair.Market().Symbol)
	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	m := s.pair.Market()
	price, err := s.pair.CurrentPrice()
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, PairInfo{
		Symbol:         m.Symbol,
		BaseToken:      m.BaseToken.Hex(),
		QuoteToken:     m.QuoteToken.Hex(),
		Status:         m.Status.String(),
		Decimals:       m.Decimals,
		PriceStep:      m.PriceStep,
		MinAmount:      m.MinAmount,
		FeeNumerator:   amm.FeeNumerator,
		FeeDenominator: amm.FeeDenominator,
		Reserves:       s.pair.Reserves(),
		Price:          price,
		PriceDecimal:   m.ToDecimal(price),
	})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.pair.CurrentPrice()
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	m := s.pair.Market()
	respondJSON(w, PriceInfo{
		Symbol:       m.Symbol,
		Price:        price,
		PriceDecimal: m.ToDecimal(price),
		Reserves:     s.pair.Reserves(),
	})
}

// handleGetOrderbook serves ?depth=N levels per side; no depth means all.
func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid depth", "depth must be a non-negative integer")
			return
		}
		depth = n
	}

	snap, err := s.pair.Snapshot(depth)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	m := s.pair.Market()
	levels := func(in []orderbook.PriceLevel) []PriceLevel {
		out := make([]PriceLevel, len(in))
		for i, l := range in {
			out[i] = PriceLevel{Price: l.Price, PriceDecimal: m.ToDecimal(l.Price), Amount: l.Amount}
		}
		return out
	}
	respondJSON(w, OrderbookSnapshot{
		Symbol:       m.Symbol,
		Price:        snap.Price,
		PriceDecimal: m.ToDecimal(snap.Price),
		Bids:         levels(snap.Bids),
		Asks:         levels(snap.Asks),
		Timestamp:    time.Now().UnixMilli(),
	})
}

// handleQuote dry-runs ?side=&amount=&price=[&owner=] without touching state.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	side, err := core.ParseSide(q.Get("side"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	amount, err := uint256.FromDecimal(q.Get("amount"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}
	price, err := uint256.FromDecimal(q.Get("price"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}
	req := matching.Request{Side: side, Amount: amount, Price: price}
	if v := q.Get("owner"); v != "" {
		if !common.IsHexAddress(v) {
			respondError(w, http.StatusBadRequest, "invalid owner", v)
			return
		}
		req.Owner = common.HexToAddress(v)
	}

	res, err := s.pair.Quote(req)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, s.execution(res))
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var so transaction.SignedOrder
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&so); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	req, err := s.verifier.Verify(&so)
	if err != nil {
		s.respondFailure(w, err)
		return
	}

	exec, err := s.pair.Submit(r.Context(), req)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, SubmitOrderResponse{
		Status:    "accepted",
		BatchID:   exec.Batch.ID,
		Execution: s.execution(exec.Result),
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, ok := s.pair.Order(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", strconv.FormatUint(id, 10))
		return
	}
	respondJSON(w, s.orderInfo(o))
}

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	ids := s.pair.OrdersOf(owner)
	out := make([]OrderInfo, 0, len(ids))
	for _, id := range ids {
		if o, ok := s.pair.Order(id); ok {
			out = append(out, s.orderInfo(o))
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	if s.balances == nil {
		respondError(w, http.StatusNotImplemented, "balances unavailable", "no ledger attached")
		return
	}
	m := s.pair.Market()
	respondJSON(w, BalanceInfo{
		Address: account.Hex(),
		Base:    s.balances.BalanceOf(m.BaseToken, account),
		Quote:   s.balances.BalanceOf(m.QuoteToken, account),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, HealthStatus{Status: "ok", Pair: s.pair.Market().Symbol, Time: time.Now().Unix()})
}

// ==============================
// Helpers
// ==============================

func (s *Server) orderInfo(o *orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:              o.ID,
		Owner:           o.Owner.Hex(),
		Beneficiary:     o.Beneficiary.Hex(),
		Side:            o.Side.String(),
		Price:           o.Price,
		PriceDecimal:    s.pair.Market().ToDecimal(o.Price),
		AmountOffered:   o.AmountOffered,
		AmountRemaining: o.AmountRemaining,
		Live:            o.Live(),
	}
}

func (s *Server) execution(res matching.Result) ExecutionInfo {
	info := ExecutionInfo{
		Side:            res.Side.String(),
		Offered:         res.Offered,
		Received:        res.Received(),
		PoolIn:          res.PoolIn,
		PoolOut:         res.PoolOut,
		OrderIn:         res.OrderIn,
		OrderOut:        res.OrderOut,
		Fee:             res.OrderFee,
		Leftover:        res.Leftover,
		StartPrice:      res.StartPrice,
		EndPrice:        res.EndPrice,
		EndPriceDecimal: s.pair.Market().ToDecimal(res.EndPrice),
		Fills:           make([]FillInfo, 0, len(res.Fills)),
	}
	for _, f := range res.Fills {
		info.Fills = append(info.Fills, FillInfo{
			OrderID:  f.OrderID,
			Price:    f.Price,
			Paid:     f.Consumed,
			Received: f.Net(),
			Fee:      f.Fee,
			Filled:   f.Filled,
		})
	}
	if res.Created != nil {
		o := s.orderInfo(res.Created)
		info.Created = &o
	}
	return info
}

func parseAddress(w http.ResponseWriter, v string) (common.Address, bool) {
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid address", v)
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// statusFor maps rejection kinds to HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, transaction.ErrBadSignature):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, transaction.ErrNonceUsed):
		return http.StatusConflict, "nonce already used"
	case errors.Is(err, settlement.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient balance"
	case errors.Is(err, core.ErrInsufficientReserves):
		return http.StatusConflict, "insufficient reserves"
	case errors.Is(err, transaction.ErrMalformed),
		errors.Is(err, transaction.ErrWrongPair),
		errors.Is(err, transaction.ErrExpired),
		errors.Is(err, core.ErrInvalidSide),
		errors.Is(err, core.ErrInvalidPrice),
		errors.Is(err, core.ErrBelowMinimumAmount),
		errors.Is(err, core.ErrInsufficientAmount),
		errors.Is(err, core.ErrOverflow):
		return http.StatusBadRequest, "order rejected"
	case errors.Is(err, core.ErrMarketPaused):
		return http.StatusServiceUnavailable, "market paused"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	status, title := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("request_failed", "status", status, "err", err)
	}
	respondError(w, status, title, err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
