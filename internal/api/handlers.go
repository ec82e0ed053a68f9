package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"trailing_go/internal/domain"
	"trailing_go/internal/engine"
	"trailing_go/internal/infra"
	"trailing_go/pkg/safe"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	headerAccount   = "X-Account"
	headerRequestID = "X-Request-ID"
)

var errNoAccount = errors.New("X-Account header is required")

// Venue is the part of the paper venue the API drives directly.
type Venue interface {
	ListMarket(m domain.Market, tick int32, price decimal.Decimal) error
	SetTick(id domain.MarketID, tick int32) error
	SetPrice(id domain.MarketID, price decimal.Decimal) error
	Quote(id domain.MarketID, dir domain.Direction, exactInput decimal.Decimal) (decimal.Decimal, error)
}

// RecordQuery reads the committed record journal.
type RecordQuery interface {
	ByOrder(ctx context.Context, market domain.MarketID, orderID uint64) ([]domain.Record, error)
	ByAccount(ctx context.Context, account domain.Account) ([]domain.Record, error)
}

// Config wires a Server. Venue and Records are optional.
type Config struct {
	Engine    *engine.Engine
	Sequencer *engine.Sequencer
	Venue     Venue
	Records   RecordQuery
	Metrics   *infra.Metrics
}

// Server exposes the engine over HTTP. Every mutation runs on the
// sequencer goroutine through Sequencer.Submit.
type Server struct {
	engine    *engine.Engine
	seq       *engine.Sequencer
	venue     Venue
	records   RecordQuery
	metrics   *infra.Metrics
	router    *mux.Router
	startTime time.Time
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = infra.GlobalMetrics
	}
	s := &Server{
		engine:    cfg.Engine,
		seq:       cfg.Sequencer,
		venue:     cfg.Venue,
		records:   cfg.Records,
		metrics:   cfg.Metrics,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}

	// Register routes
	s.registerRoutes()

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	s.router.Use(requestID, accessLog)

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleInitializeMarket).Methods("POST")
	api.HandleFunc("/markets/{market}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{market}/ticks", s.handlePriceUpdate).Methods("POST")
	api.HandleFunc("/markets/{market}/quote", s.handleQuote).Methods("GET")

	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/{order_id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{order_id}", s.handleCancelOrder).Methods("DELETE")
	api.HandleFunc("/orders/{order_id}/records", s.handleGetRecords).Methods("GET")
	api.HandleFunc("/orders/{order_id}/redeem", s.handleRedeem).Methods("POST")

	api.HandleFunc("/positions/{market}/{order_id}", s.handleGetPosition).Methods("GET")
	api.HandleFunc("/accounts/{account}/records", s.handleGetAccountRecords).Methods("GET")

	// Health and metrics
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

// InitializeMarketRequest lists and initializes a market.
type InitializeMarketRequest struct {
	domain.Market
	Tick  int32            `json:"tick"`
	Price *decimal.Decimal `json:"price,omitempty"` // paper venue only, defaults to 1
}

// handleInitializeMarket handles POST /api/v1/markets
func (s *Server) handleInitializeMarket(w http.ResponseWriter, r *http.Request) {
	var req InitializeMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	price := decimal.NewFromInt(1)
	if req.Price != nil {
		price = *req.Price
	}
	if !price.IsPositive() {
		respondError(w, r, http.StatusBadRequest, "price must be positive")
		return
	}
	if err := req.Market.Validate(); err != nil {
		respondError(w, r, http.StatusBadRequest, domain.ErrInvalidMarket.Error()+": "+err.Error())
		return
	}
	if err := domain.ValidateTick(req.Tick); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// a venue listing left by an earlier failed attempt is moved to req.Tick
	// when the engine initializes the market
	_, err := s.seq.Submit(r.Context(), "initialize_market", func(ctx context.Context) (any, error) {
		if s.venue != nil {
			if err := s.venue.ListMarket(req.Market, req.Tick, price); err != nil && !errors.Is(err, domain.ErrMarketExists) {
				return nil, err
			}
		}
		return nil, s.engine.InitializeMarket(ctx, req.Market, req.Tick)
	})
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	state, _ := s.engine.Market(req.Market.ID())
	respondJSON(w, http.StatusCreated, state)
}

// MarketResponse is a market with its live orders.
type MarketResponse struct {
	domain.MarketState
	ActiveOrders []domain.Order `json:"active_orders"`
}

// handleGetMarket handles GET /api/v1/markets/{market}
func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	id := domain.MarketID(mux.Vars(r)["market"])

	state, ok := s.engine.Market(id)
	if !ok {
		respondError(w, r, http.StatusNotFound, domain.ErrUnknownMarket.Error())
		return
	}

	respondJSON(w, http.StatusOK, MarketResponse{
		MarketState:  state,
		ActiveOrders: s.engine.ActiveOrders(id),
	})
}

// PriceUpdateRequest moves the venue to a tick and scans the market.
type PriceUpdateRequest struct {
	Tick  int32            `json:"tick"`
	Price *decimal.Decimal `json:"price,omitempty"`
}

// handlePriceUpdate handles POST /api/v1/markets/{market}/ticks
func (s *Server) handlePriceUpdate(w http.ResponseWriter, r *http.Request) {
	id := domain.MarketID(mux.Vars(r)["market"])

	var req PriceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if req.Price != nil && !req.Price.IsPositive() {
		respondError(w, r, http.StatusBadRequest, "price must be positive")
		return
	}

	// runs as a command, bypassing feed sequencing
	v, err := s.seq.Submit(r.Context(), "price_update", func(ctx context.Context) (any, error) {
		if s.venue != nil {
			if err := s.venue.SetTick(id, req.Tick); err != nil {
				return nil, err
			}
			if req.Price != nil {
				if err := s.venue.SetPrice(id, *req.Price); err != nil {
					return nil, err
				}
			}
		}
		return s.engine.OnPriceUpdate(ctx, id, req.Tick)
	})
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, v)
}

// QuoteResponse is the venue output of an exact-input swap at the current price.
type QuoteResponse struct {
	Market    domain.MarketID  `json:"market"`
	Direction domain.Direction `json:"direction"`
	Input     decimal.Decimal  `json:"input"`
	Output    decimal.Decimal  `json:"output"`
}

// handleQuote handles GET /api/v1/markets/{market}/quote?direction=&amount=
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if s.venue == nil {
		respondError(w, r, http.StatusNotImplemented, "paper venue is disabled")
		return
	}
	id := domain.MarketID(mux.Vars(r)["market"])

	q := r.URL.Query()
	dir, err := domain.ParseDirection(q.Get("direction"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil || !amount.IsPositive() || !safe.IsWhole(amount) {
		respondError(w, r, http.StatusBadRequest, domain.ErrInvalidAmount.Error())
		return
	}

	out, err := s.venue.Quote(id, dir, amount)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, QuoteResponse{Market: id, Direction: dir, Input: amount, Output: out})
}

// PlaceOrderResponse identifies a new order and its claim bucket.
type PlaceOrderResponse struct {
	OrderID  uint64            `json:"order_id"`
	Position domain.PositionID `json:"position"`
	Order    domain.Order      `json:"order"`
}

// handlePlaceOrder handles POST /api/v1/orders
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}

	var req domain.PlaceParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	v, err := s.seq.Submit(r.Context(), "place", func(ctx context.Context) (any, error) {
		return s.engine.Place(ctx, caller, req)
	})
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	id := v.(uint64)
	o, _ := s.engine.Order(id)
	respondJSON(w, http.StatusCreated, PlaceOrderResponse{
		OrderID:  id,
		Position: s.engine.PositionID(o.Market, id),
		Order:    o,
	})
}

// OrderView is an order and, while it is active, the tick that fires it.
type OrderView struct {
	domain.Order
	TriggerTick *int64 `json:"trigger_tick,omitempty"`
}

func newOrderView(o domain.Order) OrderView {
	v := OrderView{Order: o}
	if o.Status == domain.OrderStatusActive {
		v.TriggerTick = lo.ToPtr(o.TriggerTick())
	}
	return v
}

// handleGetOrder handles GET /api/v1/orders/{order_id}
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.lookupOrder(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newOrderView(o))
}

// handleCancelOrder handles DELETE /api/v1/orders/{order_id}
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	o, ok := s.lookupOrder(w, r)
	if !ok {
		return
	}

	_, err := s.seq.Submit(r.Context(), "cancel", func(ctx context.Context) (any, error) {
		return nil, s.engine.Cancel(ctx, caller, o.Market, o.ID)
	})
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	o, _ = s.engine.Order(o.ID)
	respondJSON(w, http.StatusOK, o)
}

// handleGetRecords handles GET /api/v1/orders/{order_id}/records
func (s *Server) handleGetRecords(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		respondError(w, r, http.StatusNotImplemented, "record journal is disabled")
		return
	}
	o, ok := s.lookupOrder(w, r)
	if !ok {
		return
	}

	records, err := s.records.ByOrder(r.Context(), o.Market, o.ID)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// handleGetAccountRecords handles GET /api/v1/accounts/{account}/records
func (s *Server) handleGetAccountRecords(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		respondError(w, r, http.StatusNotImplemented, "record journal is disabled")
		return
	}
	acct := domain.Account(mux.Vars(r)["account"])

	records, err := s.records.ByAccount(r.Context(), acct)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// RedeemRequest burns claim tokens for the output asset.
type RedeemRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// RedeemResponse reports the paid out output amount.
type RedeemResponse struct {
	OrderID uint64          `json:"order_id"`
	Burned  decimal.Decimal `json:"burned"`
	Payout  decimal.Decimal `json:"payout"`
}

// handleRedeem handles POST /api/v1/orders/{order_id}/redeem
func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	o, ok := s.lookupOrder(w, r)
	if !ok {
		return
	}

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	v, err := s.seq.Submit(r.Context(), "redeem", func(ctx context.Context) (any, error) {
		return s.engine.Redeem(ctx, caller, o.Market, o.ID, req.Amount)
	})
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, RedeemResponse{
		OrderID: o.ID,
		Burned:  req.Amount,
		Payout:  v.(decimal.Decimal),
	})
}

// PositionResponse is a claim bucket and, when X-Account is set, the
// caller's share of it.
type PositionResponse struct {
	domain.Position
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

// handleGetPosition handles GET /api/v1/positions/{market}/{order_id}
func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	market := domain.MarketID(vars["market"])
	id, err := strconv.ParseUint(vars["order_id"], 10, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "order_id must be a positive integer")
		return
	}

	p, ok := s.engine.Position(market, id)
	if !ok {
		respondError(w, r, http.StatusNotFound, "position not found")
		return
	}

	resp := PositionResponse{Position: p}
	if caller := domain.Account(r.Header.Get(headerAccount)); caller != "" {
		bal, err := s.engine.ClaimBalance(r.Context(), caller, market, id)
		if err != nil {
			respondEngineError(w, r, err)
			return
		}
		resp.Balance = &bal
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime).Seconds()

	response := map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int64(uptime),
		"next_seq":       s.seq.NextSeq(),
	}

	respondJSON(w, http.StatusOK, response)
}

// handleMetrics handles GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) lookupOrder(w http.ResponseWriter, r *http.Request) (domain.Order, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["order_id"], 10, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "order_id must be a positive integer")
		return domain.Order{}, false
	}
	o, ok := s.engine.Order(id)
	if !ok {
		respondError(w, r, http.StatusNotFound, domain.ErrInvalidOrder.Error())
		return domain.Order{}, false
	}
	return o, true
}

func account(w http.ResponseWriter, r *http.Request) (domain.Account, bool) {
	a := domain.Account(r.Header.Get(headerAccount))
	if a == "" {
		respondError(w, r, http.StatusUnauthorized, errNoAccount.Error())
		return "", false
	}
	return a, true
}

// Helper functions

// statusFor maps an engine failure to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrSequencerStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// the command was never queued
		return http.StatusGatewayTimeout
	}

	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindState:
		if errors.Is(err, domain.ErrMarketExists) {
			return http.StatusConflict
		}
		return http.StatusNotFound
	case domain.KindInsufficientClaim:
		return http.StatusUnprocessableEntity
	case domain.KindSlippage:
		return http.StatusConflict
	case domain.KindCollaborator:
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed",
			slog.String("request_id", r.Header.Get(headerRequestID)),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	respondJSON(w, status, errorResponse{
		Error:     err.Error(),
		Kind:      domain.KindOf(err).String(),
		RequestID: r.Header.Get(headerRequestID),
	})
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	respondJSON(w, statusCode, errorResponse{
		Error:     message,
		RequestID: r.Header.Get(headerRequestID),
	})
}
