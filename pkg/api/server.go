package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/clobdex/pkg/crypto"
	"github.com/uhyunpark/clobdex/pkg/engine"
	"github.com/uhyunpark/clobdex/pkg/market"
	"github.com/uhyunpark/clobdex/pkg/orderbook"
	"github.com/uhyunpark/clobdex/pkg/util"
)

const (
	defaultTradeLimit = 100
	maxBodyBytes      = 64 << 10
)

var (
	errExpired     = errors.New("request deadline passed")
	errFarDeadline = errors.New("request deadline too far in the future")
)

type Config struct {
	CORSOrigins     []string
	SignatureMaxAge time.Duration
	DefaultDepth    int
	Clock           util.Clock
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine *engine.Engine
	signer *crypto.RequestSigner
	cfg    Config
	clock  util.Clock
	router *mux.Router
	hub    *Hub
	replay *replayGuard
	logger *zap.SugaredLogger
}

// NewServer creates a new API server. Signed requests are verified against signer's domain.
func NewServer(eng *engine.Engine, signer *crypto.RequestSigner, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.SignatureMaxAge <= 0 {
		cfg.SignatureMaxAge = 5 * time.Minute
	}
	if cfg.DefaultDepth <= 0 {
		cfg.DefaultDepth = 20
	}
	sugar := logger.Sugar().Named("api")

	s := &Server{
		engine: eng,
		signer: signer,
		cfg:    cfg,
		clock:  cfg.Clock,
		router: mux.NewRouter(),
		hub:    NewHub(sugar.Named("ws")),
		replay: newReplayGuard(cfg.SignatureMaxAge),
		logger: sugar,
	}
	s.hub.onSubscribe = s.initialMessage

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requestLogger)

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orders", s.handleGetOpenOrders).Methods("GET")

	// Order endpoints; fixed paths go before {id}
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/derive", s.handleDeriveOrderID).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS handling
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Hub exposes the WebSocket hub
func (s *Server) Hub() *Hub { return s.hub }

// Start serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.engine.Markets()

	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = marketInfo(m)
	}

	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Market(mux.Vars(r)["symbol"])
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, marketInfo(m))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if !s.requireMarket(w, r, symbol) {
		return
	}

	depth, err := queryInt(r, "depth", s.cfg.DefaultDepth)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid depth", err.Error())
		return
	}

	snap, err := s.engine.GetBookSnapshot(symbol, depth)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orderbookSnapshot(snap, s.clock.Now().UnixMilli()))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if !s.requireMarket(w, r, symbol) {
		return
	}

	limit, err := queryInt(r, "limit", defaultTradeLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}

	trades, err := s.engine.GetTradeHistory(symbol, limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tradeInfos(trades))
}

func (s *Server) handleGetOpenOrders(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if !s.requireMarket(w, r, symbol) {
		return
	}

	owner, err := parseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}

	orders, err := s.engine.OpenOrders(symbol, owner)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	o, err := s.engine.GetOrder(id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orderInfo(o))
}

func (s *Server) handleDeriveOrderID(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("market")
	if symbol == "" {
		respondError(w, http.StatusBadRequest, "missing market", "")
		return
	}
	owner, err := parseAddress(q.Get("owner"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}
	coid, err := strconv.ParseUint(q.Get("clientOrderId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid clientOrderId", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, DeriveOrderIDResponse{
		OrderID: crypto.DeriveOrderID(symbol, owner, coid).Hex(),
	})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	sideCode, _ := crypto.SideToUint8(side.String())
	owner, err := parseAddress(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}
	if req.Price < 0 || req.Quantity < 0 {
		// uint256 fields in the typed payload cannot carry negatives
		respondError(w, http.StatusBadRequest, engine.ErrInvalidOrderParameters.Error(), "price and quantity must be positive")
		return
	}
	if err := s.checkDeadline(req.Deadline); err != nil {
		respondError(w, http.StatusBadRequest, "invalid deadline", err.Error())
		return
	}

	payload := &crypto.PlaceOrderEIP712{
		Market:        req.Market,
		Side:          sideCode,
		Price:         req.Price,
		Quantity:      req.Quantity,
		ClientOrderID: req.ClientOrderID,
		Deadline:      req.Deadline,
		Owner:         owner,
	}
	if err := s.authenticate(req.Signature, owner, func(sig []byte) (common.Address, error) {
		return s.signer.RecoverPlaceOrderSigner(payload, sig)
	}); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.consumeSigned(s.signer.HashPlaceOrder(payload)); err != nil {
		s.respondErr(w, r, err)
		return
	}

	res, err := s.engine.PlaceLimitOrder(engine.PlaceOrderRequest{
		Market:        req.Market,
		Owner:         owner,
		Side:          side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.logger.Infow("order_submitted",
		"request_id", requestIDFrom(r.Context()),
		"order_id", res.OrderID.Hex(),
		"market", req.Market,
		"owner", owner.Hex(),
		"trades", len(res.Trades),
	)
	s.publish(req.Market, res.Trades)

	respondJSON(w, http.StatusOK, SubmitOrderResponse{
		OrderID:   res.OrderID.Hex(),
		Status:    res.Order.Status.String(),
		Filled:    res.Order.Filled(),
		Remaining: res.Remaining,
		Trades:    tradeInfos(res.Trades),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	id, err := parseOrderID(req.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid orderId", err.Error())
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}
	if err := s.checkDeadline(req.Deadline); err != nil {
		respondError(w, http.StatusBadRequest, "invalid deadline", err.Error())
		return
	}

	payload := &crypto.CancelOrderEIP712{
		OrderID:  id,
		Market:   req.Market,
		Deadline: req.Deadline,
		Owner:    owner,
	}
	if err := s.authenticate(req.Signature, owner, func(sig []byte) (common.Address, error) {
		return s.signer.RecoverCancelOrderSigner(payload, sig)
	}); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.consumeSigned(s.signer.HashCancelOrder(payload)); err != nil {
		s.respondErr(w, r, err)
		return
	}

	res, err := s.engine.CancelOrderIn(req.Market, id, owner)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.logger.Infow("order_cancel_submitted",
		"request_id", requestIDFrom(r.Context()),
		"order_id", id.Hex(),
		"market", res.Order.Market,
		"cancelled", res.Cancelled,
	)
	s.publish(res.Order.Market, nil)

	respondJSON(w, http.StatusOK, CancelOrderResponse{
		OrderID:   id.Hex(),
		Status:    res.Order.Status.String(),
		Cancelled: res.Cancelled,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	markets := s.engine.Markets()
	resp := HealthStatus{Status: "ok", Markets: len(markets)}
	for _, m := range markets {
		if fault := s.engine.Fault(m.Symbol); fault != nil {
			if resp.Halted == nil {
				resp.Halted = make(map[string]string)
			}
			resp.Halted[m.Symbol] = fault.Error()
			resp.Status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// ==============================
// Broadcast Methods
// ==============================

// publish pushes the market's fresh book and any new trades to subscribers
func (s *Server) publish(symbol string, trades []engine.Trade) {
	s.BroadcastOrderbook(symbol)
	for _, t := range trades {
		s.hub.BroadcastToChannel(tradesChannel(symbol), TradeUpdate{Type: "trade", TradeInfo: tradeInfo(t)})
	}
}

// BroadcastOrderbook broadcasts orderbook update to WebSocket clients
func (s *Server) BroadcastOrderbook(symbol string) {
	update, ok := s.orderbookUpdate(symbol)
	if !ok {
		return
	}
	s.hub.BroadcastToChannel(orderbookChannel(symbol), update)
}

func (s *Server) orderbookUpdate(symbol string) (OrderbookUpdate, bool) {
	snap, err := s.engine.GetBookSnapshot(symbol, s.cfg.DefaultDepth)
	if err != nil {
		return OrderbookUpdate{}, false
	}
	return OrderbookUpdate{
		Type:              "orderbook",
		OrderbookSnapshot: orderbookSnapshot(snap, s.clock.Now().UnixMilli()),
	}, true
}

// initialMessage sends the current book to a new orderbook subscriber
func (s *Server) initialMessage(channel string) (any, bool) {
	kind, symbol, ok := parseChannel(channel)
	if !ok || kind != channelOrderbook {
		return nil, false
	}
	return s.orderbookUpdate(symbol)
}

// ==============================
// Authentication
// ==============================

// checkDeadline accepts a deadline in [now, now+SignatureMaxAge]
func (s *Server) checkDeadline(deadline int64) error {
	now := s.clock.Now().Unix()
	if deadline < now {
		return errExpired
	}
	if deadline > now+int64(s.cfg.SignatureMaxAge/time.Second) {
		return errFarDeadline
	}
	return nil
}

// authenticate checks that sigHex was produced by owner
func (s *Server) authenticate(sigHex string, owner common.Address, recoverFn func([]byte) (common.Address, error)) error {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return fmt.Errorf("%w: malformed signature: %v", engine.ErrUnauthorized, err)
	}
	signer, err := recoverFn(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrUnauthorized, err)
	}
	if signer != owner {
		return fmt.Errorf("%w: signature is from %s, not %s", engine.ErrUnauthorized, signer.Hex(), owner.Hex())
	}
	return nil
}

// consumeSigned marks an authenticated request as used. A signed request is
// accepted once, whatever the outcome of the operation it carries.
func (s *Server) consumeSigned(digest []byte, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrUnauthorized, err)
	}
	return s.replay.consume(digest)
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) requireMarket(w http.ResponseWriter, r *http.Request, symbol string) bool {
	if _, err := s.engine.Market(symbol); err != nil {
		s.respondErr(w, r, err)
		return false
	}
	return true
}

// statusFor maps engine and registry errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrMarketNotFound), errors.Is(err, engine.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidOrderParameters):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrDuplicateOrderIdentity), errors.Is(err, errReplayed):
		return http.StatusConflict
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Errorw("request_failed",
			"request_id", requestIDFrom(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	respondJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   err.Error(),
		RequestID: requestIDFrom(r.Context()),
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return n, nil
}

func parseAddress(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("not a hex address: %q", v)
	}
	return common.HexToAddress(v), nil
}

func parseOrderID(v string) (common.Hash, error) {
	if !strings.HasPrefix(v, "0x") && !strings.HasPrefix(v, "0X") {
		v = "0x" + v
	}
	b, err := hexutil.Decode(v)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("order id must be %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}
