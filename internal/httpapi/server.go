package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"mailtrader/internal/domain"
	"mailtrader/internal/engine"
	"mailtrader/internal/store"
)

// Server serves the operator HTTP API. All endpoints are read-only; order
// placement and administration go through the Telegram bot.
type Server struct {
	engine *engine.Engine
	store  store.Store
	log    *slog.Logger
}

// NewServer creates an operator API server.
func NewServer(eng *engine.Engine, st store.Store, log *slog.Logger) *Server {
	return &Server{engine: eng, store: st, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/prices", s.handlePrices)
	mux.HandleFunc("GET /api/v1/prices/history", s.handlePriceHistory)
	mux.HandleFunc("GET /api/v1/balance", s.handleBalance)
	mux.HandleFunc("GET /api/v1/users/{id}/orders", s.handleUserOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", s.handleOrder)
	mux.HandleFunc("GET /api/v1/orders/{id}/purchases", s.handleOrderPurchases)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.engine.CurrentPrices(r.Context())
	if err != nil {
		s.log.Warn("price lookup failed", "error", err)
		writeError(w, http.StatusBadGateway, "price lookup failed")
		return
	}
	writeJSON(w, PricesJSON{Plain: prices.Plain, TwoFA: prices.TwoFA})
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	since := time.Now().AddDate(0, 0, -7)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	samples, err := s.store.ListPriceSamples(r.Context(), since, limit)
	if err != nil {
		s.log.Error("price history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "price history query failed")
		return
	}
	out := make([]PriceSampleJSON, 0, len(samples))
	for _, p := range samples {
		out = append(out, PriceSampleJSON{Timestamp: p.Timestamp, Plain: p.PricePlain, TwoFA: p.PriceTwoFA})
	}
	writeJSON(w, out)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.engine.CurrentBalance(r.Context())
	if err != nil {
		s.log.Warn("balance lookup failed", "error", err)
		writeError(w, http.StatusBadGateway, "balance lookup failed")
		return
	}
	writeJSON(w, BalanceJSON{Balance: balance})
}

func (s *Server) handleUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	status := r.URL.Query().Get("status")

	orders, err := s.store.ListOrdersByOwner(r.Context(), userID, orderStatus(status))
	if err != nil {
		s.log.Error("order listing failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "order listing failed")
		return
	}
	out := make([]OrderJSON, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderJSON(o))
	}
	writeJSON(w, out)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	order, err := s.store.GetOrder(r.Context(), orderID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		s.log.Error("order lookup failed", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "order lookup failed")
		return
	}
	writeJSON(w, toOrderJSON(*order))
}

func (s *Server) handleOrderPurchases(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	purchases, err := s.store.ListPurchases(r.Context(), orderID)
	if err != nil {
		s.log.Error("purchase listing failed", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "purchase listing failed")
		return
	}
	out := make([]PurchaseJSON, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, toPurchaseJSON(p))
	}
	writeJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// orderStatus maps a query value to a status filter; unknown values match
// all, same as an empty filter.
func orderStatus(v string) domain.OrderStatus {
	switch s := domain.OrderStatus(v); s {
	case domain.OrderStatusActive, domain.OrderStatusCompleted, domain.OrderStatusCancelled:
		return s
	}
	return ""
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
