// Package api provides the HTTP surface of the execution engine: order
// submission and cancellation, order and position queries, price feeds,
// and the WebSocket event stream.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/algotrendy/execution-engine/internal/broker"
	"github.com/algotrendy/execution-engine/internal/engine"
	"github.com/algotrendy/execution-engine/internal/metrics"
	"github.com/algotrendy/execution-engine/internal/model"
)

// Server exposes the engine over HTTP.
type Server struct {
	engine *engine.Engine
	hub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewServer creates an HTTP server around the engine. Pass nil for hub
// if WebSocket broadcasting is not needed.
func NewServer(eng *engine.Engine, hub *WSHub) *Server {
	return &Server{engine: eng, hub: hub}
}

// Router assembles the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for dashboard cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"execution-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			// WebSocket endpoint for real-time order and position events.
			r.Get("/ws", s.hub.HandleWS)
		}

		// Order lifecycle.
		r.Post("/orders", s.SubmitOrder)
		r.Get("/orders", s.ListOrders)
		r.Get("/orders/{orderID}", s.GetOrder)
		r.Delete("/orders/{orderID}", s.CancelOrder)

		// Exposure queries.
		r.Get("/positions", s.ListPositions)
		r.Get("/account/balance", s.GetBalance)

		// Price feed ingestion.
		r.Post("/prices/{symbol}", s.PublishPrice)
	})

	return r
}

// --- Request/Response types ---

// PriceUpdate is the JSON body for POST /api/v1/prices/{symbol}.
type PriceUpdate struct {
	Exchange string          `json:"exchange"`
	Price    decimal.Decimal `json:"price"`
}

// BalanceResponse is the JSON body returned from GET /api/v1/account/balance.
type BalanceResponse struct {
	Exchange string          `json:"exchange"`
	Balance  decimal.Decimal `json:"balance"`
}

// --- HTTP Handlers ---

// SubmitOrder handles POST /api/v1/orders
func (s *Server) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req model.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	order, err := s.engine.SubmitOrder(r.Context(), req)
	switch {
	case errors.Is(err, model.ErrRiskRejected):
		// The rejected order record is returned so callers can inspect
		// the reason and resubmit with the same client order id.
		writeJSON(w, http.StatusUnprocessableEntity, order)
		return
	case err != nil:
		var be *broker.Error
		if errors.As(err, &be) {
			writeError(w, be.Error(), http.StatusBadGateway)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /api/v1/orders/{orderID}
// Looks up by internal id first, then by client order id.
func (s *Server) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")

	order, err := s.engine.GetOrder(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		order, err = s.engine.GetOrderByClientID(r.Context(), id)
	}
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListOrders handles GET /api/v1/orders
// Returns all non-terminal orders.
func (s *Server) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.engine.ListActiveOrders(r.Context())
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
// Cancelling an already-terminal order returns the record unchanged.
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")

	order, err := s.engine.CancelOrder(r.Context(), id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, "order not found", http.StatusNotFound)
		return
	case err != nil:
		var be *broker.Error
		if errors.As(err, &be) {
			writeError(w, be.Error(), http.StatusBadGateway)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListPositions handles GET /api/v1/positions
func (s *Server) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.engine.Positions()
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetBalance handles GET /api/v1/account/balance?exchange=<venue>
func (s *Server) GetBalance(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")
	if exchange == "" {
		writeError(w, "exchange query parameter is required", http.StatusBadRequest)
		return
	}

	balance, err := s.engine.Balance(r.Context(), exchange)
	if err != nil {
		var be *broker.Error
		if errors.As(err, &be) {
			writeError(w, be.Error(), http.StatusBadGateway)
			return
		}
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Exchange: exchange, Balance: balance})
}

// PublishPrice handles POST /api/v1/prices/{symbol}
// Feeds a mark price into position tracking and the price cache.
func (s *Server) PublishPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var req PriceUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Exchange == "" {
		writeError(w, "exchange is required", http.StatusBadRequest)
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}

	if err := s.engine.PublishPrice(r.Context(), req.Exchange, symbol, req.Price); err != nil {
		writeError(w, "failed to publish price", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
