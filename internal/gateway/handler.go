package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthTimeout = 2 * time.Second

// returnedHeaders travel from the downstream response back to the client.
var returnedHeaders = []string{"Content-Type", "Retry-After", "Idempotent-Replayed"}

type Handler struct {
	ordersProxy    *ServiceProxy
	inventoryProxy *ServiceProxy
	downstream     []*ServiceProxy
	logger         *slog.Logger
}

// NewHandler routes orders and inventory traffic. extra lists further
// services that only take part in the aggregated health check.
func NewHandler(ordersProxy, inventoryProxy *ServiceProxy, logger *slog.Logger, extra ...*ServiceProxy) *Handler {
	return &Handler{
		ordersProxy:    ordersProxy,
		inventoryProxy: inventoryProxy,
		downstream:     append([]*ServiceProxy{ordersProxy, inventoryProxy}, extra...),
		logger:         logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /orders", h.HandleOrders)
	mux.HandleFunc("POST /orders", h.HandleOrders)
	mux.HandleFunc("GET /orders/{id}", h.HandleOrders)
	mux.HandleFunc("PATCH /orders/{id}/status", h.HandleOrders)
	mux.HandleFunc("DELETE /orders/{id}", h.HandleOrders)

	mux.HandleFunc("GET /inventory/stock", h.HandleInventory)
	mux.HandleFunc("POST /inventory/stock", h.HandleInventory)
	mux.HandleFunc("GET /inventory/stock/available", h.HandleInventory)
	mux.HandleFunc("GET /inventory/stock/low", h.HandleInventory)
	mux.HandleFunc("GET /inventory/stock/{productId}", h.HandleInventory)
	mux.HandleFunc("PUT /inventory/stock/{productId}", h.HandleInventory)
	mux.HandleFunc("DELETE /inventory/stock/{productId}", h.HandleInventory)
	mux.HandleFunc("GET /inventory/stock/{productId}/available", h.HandleInventory)
	mux.HandleFunc("POST /inventory/stock/{productId}/reserve", h.HandleInventory)
	mux.HandleFunc("POST /inventory/stock/{productId}/release", h.HandleInventory)
	mux.HandleFunc("POST /inventory/stock/{productId}/commit", h.HandleInventory)

	mux.HandleFunc("GET /health", h.HandleHealth)
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy, r.URL.Path)
}

// HandleInventory strips the /inventory prefix; the inventory service serves
// /stock at its root.
func (h *Handler) HandleInventory(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.inventoryProxy, strings.TrimPrefix(r.URL.Path, "/inventory"))
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "service", proxy.Name(), "path", path)
		h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": proxy.Name() + " service unavailable"})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for _, name := range returnedHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "service", proxy.Name(), "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

type healthResponse struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Services map[string]string `json:"services"`
}

// HandleHealth checks every downstream service in parallel. It answers 200
// only when all of them are healthy.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	var mu sync.Mutex
	resp := healthResponse{Status: "ok", Service: "gateway", Services: make(map[string]string, len(h.downstream))}

	var g errgroup.Group
	for _, p := range h.downstream {
		g.Go(func() error {
			state := "ok"
			if err := p.Health(ctx); err != nil {
				h.logger.Warn("downstream unhealthy", "service", p.Name(), "error", err)
				state = "unavailable"
			}
			mu.Lock()
			resp.Services[p.Name()] = state
			if state != "ok" {
				resp.Status = "degraded"
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
