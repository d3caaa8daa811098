package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

type IdempotencyStore interface {
	TryLock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) error
	Remember(ctx context.Context, key, orderID string) error
	Recall(ctx context.Context, key string) (string, bool, error)
}

type Handler struct {
	service *Service
	idem    IdempotencyStore
	logger  *slog.Logger
}

// NewHandler builds the HTTP surface. idem may be nil, in which case
// Idempotency-Key headers are ignored.
func NewHandler(service *Service, idem IdempotencyStore, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		idem:    idem,
		logger:  logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /orders", h.HandleList)
	mux.HandleFunc("POST /orders", h.HandleCreate)
	mux.HandleFunc("GET /orders/{id}", h.HandleGet)
	mux.HandleFunc("PATCH /orders/{id}/status", h.HandleUpdateStatus)
	mux.HandleFunc("DELETE /orders/{id}", h.HandleDelete)
}

type createOrderRequest struct {
	UserID string             `json:"user_id"`
	Items  []domain.OrderItem `json:"items"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := r.Header.Get(idempotencyHeader)
	if key != "" && h.idem != nil {
		if h.replay(w, r, key) {
			return
		}
		locked, err := h.idem.TryLock(r.Context(), key)
		if err != nil {
			h.logger.Warn("idempotency store unavailable, continuing without it", "error", err)
			key = ""
		} else if !locked {
			h.writeError(w, http.StatusConflict, "a request with this idempotency key is in progress")
			return
		} else if h.replay(w, r, key) {
			// The previous holder finished between the first Recall and TryLock.
			h.unlock(r.Context(), key)
			return
		}
	}

	order, err := h.service.CreateOrder(r.Context(), req.UserID, req.Items)

	if key != "" && h.idem != nil {
		if err == nil {
			if rerr := h.idem.Remember(r.Context(), key, order.ID); rerr != nil {
				h.logger.Warn("failed to remember idempotency key", "error", rerr, "order_id", order.ID)
			}
		}
		h.unlock(r.Context(), key)
	}

	if err != nil {
		h.writeServiceError(w, err, "failed to create order", "user_id", req.UserID)
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) unlock(ctx context.Context, key string) {
	if err := h.idem.Unlock(context.WithoutCancel(ctx), key); err != nil {
		h.logger.Warn("failed to release idempotency key", "error", err)
	}
}

// replay answers with the order a previous request under key produced.
func (h *Handler) replay(w http.ResponseWriter, r *http.Request, key string) bool {
	orderID, ok, err := h.idem.Recall(r.Context(), key)
	if err != nil {
		h.logger.Warn("failed to recall idempotency key", "error", err)
		return false
	}
	if !ok {
		return false
	}

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.logger.Warn("idempotency key points at a missing order", "error", err, "order_id", orderID)
		return false
	}

	h.logger.Info("order creation replayed", "order_id", orderID)
	w.Header().Set("Idempotent-Replayed", "true")
	h.writeJSON(w, http.StatusOK, order)
	return true
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get order", "order_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	f := Filter{UserID: r.URL.Query().Get("user_id")}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Status = status
	}

	orders, err := h.service.ListOrders(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err, "failed to list orders")
		return
	}

	h.logger.Info("orders listed", "count", len(orders), "user_id", f.UserID, "status", f.Status)
	h.writeJSON(w, http.StatusOK, orders)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), id, status)
	if err != nil {
		h.writeServiceError(w, err, "failed to update order status", "order_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.service.DeleteOrder(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "failed to delete order", "order_id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string, args ...any) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrValidationFailed):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		h.writeError(w, http.StatusConflict, "insufficient stock")
	case errors.Is(err, domain.ErrServiceUnavailable):
		h.logger.Warn(msg, append([]any{"error", err}, args...)...)
		w.Header().Set("Retry-After", "1")
		h.writeError(w, http.StatusServiceUnavailable, "a dependent service is unavailable, retry later")
	default:
		h.logger.Error(msg, append([]any{"error", err}, args...)...)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
