package inventory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
)

type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		logger: logger,
	}
}

// Register mounts the ledger routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stock", h.HandleList)
	mux.HandleFunc("POST /stock", h.HandleCreate)
	mux.HandleFunc("GET /stock/available", h.HandleListAvailable)
	mux.HandleFunc("GET /stock/low", h.HandleListLowStock)
	mux.HandleFunc("GET /stock/{productId}", h.HandleGet)
	mux.HandleFunc("PUT /stock/{productId}", h.HandleSetAvailable)
	mux.HandleFunc("DELETE /stock/{productId}", h.HandleDelete)
	mux.HandleFunc("GET /stock/{productId}/available", h.HandleIsAvailable)
	mux.HandleFunc("POST /stock/{productId}/reserve", h.HandleReserve)
	mux.HandleFunc("POST /stock/{productId}/release", h.HandleRelease)
	mux.HandleFunc("POST /stock/{productId}/commit", h.HandleCommit)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.ledger.List(r.Context())
	if err != nil {
		h.writeLedgerError(w, err, "failed to list stock")
		return
	}

	h.logger.Info("stock listed", "count", len(items))
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) HandleListAvailable(w http.ResponseWriter, r *http.Request) {
	items, err := h.ledger.ListAvailable(r.Context())
	if err != nil {
		h.writeLedgerError(w, err, "failed to list available stock")
		return
	}

	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) HandleListLowStock(w http.ResponseWriter, r *http.Request) {
	threshold := DefaultLowStockThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid threshold")
			return
		}
		threshold = v
	}

	items, err := h.ledger.ListLowStock(r.Context(), threshold)
	if err != nil {
		h.writeLedgerError(w, err, "failed to list low stock")
		return
	}

	h.logger.Info("low stock listed", "threshold", threshold, "count", len(items))
	h.writeJSON(w, http.StatusOK, items)
}

type createRequest struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.ledger.Create(r.Context(), req.ProductID, req.Available)
	if err != nil {
		h.writeLedgerError(w, err, "failed to create inventory record", "product_id", req.ProductID)
		return
	}

	h.writeJSON(w, http.StatusCreated, newRecordResponse(rec))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")

	rec, err := h.ledger.Get(r.Context(), productID)
	if err != nil {
		h.writeLedgerError(w, err, "failed to get stock", "product_id", productID)
		return
	}

	h.writeJSON(w, http.StatusOK, newRecordResponse(rec))
}

type setAvailableRequest struct {
	Available int `json:"available"`
}

func (h *Handler) HandleSetAvailable(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")

	var req setAvailableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.ledger.SetAvailable(r.Context(), productID, req.Available)
	if err != nil {
		h.writeLedgerError(w, err, "failed to set available stock", "product_id", productID)
		return
	}

	h.writeJSON(w, http.StatusOK, newRecordResponse(rec))
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")

	if err := h.ledger.Delete(r.Context(), productID); err != nil {
		h.writeLedgerError(w, err, "failed to delete inventory record", "product_id", productID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleIsAvailable(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")

	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "quantity must be a positive integer")
		return
	}

	available, err := h.ledger.IsAvailable(r.Context(), productID, quantity)
	if err != nil {
		h.writeLedgerError(w, err, "failed to check availability", "product_id", productID)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")

	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.ledger.Reserve(r.Context(), productID, req.Quantity)
	if err != nil {
		h.writeLedgerError(w, err, "failed to reserve stock", "product_id", productID, "quantity", req.Quantity)
		return
	}

	h.logger.Info("stock reserved", "product_id", productID, "quantity", req.Quantity)
	h.writeJSON(w, http.StatusOK, newRecordResponse(rec))
}

func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")

	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.ledger.Release(r.Context(), productID, req.Quantity)
	if err != nil {
		h.writeLedgerError(w, err, "failed to release stock", "product_id", productID, "quantity", req.Quantity)
		return
	}

	h.logger.Info("stock released", "product_id", productID, "quantity", req.Quantity)
	h.writeJSON(w, http.StatusOK, newRecordResponse(rec))
}

func (h *Handler) HandleCommit(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")

	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.ledger.Commit(r.Context(), productID, req.Quantity)
	if err != nil {
		h.writeLedgerError(w, err, "failed to commit stock", "product_id", productID, "quantity", req.Quantity)
		return
	}

	h.logger.Info("reservation committed", "product_id", productID, "quantity", req.Quantity)
	h.writeJSON(w, http.StatusOK, newRecordResponse(rec))
}

type recordResponse struct {
	domain.InventoryRecord
	TotalStock int `json:"total_stock"`
}

func newRecordResponse(rec *domain.InventoryRecord) recordResponse {
	return recordResponse{InventoryRecord: *rec, TotalStock: rec.TotalStock()}
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, err error, msg string, args ...any) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "inventory record not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		h.writeError(w, http.StatusConflict, "inventory record already exists")
	case errors.Is(err, domain.ErrInsufficientStock):
		h.writeError(w, http.StatusConflict, "insufficient stock")
	case errors.Is(err, domain.ErrInvalidArgument):
		h.writeError(w, http.StatusBadRequest, err.Error())
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
