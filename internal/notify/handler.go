package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Handler struct {
	outbox *Outbox
	logger *slog.Logger
}

func NewHandler(outbox *Outbox, logger *slog.Logger) *Handler {
	return &Handler{
		outbox: outbox,
		logger: logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /notifications", h.HandleSend)
	mux.HandleFunc("GET /notifications", h.HandleList)
}

type sendRequest struct {
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.Subject == "" {
		h.writeError(w, http.StatusBadRequest, "user_id and subject are required")
		return
	}

	n := h.outbox.Add(Notification{
		UserID:  req.UserID,
		OrderID: req.OrderID,
		Subject: req.Subject,
		Body:    req.Body,
	})

	h.logger.Info("notification sent", "notification_id", n.ID, "user_id", n.UserID, "order_id", n.OrderID, "subject", n.Subject)

	h.writeJSON(w, http.StatusAccepted, n)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.outbox.List(r.URL.Query().Get("user_id")))
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
