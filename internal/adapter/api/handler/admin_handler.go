package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/V4T54L/accesslog/internal/usecase"
)

// AdminHandler serves the buffer status and dead-letter maintenance routes.
type AdminHandler struct {
	uc     *usecase.AdminBufferUseCase
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(uc *usecase.AdminBufferUseCase, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{uc: uc, logger: logger}
}

// HealthCheck is a simple health check endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// BufferStatus reports stream, group, DLQ and WAL state.
// GET /admin/buffer
func (h *AdminHandler) BufferStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.uc.Status(r.Context())
	if err != nil {
		h.fail(w, "failed to inspect buffer", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, status)
}

// ListDeadLetters returns the oldest DLQ entries.
// GET /admin/buffer/dlq?count=N
func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	count, ok := countParam(w, r)
	if !ok {
		return
	}
	letters, err := h.uc.DeadLetters(r.Context(), count)
	if err != nil {
		h.fail(w, "failed to list dead letters", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, letters)
}

// RequeueDeadLetters moves the oldest DLQ entries back into the buffer.
// POST /admin/buffer/dlq/requeue?count=N
func (h *AdminHandler) RequeueDeadLetters(w http.ResponseWriter, r *http.Request) {
	count, ok := countParam(w, r)
	if !ok {
		return
	}
	res, err := h.uc.Requeue(r.Context(), count)
	if err != nil {
		h.fail(w, "failed to requeue dead letters", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, res)
}

// TrimDeadLetters caps the DLQ length.
// POST /admin/buffer/dlq/trim {"maxlen": N}
func (h *AdminHandler) TrimDeadLetters(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MaxLen *int64 `json:"maxlen"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<10)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.MaxLen == nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	removed, err := h.uc.TrimDeadLetters(r.Context(), *payload.MaxLen)
	if err != nil {
		h.fail(w, "failed to trim dead letters", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]int64{"trimmed": removed})
}

func (h *AdminHandler) fail(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, usecase.ErrInvalidCount) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Error(msg, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

// countParam reads the optional count query parameter; absent is zero.
func countParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("count")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, "count must be an integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}
