package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/V4T54L/accesslog/internal/adapter/codec"
	"github.com/V4T54L/accesslog/internal/domain"
	"github.com/V4T54L/accesslog/internal/usecase"
)

// LogIngester accepts a single record.
type LogIngester interface {
	Ingest(ctx context.Context, rec *domain.LogRecord) error
}

// LogsHandler serves POST /logs and GET /logs.
type LogsHandler struct {
	ingester     LogIngester
	querier      LogQuerier
	logger       *slog.Logger
	maxEventSize int64
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(ingester LogIngester, querier LogQuerier, logger *slog.Logger, maxEventSize int64) *LogsHandler {
	return &LogsHandler{
		ingester:     ingester,
		querier:      querier,
		logger:       logger,
		maxEventSize: maxEventSize,
	}
}

// logRequest mirrors the JSON record; pointers tell missing fields from zero values.
type logRequest struct {
	UserAgent    *string `json:"user_agent"`
	ResponseTime *int64  `json:"response_time"`
	Timestamp    *string `json:"timestamp"`
}

func (req logRequest) toRecord() (domain.LogRecord, error) {
	var rec domain.LogRecord
	if req.UserAgent == nil {
		return rec, errors.New("user_agent is required")
	}
	if req.ResponseTime == nil {
		return rec, errors.New("response_time is required")
	}
	if *req.ResponseTime < 0 {
		return rec, errors.New("response_time must not be negative")
	}
	rec.UserAgent = *req.UserAgent
	rec.ResponseTime = *req.ResponseTime
	if req.Timestamp != nil && *req.Timestamp != "" {
		ts, err := codec.ParseTimestamp(*req.Timestamp)
		if err != nil {
			return rec, fmt.Errorf("invalid timestamp %q", *req.Timestamp)
		}
		rec.Timestamp = ts
	}
	return rec, nil
}

// Ingest accepts one JSON record for asynchronous persistence.
func (h *LogsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		http.Error(w, fmt.Sprintf("Unsupported Media Type: %s", r.Header.Get("Content-Type")), http.StatusUnsupportedMediaType)
		return
	}

	// Enforce max body size
	r.Body = http.MaxBytesReader(w, r.Body, h.maxEventSize)

	var req logRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, maxBytesErr.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Bad Request: Failed to decode JSON", http.StatusBadRequest)
		return
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		http.Error(w, "Bad Request: body must hold a single JSON object", http.StatusBadRequest)
		return
	}

	rec, err := req.toRecord()
	if err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.ingester.Ingest(r.Context(), &rec); err != nil {
		if errors.Is(err, usecase.ErrInvalidRecord) {
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to ingest log record", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// List writes the records in the requested range as a JSON array.
func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, ok := queryRange(w, r, h.querier, h.logger)
	if !ok {
		return
	}
	if recs == nil {
		recs = []domain.LogRecord{}
	}
	respondWithJSON(w, h.logger, http.StatusOK, recs)
}
