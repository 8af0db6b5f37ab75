package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/accesslog/internal/adapter/api/handler"
	"github.com/V4T54L/accesslog/internal/usecase"
)

// NewAdminRouter creates the HTTP router for metrics, health and buffer
// administration. The buffer routes are mounted only when adminUseCase is
// non-nil, that is when Redis buffering is configured.
func NewAdminRouter(adminUseCase *usecase.AdminBufferUseCase, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	adminHandler := handler.NewAdminHandler(adminUseCase, logger)

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", adminHandler.HealthCheck)

	if adminUseCase == nil {
		return mux
	}

	mux.HandleFunc("GET /admin/buffer", adminHandler.BufferStatus)

	// Dead letters
	mux.HandleFunc("GET /admin/buffer/dlq", adminHandler.ListDeadLetters)
	mux.HandleFunc("POST /admin/buffer/dlq/requeue", adminHandler.RequeueDeadLetters)
	mux.HandleFunc("POST /admin/buffer/dlq/trim", adminHandler.TrimDeadLetters)

	return mux
}
