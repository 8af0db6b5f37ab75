package api

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/accesslog/internal/adapter/api/handler"
	"github.com/V4T54L/accesslog/internal/adapter/api/middleware"
	"github.com/V4T54L/accesslog/internal/pkg/config"
)

// NewRouter creates and configures the main HTTP router for the access-log service.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	csvIngester handler.CSVIngester,
	logIngester handler.LogIngester,
	querier handler.LogQuerier,
) http.Handler {
	mux := http.NewServeMux()

	csvHandler := handler.NewCSVHandler(csvIngester, querier, logger, cfg.MaxUploadSize)
	logsHandler := handler.NewLogsHandler(logIngester, querier, logger, cfg.MaxEventSize)

	// Routes
	mux.HandleFunc("POST /csv", csvHandler.Upload)
	mux.HandleFunc("GET /csv", csvHandler.Export)
	mux.HandleFunc("POST /logs", logsHandler.Ingest)
	mux.HandleFunc("GET /logs", logsHandler.List)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return middleware.Logging(logger)(middleware.Decompress(logger)(mux))
}
