package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/V4T54L/accesslog/internal/adapter/codec"
	"github.com/V4T54L/accesslog/internal/domain"
	"github.com/V4T54L/accesslog/internal/usecase"
)

// CSVIngester runs bulk ingestion over the attachments of one request.
type CSVIngester interface {
	Ingest(ctx context.Context, attachments domain.AttachmentSource) (domain.IngestionReport, error)
}

// LogQuerier serves range reads.
type LogQuerier interface {
	Query(ctx context.Context, r domain.TimeRange) ([]domain.LogRecord, error)
	Scan(ctx context.Context, r domain.TimeRange, fn func(domain.LogRecord) error) error
}

// CSVHandler serves POST /csv uploads and GET /csv exports.
type CSVHandler struct {
	ingester      CSVIngester
	querier       LogQuerier
	logger        *slog.Logger
	maxUploadSize int64
}

// NewCSVHandler creates a new CSVHandler.
func NewCSVHandler(ingester CSVIngester, querier LogQuerier, logger *slog.Logger, maxUploadSize int64) *CSVHandler {
	return &CSVHandler{
		ingester:      ingester,
		querier:       querier,
		logger:        logger,
		maxUploadSize: maxUploadSize,
	}
}

// Upload streams a multipart request through bulk ingestion and responds with
// the number of records inserted as a bare JSON integer.
func (h *CSVHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Enforce max body size
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, fmt.Sprintf("Unsupported Media Type: %s", r.Header.Get("Content-Type")), http.StatusUnsupportedMediaType)
		return
	}

	report, err := h.ingester.Ingest(r.Context(), &multipartSource{mr: mr})
	if err != nil {
		if r.Context().Err() != nil {
			// The client is gone; committed batches stay committed and there is nobody to answer.
			h.logger.Info("upload aborted by client", "total_inserted", report.TotalInserted)
			return
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Error("failed to ingest upload", "error", err, "total_inserted", report.TotalInserted)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, report.TotalInserted)
}

// Export streams the records in the requested range as delimited text. The
// status line is sent with the first flushed bytes, so a query that fails
// early still gets an error status; a failure after that truncates the body.
func (h *CSVHandler) Export(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r)
	if err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	out := &deferredResponse{w: w, contentType: codec.MediaType}
	cw := codec.NewWriter(out)
	err = h.querier.Scan(r.Context(), tr, cw.Write)
	if err == nil {
		err = cw.Flush()
	}
	if err == nil {
		return
	}
	if out.started {
		h.logger.Error("CSV export aborted mid-stream", "error", err, "bytes_written", out.written)
		return
	}
	writeQueryError(w, err, h.logger)
}

// deferredResponse sends the 200 status and content type on the first write.
type deferredResponse struct {
	w           http.ResponseWriter
	contentType string
	started     bool
	written     int64
}

func (d *deferredResponse) Write(b []byte) (int, error) {
	if !d.started {
		d.started = true
		d.w.Header().Set("Content-Type", d.contentType)
		d.w.WriteHeader(http.StatusOK)
	}
	n, err := d.w.Write(b)
	d.written += int64(n)
	return n, err
}

// queryRange parses the range parameters and runs the query, writing the
// error response itself when it returns false.
func queryRange(w http.ResponseWriter, r *http.Request, q LogQuerier, logger *slog.Logger) ([]domain.LogRecord, bool) {
	tr, err := parseTimeRange(r)
	if err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}

	recs, err := q.Query(r.Context(), tr)
	if err != nil {
		writeQueryError(w, err, logger)
		return nil, false
	}
	return recs, true
}

func writeQueryError(w http.ResponseWriter, err error, logger *slog.Logger) {
	if errors.Is(err, usecase.ErrInvalidRange) {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	logger.Error("failed to query logs", "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// multipartSource adapts a multipart reader to domain.AttachmentSource.
// Moving to the next part discards whatever the previous part left unread.
type multipartSource struct {
	mr *multipart.Reader
}

func (s *multipartSource) Next() (domain.Attachment, error) {
	part, err := s.mr.NextPart()
	if err != nil {
		return domain.Attachment{}, err
	}
	name := part.FileName()
	if name == "" {
		name = part.FormName()
	}
	return domain.Attachment{
		Name:      name,
		MediaType: part.Header.Get("Content-Type"),
		Body:      part,
	}, nil
}
