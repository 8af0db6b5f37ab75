package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/accesslog/internal/adapter/metrics"
	"github.com/V4T54L/accesslog/internal/domain"
)

// ErrInvalidRecord is returned for a single record that fails validation.
var ErrInvalidRecord = errors.New("invalid log record")

// RecordBufferer accepts single records for asynchronous persistence.
type RecordBufferer interface {
	BufferRecord(ctx context.Context, rec domain.BufferedRecord) error
}

// IngestLogUseCase handles the business logic for ingesting a single log record.
type IngestLogUseCase struct {
	buffer RecordBufferer
	logger *slog.Logger
	now    func() time.Time
}

// NewIngestLogUseCase creates a new IngestLogUseCase.
func NewIngestLogUseCase(buffer RecordBufferer, logger *slog.Logger) *IngestLogUseCase {
	return &IngestLogUseCase{
		buffer: buffer,
		logger: logger,
		now:    time.Now,
	}
}

// Ingest validates, enriches, and buffers a log record. A record without a
// timestamp is stamped with the receipt time.
func (uc *IngestLogUseCase) Ingest(ctx context.Context, rec *domain.LogRecord) error {
	if rec.ResponseTime < 0 {
		return ErrInvalidRecord
	}

	// 1. Enrich with server-side data
	receivedAt := uc.now().UTC()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = receivedAt
	} else {
		rec.Timestamp = rec.Timestamp.UTC()
	}

	buffered := domain.BufferedRecord{
		ID:         uuid.NewString(),
		ReceivedAt: receivedAt,
		Record:     *rec,
	}

	// 2. Buffer the record
	if err := uc.buffer.BufferRecord(ctx, buffered); err != nil {
		uc.logger.Error("failed to buffer log record", "error", err, "record_id", buffered.ID)
		return err
	}

	return nil
}

// DirectWriter persists single records synchronously as batches of one.
// It stands in for the buffer when Redis is not configured.
type DirectWriter struct {
	gateway domain.RecordGateway
	metrics *metrics.IngestMetrics
}

// NewDirectWriter creates a new DirectWriter.
func NewDirectWriter(gateway domain.RecordGateway, m *metrics.IngestMetrics) *DirectWriter {
	return &DirectWriter{gateway: gateway, metrics: m}
}

// BufferRecord inserts rec immediately.
func (w *DirectWriter) BufferRecord(ctx context.Context, rec domain.BufferedRecord) error {
	if _, err := w.gateway.InsertBatch(ctx, []domain.LogRecord{rec.Record}); err != nil {
		w.metrics.ObserveError("buffer")
		return err
	}
	w.metrics.ObserveBuffered("direct")
	return nil
}
