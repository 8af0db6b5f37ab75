package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"

	"github.com/google/uuid"

	"github.com/V4T54L/accesslog/internal/adapter/codec"
	"github.com/V4T54L/accesslog/internal/adapter/metrics"
	"github.com/V4T54L/accesslog/internal/domain"
)

// Malformed records beyond this many per attachment are counted but not logged.
const maxLoggedFailures = 100

// IngestCSVUseCase drives bulk ingestion of uploaded delimited-text attachments.
//
// Every batch is committed in its own transaction. When ingestion aborts, the
// batches committed before the failure stay committed; nothing is rolled back
// across batches and nothing is retried.
type IngestCSVUseCase struct {
	gateway   domain.RecordGateway
	logger    *slog.Logger
	metrics   *metrics.IngestMetrics
	batchSize int
}

// NewIngestCSVUseCase creates a new IngestCSVUseCase.
func NewIngestCSVUseCase(gateway domain.RecordGateway, logger *slog.Logger, m *metrics.IngestMetrics, batchSize int) *IngestCSVUseCase {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &IngestCSVUseCase{
		gateway:   gateway,
		logger:    logger.With("component", "csv_ingestion"),
		metrics:   m,
		batchSize: batchSize,
	}
}

// Ingest processes the attachments in arrival order and returns the number of
// records committed. Attachments not declared as text/csv are skipped. On error
// the returned report still holds the count committed before the failure.
func (uc *IngestCSVUseCase) Ingest(ctx context.Context, attachments domain.AttachmentSource) (domain.IngestionReport, error) {
	logger := uc.logger.With("ingestion_id", uuid.NewString())
	var report domain.IngestionReport

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		att, err := attachments.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			uc.metrics.ObserveError("stream")
			logger.Error("failed to read next attachment", "error", err, "total_inserted", report.TotalInserted)
			return report, fmt.Errorf("%w: next attachment: %w", codec.ErrStream, err)
		}

		if !IsCSVMediaType(att.MediaType) {
			logger.Debug("skipping attachment", "attachment", att.Name, "media_type", att.MediaType)
			uc.metrics.ObserveAttachment("skipped")
			continue
		}

		n, err := uc.ingestAttachment(ctx, logger.With("attachment", att.Name), att.Body)
		report.TotalInserted += n
		if err != nil {
			uc.metrics.ObserveAttachment("failed")
			return report, err
		}
		uc.metrics.ObserveAttachment("processed")
	}

	logger.Info("bulk ingestion finished", "total_inserted", report.TotalInserted)
	return report, nil
}

func (uc *IngestCSVUseCase) ingestAttachment(ctx context.Context, logger *slog.Logger, body io.Reader) (int, error) {
	logged := 0
	batcher := NewBatcher(codec.NewParser(body), uc.batchSize, func(e *domain.DecodeError) {
		if logged < maxLoggedFailures {
			logged++
			logger.Warn("skipping malformed record", "line", e.Line, "reason", e.Reason, "raw", e.Raw)
		}
	})
	defer func() {
		uc.metrics.ObserveDecoded(batcher.Successes(), batcher.Failures())
	}()

	inserted, batches := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		batch, err := batcher.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			uc.metrics.ObserveError("stream")
			logger.Error("attachment stream failed", "error", err, "batches", batches, "inserted", inserted)
			return inserted, err
		}

		n, err := uc.gateway.InsertBatch(ctx, batch)
		if err != nil {
			uc.metrics.ObserveError("insert")
			logger.Error("batch insert failed", "error", err, "batch", batches+1, "inserted", inserted)
			return inserted, fmt.Errorf("insert batch %d: %w", batches+1, err)
		}
		inserted += n
		batches++
		uc.metrics.ObserveBatch(batch, n)
		logger.Debug("batch committed", "batch", batches, "size", len(batch))
	}

	if f := batcher.Failures(); f > maxLoggedFailures {
		logger.Warn("malformed records were not all logged", "malformed", f, "logged", maxLoggedFailures)
	}
	logger.Info("attachment ingested",
		"decoded", batcher.Successes(),
		"malformed", batcher.Failures(),
		"batches", batches,
		"inserted", inserted,
	)
	return inserted, nil
}

// IsCSVMediaType reports whether a declared Content-Type is text/csv,
// ignoring parameters and case.
func IsCSVMediaType(declared string) bool {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return false
	}
	return mt == codec.MediaType
}
