package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/V4T54L/accesslog/internal/domain"
)

// ProcessLogsUseCase moves buffered single records into the store in batches.
type ProcessLogsUseCase struct {
	buffer    domain.RecordBuffer
	gateway   domain.RecordGateway
	logger    *slog.Logger
	group     string
	consumer  string
	batchSize int
	claimIdle time.Duration
}

// NewProcessLogsUseCase creates a new use case for processing buffered records.
// Records another consumer left unacknowledged for claimIdle are taken over
// before new ones are read; zero disables the takeover.
func NewProcessLogsUseCase(buffer domain.RecordBuffer, gateway domain.RecordGateway, logger *slog.Logger, group, consumer string, batchSize int, claimIdle time.Duration) *ProcessLogsUseCase {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ProcessLogsUseCase{
		buffer:    buffer,
		gateway:   gateway,
		logger:    logger,
		group:     group,
		consumer:  consumer,
		batchSize: batchSize,
		claimIdle: claimIdle,
	}
}

// ProcessBatch reads a batch of buffered records, inserts them in one
// transaction and acknowledges them. A batch that fails to insert is moved to
// the DLQ and acknowledged; it is not retried.
func (uc *ProcessLogsUseCase) ProcessBatch(ctx context.Context) (int, error) {
	// 1. Take over stale records or read a batch of new ones
	buffered, err := uc.nextBatch(ctx)
	if err != nil {
		uc.logger.Error("failed to read record batch from buffer", "error", err)
		return 0, err
	}

	if len(buffered) == 0 {
		return 0, nil // No new records, not an error
	}

	uc.logger.Debug("read batch of records from buffer", "count", len(buffered))

	records := make([]domain.LogRecord, len(buffered))
	messageIDs := make([]string, len(buffered))
	for i, b := range buffered {
		records[i] = b.Record
		messageIDs[i] = b.StreamMessageID
	}

	// 2. Write the batch to the store
	inserted, err := uc.gateway.InsertBatch(ctx, records)
	if err != nil {
		uc.logger.Error("failed to write record batch, moving to DLQ", "error", err, "count", len(buffered))
		if dlqErr := uc.buffer.MoveToDLQ(ctx, buffered); dlqErr != nil {
			// Leave the records pending so they can be claimed later.
			return 0, errors.Join(err, dlqErr)
		}
		if ackErr := uc.buffer.AcknowledgeRecords(ctx, uc.group, messageIDs...); ackErr != nil {
			return 0, errors.Join(err, ackErr)
		}
		return 0, err
	}

	// 3. Acknowledge the records in the buffer
	if err := uc.buffer.AcknowledgeRecords(ctx, uc.group, messageIDs...); err != nil {
		// The records are stored but still pending; a later claim would insert them again.
		uc.logger.Error("failed to acknowledge records in buffer", "error", err)
		return inserted, err
	}

	uc.logger.Info("successfully processed buffered record batch", "count", inserted)
	return inserted, nil
}

func (uc *ProcessLogsUseCase) nextBatch(ctx context.Context) ([]domain.BufferedRecord, error) {
	if uc.claimIdle > 0 {
		claimed, err := uc.buffer.ClaimStaleRecords(ctx, uc.group, uc.consumer, uc.claimIdle, uc.batchSize)
		if err != nil {
			uc.logger.Warn("failed to claim stale records", "error", err)
		} else if len(claimed) > 0 {
			uc.logger.Info("took over stale records", "count", len(claimed))
			return claimed, nil
		}
	}
	return uc.buffer.ReadRecordBatch(ctx, uc.group, uc.consumer, uc.batchSize)
}

// Run calls ProcessBatch every interval until ctx is done. A full batch is
// followed immediately by another read so a backlog drains without waiting.
func (uc *ProcessLogsUseCase) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

Loop:
	for {
		select {
		case <-ticker.C:
			for ctx.Err() == nil {
				processed, err := uc.ProcessBatch(ctx)
				if err != nil {
					uc.logger.Error("error processing batch", "error", err)
				}
				if err != nil || processed < uc.batchSize {
					break
				}
			}
		case <-ctx.Done():
			uc.logger.Info("context cancelled, shutting down consumer loop")
			break Loop
		}
	}
}
