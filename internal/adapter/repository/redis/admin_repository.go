package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/accesslog/internal/domain"
)

// AdminRepository implements domain.BufferAdminRepository for the record
// stream, its consumer group and its dead-letter stream.
type AdminRepository struct {
	client       *redis.Client
	logger       *slog.Logger
	group        string
	dlqStreamKey string
}

// NewAdminRepository creates a new Redis admin repository.
func NewAdminRepository(client *redis.Client, logger *slog.Logger, group, dlqStreamKey string) *AdminRepository {
	return &AdminRepository{
		client:       client,
		logger:       logger.With("component", "buffer_admin"),
		group:        group,
		dlqStreamKey: dlqStreamKey,
	}
}

// Inspect reads the stream length, the group's pending entries and consumers
// and the DLQ length. The WAL fields are left for the caller.
func (r *AdminRepository) Inspect(ctx context.Context) (domain.BufferStatus, error) {
	status := domain.BufferStatus{Group: r.group}

	length, err := r.client.XLen(ctx, StreamKey).Result()
	if err != nil {
		return status, fmt.Errorf("failed to read length of %s: %w", StreamKey, err)
	}
	status.StreamLength = length

	pending, err := r.client.XPending(ctx, StreamKey, r.group).Result()
	if err != nil {
		return status, fmt.Errorf("failed to get pending summary for group %s: %w", r.group, err)
	}
	status.Pending = domain.PendingSummary{
		Count:          pending.Count,
		FirstMessageID: pending.Lower,
		LastMessageID:  pending.Higher,
		PerConsumer:    pending.Consumers,
	}

	consumers, err := r.client.XInfoConsumers(ctx, StreamKey, r.group).Result()
	if err != nil {
		return status, fmt.Errorf("failed to get consumers of group %s: %w", r.group, err)
	}
	status.Consumers = make([]domain.ConsumerState, len(consumers))
	for i, c := range consumers {
		status.Consumers[i] = domain.ConsumerState{
			Name:       c.Name,
			Pending:    c.Pending,
			IdleMillis: c.Idle.Milliseconds(),
		}
	}

	dlq, err := r.client.XLen(ctx, r.dlqStreamKey).Result()
	if err != nil {
		return status, fmt.Errorf("failed to read length of %s: %w", r.dlqStreamKey, err)
	}
	status.DeadLetters = dlq
	return status, nil
}

// ListDeadLetters returns up to count DLQ entries, oldest first.
func (r *AdminRepository) ListDeadLetters(ctx context.Context, count int64) ([]domain.DeadLetter, error) {
	entries, err := r.client.XRangeN(ctx, r.dlqStreamKey, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.dlqStreamKey, err)
	}

	letters := make([]domain.DeadLetter, len(entries))
	for i, e := range entries {
		letters[i] = deadLetter(e)
	}
	return letters, nil
}

// RequeueDeadLetters moves up to count of the oldest DLQ entries back into
// the record stream. Entries whose payload is not a record stay parked.
func (r *AdminRepository) RequeueDeadLetters(ctx context.Context, count int64) (domain.RequeueResult, error) {
	var res domain.RequeueResult

	entries, err := r.client.XRangeN(ctx, r.dlqStreamKey, "-", "+", count).Result()
	if err != nil {
		return res, fmt.Errorf("failed to read %s: %w", r.dlqStreamKey, err)
	}

	for _, e := range entries {
		letter := deadLetter(e)
		var rec domain.BufferedRecord
		if err := json.Unmarshal([]byte(letter.Payload), &rec); err != nil || rec.ID == "" {
			res.Skipped++
			continue
		}

		// Add and delete together so an entry is never in both streams.
		pipe := r.client.TxPipeline()
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: StreamKey,
			Values: map[string]interface{}{"payload": letter.Payload},
		})
		pipe.XDel(ctx, r.dlqStreamKey, e.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return res, fmt.Errorf("failed to requeue %s: %w", e.ID, err)
		}
		res.Requeued++
	}

	r.logger.Info("Requeued dead letters", "requeued", res.Requeued, "skipped", res.Skipped)
	return res, nil
}

// TrimDeadLetters keeps only the newest maxLen DLQ entries and returns how
// many were removed.
func (r *AdminRepository) TrimDeadLetters(ctx context.Context, maxLen int64) (int64, error) {
	removed, err := r.client.XTrimMaxLen(ctx, r.dlqStreamKey, maxLen).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to trim %s: %w", r.dlqStreamKey, err)
	}
	r.logger.Info("Trimmed dead letters", "max_len", maxLen, "removed", removed)
	return removed, nil
}

func deadLetter(e redis.XMessage) domain.DeadLetter {
	field := func(name string) string {
		v, _ := e.Values[name].(string)
		return v
	}
	return domain.DeadLetter{
		ID:            e.ID,
		OriginalMsgID: field("original_msg_id"),
		Reason:        field("reason"),
		FailedAt:      field("failed_at"),
		Payload:       field("payload"),
	}
}
