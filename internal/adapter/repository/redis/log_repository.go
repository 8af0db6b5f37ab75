package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/accesslog/internal/adapter/metrics"
	"github.com/V4T54L/accesslog/internal/domain"
)

const (
	// StreamKey is the Redis stream that buffers single records.
	StreamKey = "access_logs"
	// ConsumerGroup is the group the consumer workers read StreamKey with.
	ConsumerGroup = "access-log-sinks"

	defaultReadBlock = 2 * time.Second
)

// LogRepository implements domain.RecordBuffer using Redis Streams, with a
// Write-Ahead Log taking over writes while Redis is unreachable.
type LogRepository struct {
	client       *redis.Client
	logger       *slog.Logger
	wal          domain.WALRepository
	metrics      *metrics.IngestMetrics
	dlqStreamKey string
	readBlock    time.Duration
	isAvailable  atomic.Bool
}

// NewLogRepository creates a new Redis-backed LogRepository and ensures the
// consumer group exists. The WAL is optional; pass nil for consumers.
func NewLogRepository(client *redis.Client, logger *slog.Logger, group, dlqStreamKey string, wal domain.WALRepository, m *metrics.IngestMetrics) *LogRepository {
	repo := &LogRepository{
		client:       client,
		logger:       logger.With("component", "redis_repository"),
		wal:          wal,
		metrics:      m,
		dlqStreamKey: dlqStreamKey,
		readBlock:    defaultReadBlock,
	}
	repo.isAvailable.Store(true) // Assume available initially

	if err := repo.setupConsumerGroup(context.Background(), group); err != nil {
		repo.markUnavailable(err)
		repo.logger.Error("Failed to setup consumer group, Redis may be unavailable on startup", "error", err)
	}
	return repo
}

// Available reports whether writes currently go to Redis.
func (r *LogRepository) Available() bool {
	return r.isAvailable.Load()
}

// WALSize returns the bytes waiting in the WAL, zero without one.
func (r *LogRepository) WALSize() int64 {
	if r.wal == nil {
		return 0
	}
	return r.wal.Size()
}

// StartHealthCheck monitors Redis connectivity until ctx is done and drains
// the WAL whenever Redis is reachable and the WAL holds records.
func (r *LogRepository) StartHealthCheck(ctx context.Context, interval time.Duration) {
	if r.wal == nil {
		r.logger.Info("WAL is not configured, skipping health check/drainer")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Starting Redis health check and WAL drainer")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping Redis health check")
			return
		case <-ticker.C:
			r.checkHealth(ctx)
		}
	}
}

// checkHealth switches writes back to Redis as soon as it answers, then
// drains whatever the WAL absorbed in the meantime. A drain that fails is
// retried on the next tick.
func (r *LogRepository) checkHealth(ctx context.Context) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.markUnavailable(err)
		return
	}
	if r.isAvailable.CompareAndSwap(false, true) {
		r.logger.Info("Redis connection recovered, writes go to Redis again")
		r.metrics.SetWALActive(false)
	}
	if r.wal.Size() == 0 {
		return
	}
	if err := r.DrainWAL(ctx); err != nil {
		r.logger.Error("Failed to drain WAL to Redis", "error", err)
	}
}

func (r *LogRepository) markUnavailable(err error) {
	if r.isAvailable.CompareAndSwap(true, false) {
		r.logger.Error("Redis connection lost", "error", err)
		r.metrics.SetWALActive(r.wal != nil)
	}
}

// DrainWAL moves the records the WAL holds into the stream. Records written
// to the WAL while it runs are left for the next drain.
func (r *LogRepository) DrainWAL(ctx context.Context) error {
	n, err := r.wal.Drain(ctx, func(rec domain.BufferedRecord) error {
		return r.bufferToRedis(ctx, rec)
	})
	if err != nil {
		return fmt.Errorf("WAL drain failed after %d records: %w", n, err)
	}
	r.logger.Info("WAL drained to Redis", "records", n)
	return nil
}

func (r *LogRepository) setupConsumerGroup(ctx context.Context, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, StreamKey, group, "0").Err()
	if err != nil && !isRedisBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// BufferRecord adds a record to the stream, falling back to the WAL when
// Redis is unavailable.
func (r *LogRepository) BufferRecord(ctx context.Context, rec domain.BufferedRecord) error {
	if !r.isAvailable.Load() {
		return r.writeToWAL(ctx, rec, nil)
	}

	err := r.bufferToRedis(ctx, rec)
	if err == nil {
		r.metrics.ObserveBuffered("redis")
		return nil
	}
	if !isNetworkError(err) {
		r.metrics.ObserveError("buffer")
		return err
	}
	r.markUnavailable(err)
	return r.writeToWAL(ctx, rec, err)
}

func (r *LogRepository) writeToWAL(ctx context.Context, rec domain.BufferedRecord, cause error) error {
	if r.wal == nil {
		r.metrics.ObserveError("buffer")
		if cause != nil {
			return fmt.Errorf("redis became unavailable and WAL is not configured: %w", cause)
		}
		return errors.New("redis is unavailable and WAL is not configured")
	}
	r.logger.Warn("Redis is unavailable, writing to WAL", "record_id", rec.ID)
	if err := r.wal.Write(ctx, rec); err != nil {
		r.metrics.ObserveError("buffer")
		return err
	}
	r.metrics.ObserveBuffered("wal")
	return nil
}

func (r *LogRepository) bufferToRedis(ctx context.Context, rec domain.BufferedRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: StreamKey,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}

// ReadRecordBatch reads up to count new records for consumer in group.
// It returns nil when nothing arrives within the block timeout.
func (r *LogRepository) ReadRecordBatch(ctx context.Context, group, consumer string, count int) ([]domain.BufferedRecord, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(count),
		Block:    r.readBlock,
	}

	streams, err := r.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from redis: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return r.decodeMessages(ctx, group, streams[0].Messages), nil
}

// ClaimStaleRecords takes over up to count records that were delivered to
// some consumer of group but stayed unacknowledged for at least minIdle, so
// work held by a crashed consumer is not stuck forever.
func (r *LogRepository) ClaimStaleRecords(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]domain.BufferedRecord, error) {
	messages, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to XAUTOCLAIM from redis: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil
	}
	r.logger.Info("Claimed stale records", "count", len(messages), "consumer", consumer)
	return r.decodeMessages(ctx, group, messages), nil
}

// decodeMessages turns stream messages into records. Messages that cannot be
// decoded are parked in the DLQ and acknowledged so they never come back.
func (r *LogRepository) decodeMessages(ctx context.Context, group string, messages []redis.XMessage) []domain.BufferedRecord {
	records := make([]domain.BufferedRecord, 0, len(messages))
	var poison []redis.XMessage
	for _, msg := range messages {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			r.logger.Warn("Invalid message format in stream", "message_id", msg.ID)
			poison = append(poison, msg)
			continue
		}

		var rec domain.BufferedRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			r.logger.Warn("Failed to unmarshal record from stream", "message_id", msg.ID, "error", err)
			poison = append(poison, msg)
			continue
		}
		rec.StreamMessageID = msg.ID
		records = append(records, rec)
	}

	if len(poison) > 0 {
		if err := r.parkUndecodable(ctx, group, poison); err != nil {
			// Still pending; the next claim retries them.
			r.logger.Error("Failed to park undecodable messages", "count", len(poison), "error", err)
		}
	}
	return records
}

func (r *LogRepository) parkUndecodable(ctx context.Context, group string, messages []redis.XMessage) error {
	failedAt := time.Now().UTC().Format(time.RFC3339)
	ids := make([]string, 0, len(messages))
	pipe := r.client.TxPipeline()
	for _, msg := range messages {
		raw, err := json.Marshal(msg.Values)
		if err != nil {
			raw = []byte(fmt.Sprint(msg.Values))
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.dlqStreamKey,
			Values: map[string]interface{}{
				"payload":         raw,
				"reason":          "undecodable",
				"original_stream": StreamKey,
				"original_msg_id": msg.ID,
				"failed_at":       failedAt,
			},
		})
		ids = append(ids, msg.ID)
	}
	pipe.XAck(ctx, StreamKey, group, ids...)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute DLQ pipeline: %w", err)
	}
	r.metrics.ObserveError("undecodable")
	r.logger.Warn("Moved undecodable messages to DLQ", "count", len(messages))
	return nil
}

// AcknowledgeRecords acknowledges processed messages in the stream.
func (r *LogRepository) AcknowledgeRecords(ctx context.Context, group string, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, StreamKey, group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("failed to XACK messages in redis: %w", err)
	}
	return nil
}

// MoveToDLQ copies records to the dead-letter stream in one pipeline.
func (r *LogRepository) MoveToDLQ(ctx context.Context, recs []domain.BufferedRecord) error {
	if len(recs) == 0 {
		return nil
	}

	failedAt := time.Now().UTC().Format(time.RFC3339)
	pipe := r.client.Pipeline()
	for _, rec := range recs {
		payload, err := json.Marshal(rec)
		if err != nil {
			r.logger.Error("Failed to marshal record for DLQ", "record_id", rec.ID, "error", err)
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.dlqStreamKey,
			Values: map[string]interface{}{
				"payload":         payload,
				"reason":          "sink_failed",
				"original_stream": StreamKey,
				"original_msg_id": rec.StreamMessageID,
				"failed_at":       failedAt,
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute DLQ pipeline: %w", err)
	}
	r.logger.Warn("Moved records to DLQ", "count", len(recs))
	return nil
}

func isRedisBusyGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded)
}
