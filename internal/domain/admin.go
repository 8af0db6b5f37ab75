package domain

import "context"

// BufferStatus is a snapshot of the single-record buffer: the stream, the
// consumer group reading it, the dead-letter stream and the WAL fallback.
type BufferStatus struct {
	StreamLength   int64           `json:"stream_length"`
	Group          string          `json:"group"`
	Pending        PendingSummary  `json:"pending"`
	Consumers      []ConsumerState `json:"consumers"`
	DeadLetters    int64           `json:"dead_letters"`
	RedisAvailable bool            `json:"redis_available"`
	WALActive      bool            `json:"wal_active"`
	WALBytes       int64           `json:"wal_bytes"`
}

// PendingSummary covers records handed to a consumer but not acknowledged.
type PendingSummary struct {
	Count          int64            `json:"count"`
	FirstMessageID string           `json:"first_message_id,omitempty"`
	LastMessageID  string           `json:"last_message_id,omitempty"`
	PerConsumer    map[string]int64 `json:"per_consumer,omitempty"`
}

// ConsumerState describes one consumer of the group.
type ConsumerState struct {
	Name       string `json:"name"`
	Pending    int64  `json:"pending"`
	IdleMillis int64  `json:"idle_ms"`
}

// DeadLetter is an entry of the dead-letter stream. Payload is the buffered
// record as it was queued, or the raw message fields when it never decoded.
type DeadLetter struct {
	ID            string `json:"id"`
	OriginalMsgID string `json:"original_msg_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	FailedAt      string `json:"failed_at,omitempty"`
	Payload       string `json:"payload"`
}

// RequeueResult counts what a requeue moved back into the buffer and what it
// left parked because the payload is not a record.
type RequeueResult struct {
	Requeued int `json:"requeued"`
	Skipped  int `json:"skipped"`
}

// BufferAdminRepository inspects and maintains the buffer stream and its DLQ.
type BufferAdminRepository interface {
	Inspect(ctx context.Context) (BufferStatus, error)
	ListDeadLetters(ctx context.Context, count int64) ([]DeadLetter, error)
	RequeueDeadLetters(ctx context.Context, count int64) (RequeueResult, error)
	TrimDeadLetters(ctx context.Context, maxLen int64) (int64, error)
}
