package domain

import (
	"context"
	"time"
)

// RecordGateway is the persistence boundary for access-log records.
type RecordGateway interface {
	// InsertBatch stores records atomically and returns how many were inserted.
	// Separate calls are independent: a failed call never undoes an earlier one.
	InsertBatch(ctx context.Context, records []LogRecord) (int, error)

	// QueryRange returns the records inside r in insertion order.
	QueryRange(ctx context.Context, r TimeRange) ([]LogRecord, error)

	// ScanRange streams the records inside r to fn in insertion order without
	// holding them all in memory. It stops at the first error fn returns.
	ScanRange(ctx context.Context, r TimeRange, fn func(LogRecord) error) error
}

// RecordBuffer queues single records between the HTTP path and the consumer.
// This abstracts away the specific implementation (Redis Streams).
type RecordBuffer interface {
	// BufferRecord adds a single record to the durable buffer.
	BufferRecord(ctx context.Context, rec BufferedRecord) error

	// ReadRecordBatch reads up to count buffered records for a specific consumer.
	ReadRecordBatch(ctx context.Context, group, consumer string, count int) ([]BufferedRecord, error)

	// ClaimStaleRecords takes over up to count records another consumer was
	// handed but left unacknowledged for at least minIdle.
	ClaimStaleRecords(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]BufferedRecord, error)

	// AcknowledgeRecords marks buffered records as processed.
	AcknowledgeRecords(ctx context.Context, group string, messageIDs ...string) error

	// MoveToDLQ parks records that could not be sunk.
	MoveToDLQ(ctx context.Context, recs []BufferedRecord) error
}

// WALRepository defines the interface for the Write-Ahead Log failover mechanism.
type WALRepository interface {
	// Write appends a buffered record to the local WAL file.
	Write(ctx context.Context, rec BufferedRecord) error

	// Drain hands every record written before the call to handler and removes
	// what was handled. Records written during the drain stay in the WAL.
	Drain(ctx context.Context, handler func(rec BufferedRecord) error) (int, error)

	// Size returns the bytes the WAL currently holds.
	Size() int64
}
