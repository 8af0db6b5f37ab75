package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/accesslog/internal/domain"
)

// MockRecordGateway is a mock implementation of domain.RecordGateway for testing.
// Committed batches are kept in Batches; a failed call commits nothing.
type MockRecordGateway struct {
	mu          sync.Mutex
	Batches     [][]domain.LogRecord
	Calls       int
	InsertErr   error
	FailOnCall  int // 1-based call that returns InsertErr; 0 fails every call when InsertErr is set
	QueryResult []domain.LogRecord
	QueryErr    error
	ScanErr     error // returned by ScanRange after every record was yielded
	LastRange   domain.TimeRange
}

func (m *MockRecordGateway) InsertBatch(ctx context.Context, records []domain.LogRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.InsertErr != nil && (m.FailOnCall == 0 || m.FailOnCall == m.Calls) {
		return 0, m.InsertErr
	}
	batch := make([]domain.LogRecord, len(records))
	copy(batch, records)
	m.Batches = append(m.Batches, batch)
	return len(records), nil
}

func (m *MockRecordGateway) QueryRange(ctx context.Context, r domain.TimeRange) ([]domain.LogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRange = r
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	if m.QueryResult != nil {
		return m.QueryResult, nil
	}
	var out []domain.LogRecord
	for _, batch := range m.Batches {
		for _, rec := range batch {
			if r.Contains(rec.Timestamp) {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// ScanRange yields what QueryRange would return, then ScanErr if set.
func (m *MockRecordGateway) ScanRange(ctx context.Context, r domain.TimeRange, fn func(domain.LogRecord) error) error {
	recs, err := m.QueryRange(ctx, r)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := fn(rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ScanErr
}

// BatchSizes returns the size of every committed batch in order.
func (m *MockRecordGateway) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make([]int, len(m.Batches))
	for i, b := range m.Batches {
		sizes[i] = len(b)
	}
	return sizes
}

// MockRecordBuffer is a mock implementation of domain.RecordBuffer for testing.
type MockRecordBuffer struct {
	mu              sync.Mutex
	BufferedRecords []domain.BufferedRecord
	AckedMessageIDs []string
	DLQRecords      []domain.BufferedRecord
	ReadBatchResult []domain.BufferedRecord
	ClaimResult     []domain.BufferedRecord
	ClaimCalls      int
	LastClaimIdle   time.Duration
	BufferErr       error
	ReadErr         error
	ClaimErr        error
	AckErr          error
	DLQErr          error
}

func (m *MockRecordBuffer) BufferRecord(ctx context.Context, rec domain.BufferedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BufferErr != nil {
		return m.BufferErr
	}
	m.BufferedRecords = append(m.BufferedRecords, rec)
	return nil
}

func (m *MockRecordBuffer) ReadRecordBatch(ctx context.Context, group, consumer string, count int) ([]domain.BufferedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	return m.ReadBatchResult, nil
}

func (m *MockRecordBuffer) ClaimStaleRecords(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]domain.BufferedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClaimCalls++
	m.LastClaimIdle = minIdle
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	claimed := m.ClaimResult
	m.ClaimResult = nil
	return claimed, nil
}

func (m *MockRecordBuffer) AcknowledgeRecords(ctx context.Context, group string, messageIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedMessageIDs = append(m.AckedMessageIDs, messageIDs...)
	return nil
}

func (m *MockRecordBuffer) MoveToDLQ(ctx context.Context, recs []domain.BufferedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DLQErr != nil {
		return m.DLQErr
	}
	m.DLQRecords = append(m.DLQRecords, recs...)
	return nil
}
