package usecase

import (
	"context"
	"errors"

	"github.com/V4T54L/accesslog/internal/domain"
)

// ErrInvalidRange is returned when from is after until.
var ErrInvalidRange = errors.New("from must not be after until")

// QueryLogsUseCase serves range reads.
type QueryLogsUseCase struct {
	gateway domain.RecordGateway
}

// NewQueryLogsUseCase creates a new QueryLogsUseCase.
func NewQueryLogsUseCase(gateway domain.RecordGateway) *QueryLogsUseCase {
	return &QueryLogsUseCase{gateway: gateway}
}

// Query returns records with from <= timestamp < until in insertion order.
// Both bounds are normalized to UTC; a zero bound is open.
func (uc *QueryLogsUseCase) Query(ctx context.Context, r domain.TimeRange) ([]domain.LogRecord, error) {
	r, err := normalizeRange(r)
	if err != nil {
		return nil, err
	}

	recs, err := uc.gateway.QueryRange(ctx, r)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Timestamp = recs[i].Timestamp.UTC()
	}
	return recs, nil
}

// Scan is Query without materializing the result: every record is handed to
// fn as it is read.
func (uc *QueryLogsUseCase) Scan(ctx context.Context, r domain.TimeRange, fn func(domain.LogRecord) error) error {
	r, err := normalizeRange(r)
	if err != nil {
		return err
	}
	return uc.gateway.ScanRange(ctx, r, func(rec domain.LogRecord) error {
		rec.Timestamp = rec.Timestamp.UTC()
		return fn(rec)
	})
}

func normalizeRange(r domain.TimeRange) (domain.TimeRange, error) {
	if !r.From.IsZero() {
		r.From = r.From.UTC()
	}
	if !r.Until.IsZero() {
		r.Until = r.Until.UTC()
	}
	if !r.From.IsZero() && !r.Until.IsZero() && r.From.After(r.Until) {
		return domain.TimeRange{}, ErrInvalidRange
	}
	return r, nil
}
