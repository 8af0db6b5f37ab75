package usecase

import (
	"context"
	"errors"

	"github.com/V4T54L/accesslog/internal/domain"
)

const (
	defaultDeadLetterPage = 100
	maxDeadLetterPage     = 1000
)

// ErrInvalidCount is returned for a count outside what the admin routes accept.
var ErrInvalidCount = errors.New("count out of range")

// BufferState is the live side of the buffer that Redis does not know about.
type BufferState interface {
	Available() bool
	WALSize() int64
}

// AdminBufferUseCase reports on the single-record buffer and maintains its DLQ.
type AdminBufferUseCase struct {
	repo  domain.BufferAdminRepository
	state BufferState
}

// NewAdminBufferUseCase creates a new AdminBufferUseCase.
func NewAdminBufferUseCase(repo domain.BufferAdminRepository, state BufferState) *AdminBufferUseCase {
	return &AdminBufferUseCase{repo: repo, state: state}
}

// Status combines the stream snapshot with the failover state. While Redis
// is unreachable only the failover fields are filled in.
func (uc *AdminBufferUseCase) Status(ctx context.Context) (domain.BufferStatus, error) {
	available := uc.state.Available()
	status := domain.BufferStatus{}
	if available {
		var err error
		if status, err = uc.repo.Inspect(ctx); err != nil {
			return domain.BufferStatus{}, err
		}
	}
	status.RedisAvailable = available
	status.WALActive = !available
	status.WALBytes = uc.state.WALSize()
	return status, nil
}

// DeadLetters lists the oldest count DLQ entries; zero means the default page.
func (uc *AdminBufferUseCase) DeadLetters(ctx context.Context, count int64) ([]domain.DeadLetter, error) {
	count, err := pageSize(count)
	if err != nil {
		return nil, err
	}
	letters, err := uc.repo.ListDeadLetters(ctx, count)
	if err != nil {
		return nil, err
	}
	if letters == nil {
		letters = []domain.DeadLetter{}
	}
	return letters, nil
}

// Requeue sends the oldest count DLQ entries back through the buffer.
func (uc *AdminBufferUseCase) Requeue(ctx context.Context, count int64) (domain.RequeueResult, error) {
	count, err := pageSize(count)
	if err != nil {
		return domain.RequeueResult{}, err
	}
	return uc.repo.RequeueDeadLetters(ctx, count)
}

// TrimDeadLetters drops all but the newest maxLen DLQ entries.
func (uc *AdminBufferUseCase) TrimDeadLetters(ctx context.Context, maxLen int64) (int64, error) {
	if maxLen < 0 {
		return 0, ErrInvalidCount
	}
	return uc.repo.TrimDeadLetters(ctx, maxLen)
}

func pageSize(count int64) (int64, error) {
	switch {
	case count == 0:
		return defaultDeadLetterPage, nil
	case count < 0 || count > maxDeadLetterPage:
		return 0, ErrInvalidCount
	}
	return count, nil
}
