package usecase

import (
	"errors"
	"io"

	"github.com/V4T54L/accesslog/internal/domain"
)

// DefaultBatchSize is the number of records committed per transaction.
const DefaultBatchSize = 1000

// Batcher groups the successful outcomes of an OutcomeReader into batches of
// a fixed size. Failed outcomes never occupy a slot; they are only counted.
type Batcher struct {
	src       domain.OutcomeReader
	size      int
	onFailure func(*domain.DecodeError)

	successes int
	failures  int
	err       error
}

// NewBatcher returns a Batcher over src. onFailure, if non-nil, is called for
// every failed outcome.
func NewBatcher(src domain.OutcomeReader, size int, onFailure func(*domain.DecodeError)) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{src: src, size: size, onFailure: onFailure}
}

// Next returns the next non-empty batch in input order. It returns io.EOF once
// the source is exhausted. A fatal source error is returned as is and the
// records accumulated since the last batch are dropped.
func (b *Batcher) Next() ([]domain.LogRecord, error) {
	if b.err != nil {
		return nil, b.err
	}

	var batch []domain.LogRecord
	for len(batch) < b.size {
		out, err := b.src.Next()
		if err != nil {
			b.err = err
			if errors.Is(err, io.EOF) && len(batch) > 0 {
				return batch, nil
			}
			return nil, err
		}
		if !out.OK() {
			b.failures++
			if b.onFailure != nil {
				b.onFailure(out.Err)
			}
			continue
		}
		if batch == nil {
			batch = make([]domain.LogRecord, 0, b.size)
		}
		batch = append(batch, out.Record)
		b.successes++
	}
	return batch, nil
}

// Successes returns how many records have been decoded so far.
func (b *Batcher) Successes() int { return b.successes }

// Failures returns how many failed outcomes have been skipped so far.
func (b *Batcher) Failures() int { return b.failures }
