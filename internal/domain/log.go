package domain

import (
	"fmt"
	"io"
	"time"
)

// LogRecord is a single access-log entry. It is treated as immutable once
// constructed; timestamps are always held in UTC.
type LogRecord struct {
	UserAgent    string    `json:"user_agent"`
	ResponseTime int64     `json:"response_time"`
	Timestamp    time.Time `json:"timestamp"`
}

// DecodeError describes a single record that could not be decoded.
// It is carried as a value inside a DecodeOutcome, never through the error channel.
type DecodeError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Raw    string `json:"raw"`
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// DecodeOutcome is the result of decoding one input record: exactly one of
// Record (when Err is nil) or Err is meaningful.
type DecodeOutcome struct {
	Record LogRecord
	Err    *DecodeError
}

// OK reports whether the outcome carries a decoded record.
func (o DecodeOutcome) OK() bool {
	return o.Err == nil
}

// OutcomeReader is a forward-only, non-restartable cursor over decode outcomes.
// Next returns io.EOF once the input is exhausted; any other error is fatal for the stream.
type OutcomeReader interface {
	Next() (DecodeOutcome, error)
}

// Attachment is one file-bearing part of an upload request.
type Attachment struct {
	Name      string
	MediaType string
	Body      io.Reader
}

// AttachmentSource yields the attachments of one request in arrival order.
// Next returns io.EOF when there are no more attachments.
type AttachmentSource interface {
	Next() (Attachment, error)
}

// IngestionReport is the outcome of a bulk ingestion call.
type IngestionReport struct {
	TotalInserted int
}

// TimeRange selects records with From <= Timestamp < Until.
// A zero bound is unbounded.
type TimeRange struct {
	From  time.Time
	Until time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.Until.IsZero() && !t.Before(r.Until) {
		return false
	}
	return true
}

// BufferedRecord is a LogRecord waiting in the buffer for the consumer to sink it.
type BufferedRecord struct {
	ID              string    `json:"id"`
	ReceivedAt      time.Time `json:"received_at"`
	Record          LogRecord `json:"record"`
	StreamMessageID string    `json:"-"` // set when read from the buffer stream
}
