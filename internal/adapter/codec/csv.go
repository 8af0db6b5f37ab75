// Package codec converts access-log records to and from their delimited-text form.
package codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/accesslog/internal/domain"
)

// MediaType is the declared content type of delimited-text attachments.
const MediaType = "text/csv"

// Header is the column order of the wire format.
var Header = []string{"user_agent", "response_time", "timestamp"}

const timestampLayout = time.RFC3339Nano

// Zone-less layouts are accepted on input and read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Decode converts the fields of one record into a LogRecord.
// A malformed record yields a *domain.DecodeError; Decode has no side effects.
func Decode(fields []string) (domain.LogRecord, *domain.DecodeError) {
	if len(fields) != len(Header) {
		return domain.LogRecord{}, decodeErr(fields, "expected %d fields, got %d", len(Header), len(fields))
	}

	rt, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return domain.LogRecord{}, decodeErr(fields, "invalid response_time %q", fields[1])
	}
	if rt < 0 {
		return domain.LogRecord{}, decodeErr(fields, "negative response_time %d", rt)
	}

	ts, err := ParseTimestamp(fields[2])
	if err != nil {
		return domain.LogRecord{}, decodeErr(fields, "invalid timestamp %q", fields[2])
	}

	return domain.LogRecord{
		UserAgent:    fields[0],
		ResponseTime: rt,
		Timestamp:    ts,
	}, nil
}

// Encode is the inverse of Decode.
func Encode(rec domain.LogRecord) []string {
	return []string{
		rec.UserAgent,
		strconv.FormatInt(rec.ResponseTime, 10),
		rec.Timestamp.UTC().Format(timestampLayout),
	}
}

// ParseTimestamp parses an RFC 3339 timestamp, or a zone-less one as UTC,
// and normalizes the result to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// IsHeader reports whether fields is the column header row.
func IsHeader(fields []string) bool {
	if len(fields) != len(Header) {
		return false
	}
	for i, name := range Header {
		if !strings.EqualFold(strings.TrimSpace(fields[i]), name) {
			return false
		}
	}
	return true
}

func decodeErr(fields []string, format string, args ...any) *domain.DecodeError {
	return &domain.DecodeError{
		Reason: fmt.Sprintf(format, args...),
		Raw:    strings.Join(fields, ","),
	}
}
