package codec

import (
	"encoding/csv"
	"io"

	"github.com/V4T54L/accesslog/internal/domain"
)

// Writer serializes records as delimited text, header first.
type Writer struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(w)}
}

// Write encodes one record, emitting the header row before the first one.
func (w *Writer) Write(rec domain.LogRecord) error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	return w.w.Write(Encode(rec))
}

// Flush writes the header if nothing was written yet and flushes buffered data.
func (w *Writer) Flush() error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	w.w.Flush()
	return w.w.Error()
}

func (w *Writer) writeHeader() error {
	if w.wroteHeader {
		return nil
	}
	w.wroteHeader = true
	return w.w.Write(Header)
}

// WriteAll writes every record and flushes.
func WriteAll(out io.Writer, recs []domain.LogRecord) error {
	w := NewWriter(out)
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return w.Flush()
}
