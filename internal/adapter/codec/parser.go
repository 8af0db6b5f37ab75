package codec

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/V4T54L/accesslog/internal/domain"
)

// ErrStream marks a failure reading the underlying byte source. It ends the
// stream, unlike a malformed record which only produces a failed outcome.
var ErrStream = errors.New("csv stream unreadable")

// Parser lazily decodes delimited records from a byte stream. Bytes are pulled
// from the source only when Next is called, so at most one record is held in
// memory at a time. A Parser consumes its source and cannot be restarted.
type Parser struct {
	r    *csv.Reader
	tape *rawTape
	seen bool
	err  error
}

// NewParser returns a Parser reading from src.
func NewParser(src io.Reader) *Parser {
	tape := &rawTape{src: src}
	r := csv.NewReader(tape)
	r.FieldsPerRecord = -1 // field count is checked per record by Decode
	r.ReuseRecord = true
	return &Parser{r: r, tape: tape}
}

// Next returns the outcome for the next record. It returns io.EOF at the end of
// input and an error wrapping ErrStream if the source fails; after either, every
// further call returns the same error.
func (p *Parser) Next() (domain.DecodeOutcome, error) {
	if p.err != nil {
		return domain.DecodeOutcome{}, p.err
	}

	for {
		fields, err := p.r.Read()
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				p.seen = true
				return domain.DecodeOutcome{Err: &domain.DecodeError{
					Line:   parseErr.StartLine,
					Reason: parseErr.Err.Error(),
					Raw:    p.tape.cut(p.r.InputOffset()),
				}}, nil
			}
			if errors.Is(err, io.EOF) {
				p.err = io.EOF
			} else {
				p.err = fmt.Errorf("%w: %w", ErrStream, err)
			}
			return domain.DecodeOutcome{}, p.err
		}

		line, _ := p.r.FieldPos(0)
		raw := p.tape.cut(p.r.InputOffset())
		if !p.seen {
			p.seen = true
			if IsHeader(fields) {
				continue
			}
		}

		rec, decodeErr := Decode(fields)
		if decodeErr != nil {
			decodeErr.Line = line
			decodeErr.Raw = raw
			return domain.DecodeOutcome{Err: decodeErr}, nil
		}
		return domain.DecodeOutcome{Record: rec}, nil
	}
}

// rawTape remembers the bytes pulled from the source that have not yet been
// attributed to a record, so a failed record can report its original text.
// It holds at most one record plus the csv reader's read-ahead.
type rawTape struct {
	src  io.Reader
	buf  []byte
	base int64 // source offset of buf[0]
}

func (t *rawTape) Read(b []byte) (int, error) {
	n, err := t.src.Read(b)
	t.buf = append(t.buf, b[:n]...)
	return n, err
}

// cut returns the text up to source offset end without the surrounding line
// breaks and forgets it.
func (t *rawTape) cut(end int64) string {
	n := int(end - t.base)
	if n > len(t.buf) {
		n = len(t.buf)
	}
	if n < 0 {
		n = 0
	}
	raw := string(t.buf[:n])
	t.buf = t.buf[:copy(t.buf, t.buf[n:])]
	t.base += int64(n)
	return strings.Trim(raw, "\r\n")
}
