package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/V4T54L/accesslog/internal/domain"
)

func TestNewNormalizesServer(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"", "http://localhost:3080"},
		{"localhost:3080", "http://localhost:3080"},
		{"http://logs.internal:8080/", "http://logs.internal:8080"},
		{"https://logs.example.com", "https://logs.example.com"},
	}
	for _, tt := range tests {
		if got := New(tt.server, nil).BaseURL(); got != tt.want {
			t.Errorf("New(%q).BaseURL() = %q, want %q", tt.server, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"json": FormatJSON, "CSV": FormatCSV, " Json ": FormatJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected an error for xml")
	}
}

func TestPostLog(t *testing.T) {
	var got domain.LogRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/logs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rec := domain.LogRecord{UserAgent: "UA1", ResponseTime: 100, Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := New(srv.URL, nil).PostLog(context.Background(), rec); err != nil {
		t.Fatalf("PostLog failed: %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("posted record mismatch (-want +got):\n%s", diff)
	}
}

func TestPostLogAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Bad Request: response_time must be non-negative", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := New(srv.URL, nil).PostLog(context.Background(), domain.LogRecord{UserAgent: "UA1", ResponseTime: -1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || !strings.Contains(apiErr.Body, "non-negative") {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestUpload(t *testing.T) {
	var names, bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		if err != nil {
			t.Errorf("expected multipart body: %v", err)
			return
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("NextPart failed: %v", err)
				return
			}
			if mt, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type")); mt != "text/csv" {
				t.Errorf("unexpected part type %q", mt)
			}
			b, _ := io.ReadAll(part)
			names = append(names, part.FileName())
			bodies = append(bodies, string(b))
		}
		io.WriteString(w, "3")
	}))
	defer srv.Close()

	n, err := New(srv.URL, nil).Upload(context.Background(),
		File{Name: "a.csv", Body: strings.NewReader("UA1,1,2020-01-01T00:00:00Z\n")},
		File{Name: "b.csv", Body: strings.NewReader("UA2,2,2020-01-01T00:00:01Z\nUA3,3,2020-01-01T00:00:02Z\n")},
	)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 inserted, got %d", n)
	}
	if diff := cmp.Diff([]string{"a.csv", "b.csv"}, names); diff != "" {
		t.Errorf("part names mismatch (-want +got):\n%s", diff)
	}
	if len(bodies) != 2 || !strings.HasPrefix(bodies[1], "UA2") {
		t.Errorf("unexpected part bodies: %q", bodies)
	}
}

func TestUploadUnexpectedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	if _, err := New(srv.URL, nil).Upload(context.Background(), File{Name: "a.csv", Body: strings.NewReader("x")}); err == nil {
		t.Error("expected an error for a non-integer response")
	}
}

func TestFetch(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		io.WriteString(w, "payload")
	}))
	defer srv.Close()
	c := New(srv.URL, nil)

	tests := []struct {
		name      string
		format    Format
		tr        domain.TimeRange
		wantPath  string
		wantQuery string
	}{
		{"JSON unbounded", FormatJSON, domain.TimeRange{}, "/logs", ""},
		{"CSV from", FormatCSV, domain.TimeRange{From: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}, "/csv", "from=2020-01-01T00%3A00%3A00Z"},
		{
			"JSON closed range in another zone",
			FormatJSON,
			domain.TimeRange{
				From:  time.Date(2020, 1, 1, 2, 0, 0, 0, time.FixedZone("", 2*3600)),
				Until: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
			},
			"/logs",
			"from=2020-01-01T00%3A00%3A00Z&until=2020-01-02T00%3A00%3A00Z",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := c.Fetch(context.Background(), tt.format, tt.tr, &out); err != nil {
				t.Fatalf("Fetch failed: %v", err)
			}
			if gotPath != tt.wantPath || gotQuery != tt.wantQuery {
				t.Errorf("requested %s?%s, want %s?%s", gotPath, gotQuery, tt.wantPath, tt.wantQuery)
			}
			if out.String() != "payload" {
				t.Errorf("unexpected output %q", out.String())
			}
		})
	}
}

func TestDefaultClientHasNoOverallTimeout(t *testing.T) {
	c := New("localhost:1", nil)
	if c.http.Timeout != 0 {
		t.Errorf("expected no overall timeout, got %v", c.http.Timeout)
	}
	transport, ok := c.http.Transport.(*http.Transport)
	if !ok || transport.ResponseHeaderTimeout != DefaultResponseHeaderTimeout {
		t.Errorf("expected the response header timeout on the transport, got %#v", c.http.Transport)
	}
}

// slowReader hands out its chunks with a pause before each one.
type slowReader struct {
	chunks []string
	pause  time.Duration
}

func (r *slowReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	time.Sleep(r.pause)
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestUploadOutlastsRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, "3")
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.requestTimeout = 20 * time.Millisecond

	body := &slowReader{
		chunks: []string{"UA1,1,2020-01-01T00:00:00Z\n", "UA2,2,2020-01-01T00:00:01Z\n", "UA3,3,2020-01-01T00:00:02Z\n"},
		pause:  30 * time.Millisecond,
	}
	n, err := c.Upload(context.Background(), File{Name: "slow.csv", Body: body})
	if err != nil {
		t.Fatalf("expected a slow upload to finish, got %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3, got %d", n)
	}
}

func TestPostLogRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.requestTimeout = 20 * time.Millisecond

	err := c.PostLog(context.Background(), domain.LogRecord{UserAgent: "UA1", ResponseTime: 1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the post to time out, got %v", err)
	}
}
