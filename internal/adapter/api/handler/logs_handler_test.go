package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/V4T54L/accesslog/internal/domain"
	"github.com/V4T54L/accesslog/internal/usecase"
)

// MockLogIngester is a mock implementation of LogIngester.
type MockLogIngester struct {
	IngestFunc func(ctx context.Context, rec *domain.LogRecord) error
	Records    []domain.LogRecord
}

func (m *MockLogIngester) Ingest(ctx context.Context, rec *domain.LogRecord) error {
	m.Records = append(m.Records, *rec)
	if m.IngestFunc != nil {
		return m.IngestFunc(ctx, rec)
	}
	return nil
}

func TestLogsHandler_Ingest(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name           string
		contentType    string
		body           string
		mockIngestErr  error
		maxSize        int64
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Valid record",
			contentType:    "application/json",
			body:           `{"user_agent": "curl/8.0", "response_time": 12, "timestamp": "2020-01-01T00:00:00Z"}`,
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "Timestamp is optional",
			contentType:    "application/json; charset=utf-8",
			body:           `{"user_agent": "curl/8.0", "response_time": 12}`,
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "Unsupported Content-Type",
			contentType:    "text/plain",
			body:           `hello`,
			expectedStatus: http.StatusUnsupportedMediaType,
			expectedBody:   "Unsupported Media Type: text/plain\n",
		},
		{
			name:           "Bad JSON",
			contentType:    "application/json",
			body:           `{"user_agent": "x"`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Bad Request: Failed to decode JSON\n",
		},
		{
			name:           "Unknown field",
			contentType:    "application/json",
			body:           `{"user_agent": "x", "response_time": 1, "level": "info"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Bad Request: Failed to decode JSON\n",
		},
		{
			name:           "Missing user_agent",
			contentType:    "application/json",
			body:           `{"response_time": 1}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Bad Request: user_agent is required\n",
		},
		{
			name:           "Missing response_time",
			contentType:    "application/json",
			body:           `{"user_agent": "x"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Bad Request: response_time is required\n",
		},
		{
			name:           "Negative response_time",
			contentType:    "application/json",
			body:           `{"user_agent": "x", "response_time": -5}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Bad Request: response_time must not be negative\n",
		},
		{
			name:           "Bad timestamp",
			contentType:    "application/json",
			body:           `{"user_agent": "x", "response_time": 1, "timestamp": "soon"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Bad Request: invalid timestamp \"soon\"\n",
		},
		{
			name:           "Trailing data",
			contentType:    "application/json",
			body:           `{"user_agent": "x", "response_time": 1} {}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Bad Request: body must hold a single JSON object\n",
		},
		{
			name:           "Ingest Use Case Error",
			contentType:    "application/json",
			body:           `{"user_agent": "x", "response_time": 1}`,
			mockIngestErr:  errors.New("internal buffer error"),
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "Internal Server Error\n",
		},
		{
			name:           "Payload Too Large",
			contentType:    "application/json",
			body:           `{"user_agent": "this payload is definitely too large for the test limit", "response_time": 1}`,
			maxSize:        50,
			expectedStatus: http.StatusRequestEntityTooLarge,
			expectedBody:   "http: request body too large\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockUseCase := &MockLogIngester{
				IngestFunc: func(ctx context.Context, rec *domain.LogRecord) error {
					return tt.mockIngestErr
				},
			}
			maxSize := int64(1024)
			if tt.maxSize > 0 {
				maxSize = tt.maxSize
			}
			handler := NewLogsHandler(mockUseCase, &MockQuerier{}, logger, maxSize)

			req := httptest.NewRequest(http.MethodPost, "/logs", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rr := httptest.NewRecorder()

			handler.Ingest(rr, req)

			if status := rr.Code; status != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", status, tt.expectedStatus)
			}
			if body := rr.Body.String(); body != tt.expectedBody {
				t.Errorf("handler returned unexpected body: got %q want %q", body, tt.expectedBody)
			}
		})
	}

	t.Run("Record reaches the use case", func(t *testing.T) {
		mockUseCase := &MockLogIngester{}
		handler := NewLogsHandler(mockUseCase, &MockQuerier{}, logger, 1024)

		req := httptest.NewRequest(http.MethodPost, "/logs", bytes.NewBufferString(`{"user_agent": "UA", "response_time": 7, "timestamp": "2020-01-01T01:00:00+01:00"}`))
		req.Header.Set("Content-Type", "application/json")
		handler.Ingest(httptest.NewRecorder(), req)

		want := domain.LogRecord{UserAgent: "UA", ResponseTime: 7, Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
		if diff := cmp.Diff([]domain.LogRecord{want}, mockUseCase.Records); diff != "" {
			t.Errorf("records mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Invalid record from the use case", func(t *testing.T) {
		mockUseCase := &MockLogIngester{IngestFunc: func(context.Context, *domain.LogRecord) error { return usecase.ErrInvalidRecord }}
		handler := NewLogsHandler(mockUseCase, &MockQuerier{}, logger, 1024)

		req := httptest.NewRequest(http.MethodPost, "/logs", bytes.NewBufferString(`{"user_agent": "UA", "response_time": 7}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		handler.Ingest(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
		}
	})
}

func TestLogsHandler_List(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("JSON array", func(t *testing.T) {
		q := &MockQuerier{QueryFunc: func(context.Context, domain.TimeRange) ([]domain.LogRecord, error) {
			return []domain.LogRecord{{UserAgent: "UA1", ResponseTime: 100, Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}}, nil
		}}
		h := NewLogsHandler(&MockLogIngester{}, q, logger, 1024)

		rr := httptest.NewRecorder()
		h.List(rr, httptest.NewRequest(http.MethodGet, "/logs?until=2020-01-02T00:00:00Z", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("handler returned wrong status code: got %v", rr.Code)
		}
		want := `[{"user_agent":"UA1","response_time":100,"timestamp":"2020-01-01T00:00:00Z"}]`
		if body := rr.Body.String(); body != want {
			t.Errorf("handler returned unexpected body: got %q want %q", body, want)
		}
		if !q.LastRange.From.IsZero() {
			t.Errorf("expected an open lower bound, got %v", q.LastRange.From)
		}
	})

	t.Run("Empty result is an empty array", func(t *testing.T) {
		h := NewLogsHandler(&MockLogIngester{}, &MockQuerier{}, logger, 1024)

		rr := httptest.NewRecorder()
		h.List(rr, httptest.NewRequest(http.MethodGet, "/logs", nil))

		if body := rr.Body.String(); body != "[]" {
			t.Errorf("handler returned unexpected body: got %q want %q", body, "[]")
		}
	})
}
