package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/V4T54L/accesslog/internal/adapter/codec"
	"github.com/V4T54L/accesslog/internal/adapter/metrics"
	"github.com/V4T54L/accesslog/internal/domain"
	"github.com/V4T54L/accesslog/internal/domain/mocks"
)

// attachments is an in-memory AttachmentSource.
type attachments struct {
	items []domain.Attachment
	err   error // returned after the items instead of io.EOF
	pos   int
}

func (a *attachments) Next() (domain.Attachment, error) {
	if a.pos >= len(a.items) {
		if a.err != nil {
			return domain.Attachment{}, a.err
		}
		return domain.Attachment{}, io.EOF
	}
	att := a.items[a.pos]
	a.pos++
	return att, nil
}

func csvAttachment(name, body string) domain.Attachment {
	return domain.Attachment{Name: name, MediaType: "text/csv", Body: strings.NewReader(body)}
}

// wellFormed returns n well-formed CSV lines.
func wellFormed(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "UA%d,%d,2020-01-01T00:00:%02dZ\n", i, i, i%60)
	}
	return b.String()
}

func TestIngestCSVUseCase_Ingest(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("End to end upload and range query", func(t *testing.T) {
		gateway := &mocks.MockRecordGateway{}
		uc := NewIngestCSVUseCase(gateway, logger, nil, 1000)

		body := "UA1,100,2020-01-01T00:00:00Z\nbad-line\nUA2,200,2020-01-01T00:00:01Z"
		report, err := uc.Ingest(context.Background(), &attachments{items: []domain.Attachment{csvAttachment("logs.csv", body)}})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if report.TotalInserted != 2 {
			t.Errorf("expected 2 inserted, got %d", report.TotalInserted)
		}
		if diff := cmp.Diff([]int{2}, gateway.BatchSizes()); diff != "" {
			t.Fatalf("batch sizes mismatch (-want +got):\n%s", diff)
		}

		want := []domain.LogRecord{
			{UserAgent: "UA1", ResponseTime: 100, Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
			{UserAgent: "UA2", ResponseTime: 200, Timestamp: time.Date(2020, 1, 1, 0, 0, 1, 0, time.UTC)},
		}
		if diff := cmp.Diff(want, gateway.Batches[0]); diff != "" {
			t.Errorf("committed batch mismatch (-want +got):\n%s", diff)
		}

		got, err := NewQueryLogsUseCase(gateway).Query(context.Background(), domain.TimeRange{
			From:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			Until: time.Date(2020, 1, 1, 0, 0, 2, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("expected no query error, got %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("range query mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Batch boundaries", func(t *testing.T) {
		tests := []struct {
			name      string
			records   int
			wantSizes []int
		}{
			{"Empty attachment", 0, []int{}},
			{"Exactly one batch", 1000, []int{1000}},
			{"One over", 1001, []int{1000, 1}},
			{"Several batches", 2345, []int{1000, 1000, 345}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				gateway := &mocks.MockRecordGateway{}
				uc := NewIngestCSVUseCase(gateway, logger, nil, 1000)

				report, err := uc.Ingest(context.Background(), &attachments{items: []domain.Attachment{csvAttachment("a.csv", wellFormed(tt.records))}})
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if report.TotalInserted != tt.records {
					t.Errorf("expected %d inserted, got %d", tt.records, report.TotalInserted)
				}
				if diff := cmp.Diff(tt.wantSizes, gateway.BatchSizes()); diff != "" {
					t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
				}
			})
		}
	})

	t.Run("Malformed records do not shift boundaries", func(t *testing.T) {
		var b strings.Builder
		lines := strings.Split(strings.TrimSuffix(wellFormed(1000), "\n"), "\n")
		for i, line := range lines {
			b.WriteString(line + "\n")
			if i%2 == 0 {
				b.WriteString("not,a,record\n")
			}
		}
		gateway := &mocks.MockRecordGateway{}
		m := metrics.NewIngestMetrics(prometheus.NewRegistry())
		uc := NewIngestCSVUseCase(gateway, logger, m, 1000)

		report, err := uc.Ingest(context.Background(), &attachments{items: []domain.Attachment{csvAttachment("a.csv", b.String())}})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if report.TotalInserted != 1000 {
			t.Errorf("expected 1000 inserted, got %d", report.TotalInserted)
		}
		if diff := cmp.Diff([]int{1000}, gateway.BatchSizes()); diff != "" {
			t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
		}
		if got := testutil.ToFloat64(m.RecordsTotal.WithLabelValues("malformed")); got != 500 {
			t.Errorf("expected 500 malformed records counted, got %v", got)
		}
	})

	t.Run("Non-CSV attachment is skipped", func(t *testing.T) {
		gateway := &mocks.MockRecordGateway{}
		uc := NewIngestCSVUseCase(gateway, logger, nil, 1000)

		plain := domain.Attachment{Name: "notes.txt", MediaType: "text/plain", Body: strings.NewReader(wellFormed(3))}
		report, err := uc.Ingest(context.Background(), &attachments{items: []domain.Attachment{plain}})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if report.TotalInserted != 0 || gateway.Calls != 0 {
			t.Errorf("expected no persistence calls, got %d calls and %d inserted", gateway.Calls, report.TotalInserted)
		}
	})

	t.Run("Counts are summed across attachments", func(t *testing.T) {
		gateway := &mocks.MockRecordGateway{}
		uc := NewIngestCSVUseCase(gateway, logger, nil, 1000)

		items := []domain.Attachment{
			csvAttachment("a.csv", wellFormed(1200)),
			{Name: "b.json", MediaType: "application/json", Body: strings.NewReader(`{}`)},
			{Name: "c.csv", MediaType: "text/csv; charset=utf-8", Body: strings.NewReader(wellFormed(30))},
		}
		report, err := uc.Ingest(context.Background(), &attachments{items: items})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if report.TotalInserted != 1230 {
			t.Errorf("expected 1230 inserted, got %d", report.TotalInserted)
		}
		if diff := cmp.Diff([]int{1000, 200, 30}, gateway.BatchSizes()); diff != "" {
			t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Insert failure keeps earlier batches", func(t *testing.T) {
		gateway := &mocks.MockRecordGateway{InsertErr: errors.New("database is down"), FailOnCall: 2}
		uc := NewIngestCSVUseCase(gateway, logger, nil, 1000)

		items := []domain.Attachment{
			csvAttachment("a.csv", wellFormed(2500)),
			csvAttachment("b.csv", wellFormed(10)),
		}
		report, err := uc.Ingest(context.Background(), &attachments{items: items})
		if err == nil {
			t.Fatal("expected an error, got nil")
		}
		if !errors.Is(err, gateway.InsertErr) {
			t.Errorf("expected the insert error to be wrapped, got %v", err)
		}
		if report.TotalInserted != 1000 {
			t.Errorf("expected 1000 inserted before the failure, got %d", report.TotalInserted)
		}
		if gateway.Calls != 2 {
			t.Errorf("expected ingestion to stop after the failed call, got %d calls", gateway.Calls)
		}
		if diff := cmp.Diff([]int{1000}, gateway.BatchSizes()); diff != "" {
			t.Errorf("committed batches mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Fatal stream error aborts the attachment", func(t *testing.T) {
		gateway := &mocks.MockRecordGateway{}
		uc := NewIngestCSVUseCase(gateway, logger, nil, 1000)

		body := io.MultiReader(strings.NewReader(wellFormed(1500)), iotest.ErrReader(errors.New("connection reset")))
		items := []domain.Attachment{
			{Name: "a.csv", MediaType: "text/csv", Body: body},
			csvAttachment("b.csv", wellFormed(10)),
		}
		report, err := uc.Ingest(context.Background(), &attachments{items: items})
		if !errors.Is(err, codec.ErrStream) {
			t.Fatalf("expected ErrStream, got %v", err)
		}
		if report.TotalInserted != 1000 {
			t.Errorf("expected 1000 inserted before the failure, got %d", report.TotalInserted)
		}
		if diff := cmp.Diff([]int{1000}, gateway.BatchSizes()); diff != "" {
			t.Errorf("committed batches mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Attachment source error", func(t *testing.T) {
		gateway := &mocks.MockRecordGateway{}
		uc := NewIngestCSVUseCase(gateway, logger, nil, 1000)

		src := &attachments{items: []domain.Attachment{csvAttachment("a.csv", wellFormed(5))}, err: errors.New("multipart: NextPart: EOF")}
		report, err := uc.Ingest(context.Background(), src)
		if !errors.Is(err, codec.ErrStream) {
			t.Fatalf("expected ErrStream, got %v", err)
		}
		if report.TotalInserted != 5 {
			t.Errorf("expected 5 inserted before the failure, got %d", report.TotalInserted)
		}
	})

	t.Run("Canceled context stops before persistence", func(t *testing.T) {
		gateway := &mocks.MockRecordGateway{}
		uc := NewIngestCSVUseCase(gateway, logger, nil, 1000)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := uc.Ingest(ctx, &attachments{items: []domain.Attachment{csvAttachment("a.csv", wellFormed(5))}})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if gateway.Calls != 0 {
			t.Errorf("expected no persistence calls, got %d", gateway.Calls)
		}
	})

	t.Run("Resubmission is not deduplicated", func(t *testing.T) {
		gateway := &mocks.MockRecordGateway{}
		uc := NewIngestCSVUseCase(gateway, logger, nil, 1000)

		total := 0
		for i := 0; i < 2; i++ {
			report, err := uc.Ingest(context.Background(), &attachments{items: []domain.Attachment{csvAttachment("a.csv", wellFormed(10))}})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			total += report.TotalInserted
		}
		if total != 20 || len(gateway.Batches) != 2 {
			t.Errorf("expected two commits of 10, got %d inserted in %d batches", total, len(gateway.Batches))
		}
	})
}

func TestIsCSVMediaType(t *testing.T) {
	tests := map[string]bool{
		"text/csv":                true,
		"TEXT/CSV":                true,
		"text/csv; charset=utf-8": true,
		"text/plain":              false,
		"application/json":        false,
		"":                        false,
		"text/csv; =":             false,
	}
	for declared, want := range tests {
		if got := IsCSVMediaType(declared); got != want {
			t.Errorf("IsCSVMediaType(%q) = %v, want %v", declared, got, want)
		}
	}
}
