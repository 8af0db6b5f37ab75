package metrics

import (
	"github.com/mileusna/useragent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/V4T54L/accesslog/internal/domain"
)

// IngestMetrics holds all Prometheus metrics for the access-log service.
// A nil *IngestMetrics is valid and records nothing.
type IngestMetrics struct {
	RecordsTotal      *prometheus.CounterVec
	AttachmentsTotal  *prometheus.CounterVec
	BatchesTotal      prometheus.Counter
	InsertedTotal     prometheus.Counter
	IngestErrorsTotal *prometheus.CounterVec
	BatchSize         prometheus.Histogram
	RecordsByAgent    *prometheus.CounterVec
	BufferedTotal     *prometheus.CounterVec
	WALActive         prometheus.Gauge
}

// NewIngestMetrics initializes the metrics and registers them with reg.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	f := promauto.With(reg)
	return &IngestMetrics{
		RecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesslog",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Total number of decoded upload records by status.",
		}, []string{"status"}), // status: ok, malformed
		AttachmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesslog",
			Subsystem: "ingest",
			Name:      "attachments_total",
			Help:      "Total number of upload attachments by status.",
		}, []string{"status"}), // status: processed, skipped, failed
		BatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "accesslog",
			Subsystem: "ingest",
			Name:      "batches_committed_total",
			Help:      "Total number of batches committed to the store.",
		}),
		InsertedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "accesslog",
			Subsystem: "ingest",
			Name:      "records_inserted_total",
			Help:      "Total number of records committed to the store.",
		}),
		IngestErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesslog",
			Subsystem: "ingest",
			Name:      "errors_total",
			Help:      "Total number of aborted ingestion calls by stage.",
		}, []string{"stage"}), // stage: stream, insert, buffer
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "accesslog",
			Subsystem: "ingest",
			Name:      "batch_size",
			Help:      "Number of records per committed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
		}),
		RecordsByAgent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesslog",
			Subsystem: "ingest",
			Name:      "records_by_agent_total",
			Help:      "Committed records by user-agent family.",
		}, []string{"agent"}),
		BufferedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesslog",
			Subsystem: "buffer",
			Name:      "records_total",
			Help:      "Total number of single records accepted by destination.",
		}, []string{"destination"}), // destination: redis, wal, direct
		WALActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "accesslog",
			Subsystem: "buffer",
			Name:      "wal_active_gauge",
			Help:      "Indicates if the Write-Ahead Log is currently active (1 for active, 0 for inactive).",
		}),
	}
}

// ObserveDecoded counts decoded and malformed upload records.
func (m *IngestMetrics) ObserveDecoded(ok, malformed int) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues("ok").Add(float64(ok))
	m.RecordsTotal.WithLabelValues("malformed").Add(float64(malformed))
}

// ObserveAttachment counts one attachment with the given status.
func (m *IngestMetrics) ObserveAttachment(status string) {
	if m == nil {
		return
	}
	m.AttachmentsTotal.WithLabelValues(status).Inc()
}

// ObserveBatch records a committed batch.
func (m *IngestMetrics) ObserveBatch(recs []domain.LogRecord, inserted int) {
	if m == nil {
		return
	}
	m.BatchesTotal.Inc()
	m.InsertedTotal.Add(float64(inserted))
	m.BatchSize.Observe(float64(len(recs)))
	for _, rec := range recs {
		m.RecordsByAgent.WithLabelValues(AgentFamily(rec.UserAgent)).Inc()
	}
}

// ObserveError counts an aborted ingestion at stage.
func (m *IngestMetrics) ObserveError(stage string) {
	if m == nil {
		return
	}
	m.IngestErrorsTotal.WithLabelValues(stage).Inc()
}

// ObserveBuffered counts one single record accepted into destination.
func (m *IngestMetrics) ObserveBuffered(destination string) {
	if m == nil {
		return
	}
	m.BufferedTotal.WithLabelValues(destination).Inc()
}

// SetWALActive flips the WAL gauge.
func (m *IngestMetrics) SetWALActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.WALActive.Set(1)
	} else {
		m.WALActive.Set(0)
	}
}

// AgentFamily maps a user-agent string to a small fixed set of label values.
func AgentFamily(ua string) string {
	if ua == "" {
		return "unknown"
	}
	parsed := useragent.Parse(ua)
	if parsed.Bot {
		return "bot"
	}
	switch parsed.Name {
	case "Chrome", "Firefox", "Safari", "Edge", "Opera":
		return parsed.Name
	default:
		return "other"
	}
}
