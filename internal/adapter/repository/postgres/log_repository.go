package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/V4T54L/accesslog/internal/domain"
)

const logsTableName = "logs"

// LogRepository implements domain.RecordGateway for PostgreSQL.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLogRepository creates a new PostgreSQL log repository.
func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

// InsertBatch writes records in a single transaction using the COPY protocol.
// Either every record is stored or none is.
func (r *LogRepository) InsertBatch(ctx context.Context, records []domain.LogRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer txn.Rollback() // Rollback is a no-op if Commit() is called

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(logsTableName, "user_agent", "response_time", "timestamp"))
	if err != nil {
		return 0, fmt.Errorf("prepare copy: %w", err)
	}

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.UserAgent, rec.ResponseTime, rec.Timestamp.UTC()); err != nil {
			// Close the statement to avoid connection issues
			_ = stmt.Close()
			return 0, fmt.Errorf("copy record: %w", err)
		}
	}

	// An Exec without arguments flushes the buffered COPY data.
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return 0, fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("close copy: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	r.logger.Debug("inserted record batch", "count", len(records))
	return len(records), nil
}

// QueryRange returns the records with from <= timestamp < until in insertion order.
func (r *LogRepository) QueryRange(ctx context.Context, tr domain.TimeRange) ([]domain.LogRecord, error) {
	records := []domain.LogRecord{}
	err := r.ScanRange(ctx, tr, func(rec domain.LogRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ScanRange streams the records with from <= timestamp < until to fn in
// insertion order, one row at a time.
func (r *LogRepository) ScanRange(ctx context.Context, tr domain.TimeRange, fn func(domain.LogRecord) error) error {
	query, args := buildRangeQuery(tr)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec domain.LogRecord
		if err := rows.Scan(&rec.UserAgent, &rec.ResponseTime, &rec.Timestamp); err != nil {
			return fmt.Errorf("scan log: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate logs: %w", err)
	}
	return nil
}

func buildRangeQuery(tr domain.TimeRange) (string, []any) {
	var (
		where []string
		args  []any
	)
	if !tr.From.IsZero() {
		args = append(args, tr.From.UTC())
		where = append(where, fmt.Sprintf(`"timestamp" >= $%d`, len(args)))
	}
	if !tr.Until.IsZero() {
		args = append(args, tr.Until.UTC())
		where = append(where, fmt.Sprintf(`"timestamp" < $%d`, len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT user_agent, response_time, "timestamp" FROM ` + logsTableName)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY id")
	return b.String(), args
}
