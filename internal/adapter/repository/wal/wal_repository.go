package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/accesslog/internal/domain"
)

const (
	segmentPrefix = "segment-"
	segmentSuffix = ".log"
	filePerm      = 0644

	// maxLineSize bounds one encoded record during replay.
	maxLineSize = 4 << 20
)

// ErrFull is returned when a write would push the WAL over its disk budget.
var ErrFull = errors.New("wal: max total size exceeded")

// WALRepository implements a segmented, file-based Write-Ahead Log of
// buffered records. Each line of a segment is one JSON-encoded record.
type WALRepository struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	drainMu sync.Mutex

	mu             sync.Mutex
	currentSegment *os.File
	currentSize    int64
	totalSize      int64
	lastSeq        int64
}

// NewWALRepository opens (or creates) the WAL in dir.
func NewWALRepository(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*WALRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory %s: %w", dir, err)
	}

	w := &WALRepository{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "wal_repository"),
	}

	total, err := w.calculateTotalSize()
	if err != nil {
		return nil, fmt.Errorf("failed to size WAL directory: %w", err)
	}
	w.totalSize = total

	if err := w.openLatestSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends a record to the current segment and rotates it once full.
func (w *WALRepository) Write(ctx context.Context, rec domain.BufferedRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record for WAL: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.totalSize+int64(len(data)) > w.maxTotalSize {
		return fmt.Errorf("%w (%d + %d > %d)", ErrFull, w.totalSize, len(data), w.maxTotalSize)
	}

	if w.currentSegment == nil {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	n, err := w.currentSegment.Write(data)
	w.currentSize += int64(n)
	w.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to WAL segment: %w", err)
	}

	if w.currentSize >= w.maxSegmentSize {
		if err := w.rotate(); err != nil {
			w.logger.Error("Failed to rotate WAL segment", "error", err)
		}
	}
	return nil
}

// Drain hands every record written before the call to handler, oldest first,
// and deletes each segment once all of its records were handled. Writes that
// arrive while draining land in a fresh segment this drain never touches.
//
// Lines that cannot be decoded are skipped. A handler error stops the drain
// and keeps the unfinished segment whole, so its records that were already
// handled are delivered again by the next drain.
func (w *WALRepository) Drain(ctx context.Context, handler func(rec domain.BufferedRecord) error) (int, error) {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	segments, err := w.sealSegments()
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		return 0, nil
	}
	w.logger.Info("Starting WAL drain", "segment_count", len(segments))

	drained := 0
	for _, segmentPath := range segments {
		n, err := replaySegment(ctx, segmentPath, handler, w.logger)
		drained += n
		if err != nil {
			w.logger.Error("WAL drain stopped", "segment", segmentPath, "drained", drained, "error", err)
			return drained, err
		}
		if err := w.removeSegment(segmentPath); err != nil {
			return drained, err
		}
	}

	w.logger.Info("WAL drain completed", "drained", drained)
	return drained, nil
}

// sealSegments rotates away from the current segment and returns every
// segment that existed before the rotation.
func (w *WALRepository) sealSegments() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.totalSize == 0 {
		return nil, nil
	}
	segments, err := w.getSortedSegments()
	if err != nil {
		return nil, err
	}
	if err := w.rotate(); err != nil {
		return nil, err
	}
	return segments, nil
}

func (w *WALRepository) removeSegment(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat drained segment %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove drained segment %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalSize = max(w.totalSize-info.Size(), 0)
	return nil
}

func replaySegment(ctx context.Context, path string, handler func(domain.BufferedRecord) error, logger *slog.Logger) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	n := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var rec domain.BufferedRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			logger.Warn("Failed to unmarshal record from WAL, skipping", "error", err, "segment", path)
			continue
		}
		if err := handler(rec); err != nil {
			return n, fmt.Errorf("replay handler failed: %w", err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return n, nil
}

// Size returns the bytes currently held on disk.
func (w *WALRepository) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalSize
}

// Close ensures the current segment is closed gracefully.
func (w *WALRepository) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeCurrent()
}

func (w *WALRepository) closeCurrent() error {
	if w.currentSegment == nil {
		return nil
	}
	err := w.currentSegment.Close()
	w.currentSegment = nil
	return err
}

func (w *WALRepository) rotate() error {
	if w.currentSegment != nil {
		if err := w.currentSegment.Sync(); err != nil {
			w.logger.Error("Failed to sync WAL segment before rotating", "error", err)
		}
		if err := w.closeCurrent(); err != nil {
			w.logger.Error("Failed to close WAL segment before rotating", "error", err)
		}
	}

	// Zero padding keeps lexical order equal to creation order.
	seq := max(time.Now().UnixNano(), w.lastSeq+1)
	w.lastSeq = seq
	segmentName := fmt.Sprintf("%s%020d%s", segmentPrefix, seq, segmentSuffix)
	path := filepath.Join(w.dir, segmentName)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create new WAL segment %s: %w", path, err)
	}

	w.currentSegment = f
	w.currentSize = 0
	w.logger.Debug("Rotated to new WAL segment", "path", path)
	return nil
}

func (w *WALRepository) openLatestSegment() error {
	segments, err := w.getSortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return w.rotate()
	}

	latestSegmentPath := segments[len(segments)-1]
	w.lastSeq = segmentSeq(latestSegmentPath)
	stat, err := os.Stat(latestSegmentPath)
	if err != nil {
		return fmt.Errorf("failed to stat latest segment %s: %w", latestSegmentPath, err)
	}
	if stat.Size() >= w.maxSegmentSize {
		return w.rotate()
	}

	f, err := os.OpenFile(latestSegmentPath, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latestSegmentPath, err)
	}

	w.currentSegment = f
	w.currentSize = stat.Size()
	w.logger.Info("Opened existing WAL segment", "path", latestSegmentPath, "size", w.currentSize)
	return nil
}

func (w *WALRepository) getSortedSegments() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if isSegment(entry) {
			segments = append(segments, filepath.Join(w.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (w *WALRepository) calculateTotalSize() (int64, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, err
	}
	var totalSize int64
	for _, entry := range entries {
		if !isSegment(entry) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		totalSize += info.Size()
	}
	return totalSize, nil
}

func isSegment(entry os.DirEntry) bool {
	name := entry.Name()
	return !entry.IsDir() && strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix)
}

func segmentSeq(path string) int64 {
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), segmentPrefix), segmentSuffix)
	seq, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}
