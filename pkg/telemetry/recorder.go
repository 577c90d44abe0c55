// Package telemetry records ingestion and query outcomes to Parquet files
// for offline analysis. Recording is buffered and best-effort: a failed
// flush is logged and never propagates into the pipeline.
package telemetry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
)

// IngestRecord is one document ingestion outcome.
type IngestRecord struct {
	ID         string    `parquet:"id"`
	Timestamp  time.Time `parquet:"timestamp"`
	DocumentID string    `parquet:"document_id"`
	Units      int       `parquet:"units"`
	Entities   int       `parquet:"entities"`
	Relations  int       `parquet:"relations"`
	DurationMS int64     `parquet:"duration_ms"`
	Tier       string    `parquet:"tier"`
	Success    bool      `parquet:"success"`
	Error      string    `parquet:"error"`
}

// QueryRecord is one retrieval outcome.
type QueryRecord struct {
	ID             string    `parquet:"id"`
	Timestamp      time.Time `parquet:"timestamp"`
	Query          string    `parquet:"query"`
	EvidenceCount  int       `parquet:"evidence_count"`
	DegradedStages string    `parquet:"degraded_stages"`
	DurationMS     int64     `parquet:"duration_ms"`
}

// Recorder buffers records and writes one Parquet file per flush.
type Recorder struct {
	outputDir string
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	ingests []IngestRecord
	queries []QueryRecord
}

// NewRecorder creates a recorder writing under outputDir.
func NewRecorder(outputDir string, batchSize int, logger *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		outputDir: outputDir,
		batchSize: batchSize,
		logger:    logger,
		ingests:   make([]IngestRecord, 0, batchSize),
		queries:   make([]QueryRecord, 0, batchSize),
	}, nil
}

// RecordIngest buffers one ingestion outcome.
func (r *Recorder) RecordIngest(rec IngestRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingests = append(r.ingests, rec)
	if len(r.ingests) >= r.batchSize {
		r.flushIngests()
	}
}

// RecordQuery buffers one query outcome.
func (r *Recorder) RecordQuery(rec QueryRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, rec)
	if len(r.queries) >= r.batchSize {
		r.flushQueries()
	}
}

// Flush writes any buffered records immediately.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushIngests()
	r.flushQueries()
}

// Close flushes and releases the recorder.
func (r *Recorder) Close() error {
	r.Flush()
	return nil
}

// Callers must hold r.mu.
func (r *Recorder) flushIngests() {
	if len(r.ingests) == 0 {
		return
	}
	path := r.filename("ingest")
	if err := parquet.WriteFile(path, r.ingests); err != nil {
		r.logger.Warn("telemetry flush failed", "file", path, "error", err)
		return
	}
	r.ingests = r.ingests[:0]
}

// Callers must hold r.mu.
func (r *Recorder) flushQueries() {
	if len(r.queries) == 0 {
		return
	}
	path := r.filename("query")
	if err := parquet.WriteFile(path, r.queries); err != nil {
		r.logger.Warn("telemetry flush failed", "file", path, "error", err)
		return
	}
	r.queries = r.queries[:0]
}

func (r *Recorder) filename(kind string) string {
	name := fmt.Sprintf("%s_%s_%d.parquet", kind, time.Now().Format("20060102_150405"), time.Now().UnixNano())
	return filepath.Join(r.outputDir, name)
}

// JoinStages renders a degraded-stage list for a QueryRecord.
func JoinStages[T ~string](stages []T) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}
