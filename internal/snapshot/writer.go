// Package snapshot persists item results as a single JSON document.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/timmy/portalflow/internal/domain"
	"github.com/timmy/portalflow/internal/logger"
	"github.com/timmy/portalflow/internal/storage"
)

// FormatVersion is written into every snapshot's metadata.
const FormatVersion = "1.0"

// Document is the on-disk snapshot layout.
type Document struct {
	Metadata Metadata            `json:"metadata"`
	Results  []domain.ItemResult `json:"results"`
}

type Metadata struct {
	TotalProcessed int       `json:"total_processed"`
	Successful     int       `json:"successful"`
	Failed         int       `json:"failed"`
	Timestamp      time.Time `json:"timestamp"`
	Version        string    `json:"version"`
}

// Config holds configuration for the snapshot writer
type Config struct {
	Path      string
	Every     int
	MirrorKey string
}

// Writer accumulates results and rewrites the snapshot every Every results.
// It is safe for concurrent use by all executors.
type Writer struct {
	mu      sync.Mutex
	cfg     Config
	mirror  storage.ObjectStorage
	results []domain.ItemResult
	pending int
}

// NewWriter creates a snapshot writer. mirror may be nil.
func NewWriter(cfg Config, mirror storage.ObjectStorage) *Writer {
	if cfg.Every < 1 {
		cfg.Every = 5
	}
	if cfg.MirrorKey == "" {
		cfg.MirrorKey = filepath.Base(cfg.Path)
	}
	return &Writer{cfg: cfg, mirror: mirror}
}

// Record adds a result and flushes when enough new results have accumulated.
func (w *Writer) Record(ctx context.Context, r domain.ItemResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results = append(w.results, r.Clone())
	w.pending++
	if w.pending < w.cfg.Every {
		return nil
	}
	return w.flushLocked(ctx)
}

// Flush writes everything recorded so far.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *Writer) flushLocked(ctx context.Context) error {
	doc := Document{
		Metadata: Metadata{
			TotalProcessed: len(w.results),
			Timestamp:      time.Now().UTC(),
			Version:        FormatVersion,
		},
		Results: w.results,
	}
	for _, r := range w.results {
		if r.Status == domain.ItemStatusSuccess {
			doc.Metadata.Successful++
		}
	}
	doc.Metadata.Failed = doc.Metadata.TotalProcessed - doc.Metadata.Successful
	if doc.Results == nil {
		doc.Results = []domain.ItemResult{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := writeFile(w.cfg.Path, data); err != nil {
		return err
	}
	w.pending = 0

	logger.With(logger.Fields{
		logger.FieldCount: doc.Metadata.TotalProcessed,
		logger.FieldSize:  len(data),
	}).Debug(ctx, "Snapshot written to %s", w.cfg.Path)

	if w.mirror != nil {
		if err := w.mirror.Put(ctx, w.cfg.MirrorKey, data, "application/json"); err != nil {
			return fmt.Errorf("failed to mirror snapshot: %w", err)
		}
	}
	return nil
}

// writeFile replaces path atomically through a temp file in the same directory.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
