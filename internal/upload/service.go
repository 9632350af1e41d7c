// Package upload accepts plain-text documents over HTTP, stages them on disk,
// and hands them to the index worker through Kafka. Staging decouples upload
// latency from indexing: the API answers as soon as the file is durable.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buscadoc/buscadoc/pkg/config"
	apperrors "github.com/buscadoc/buscadoc/pkg/errors"
	"github.com/buscadoc/buscadoc/pkg/kafka"
	"github.com/buscadoc/buscadoc/pkg/metrics"

	"github.com/buscadoc/buscadoc/internal/events"
)

// Publisher is the slice of the Kafka producer the service needs; tests
// substitute a recorder.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Service stages uploaded documents and announces them on the staged topic.
type Service struct {
	dir       string
	maxSize   int64
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewService(cfg config.IndexerConfig, publisher Publisher, m *metrics.Metrics) (*Service, error) {
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating uploads dir %s: %w", cfg.UploadsDir, err)
	}
	return &Service{
		dir:       cfg.UploadsDir,
		maxSize:   cfg.MaxFileSize,
		publisher: publisher,
		metrics:   m,
		logger:    slog.Default().With("component", "upload"),
	}, nil
}

// Stage validates the upload, writes it under a collision-free name in the
// staging directory, and publishes a DocumentStaged event keyed by filename
// so re-uploads of the same document stay ordered.
func (s *Service) Stage(ctx context.Context, filename string, r io.Reader) (*events.DocumentStaged, error) {
	filename = filepath.Base(filename)
	if filename == "" || filename == "." {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "missing filename")
	}
	if !strings.EqualFold(filepath.Ext(filename), ".txt") {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "unsupported file type %q, only .txt is accepted", filepath.Ext(filename))
	}

	id := uuid.NewString()
	stagedPath := filepath.Join(s.dir, id+"_"+filename)
	size, err := s.writeStaged(stagedPath, r)
	if err != nil {
		return nil, err
	}

	event := &events.DocumentStaged{
		DocumentID: id,
		Filename:   filename,
		StagedPath: stagedPath,
		SizeBytes:  size,
		StagedAt:   time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, kafka.Event{Key: filename, Value: event}); err != nil {
		// The staged file is useless if nobody will ever index it.
		_ = os.Remove(stagedPath)
		return nil, fmt.Errorf("announcing staged document: %w", err)
	}

	if s.metrics != nil {
		s.metrics.DocsStagedTotal.Inc()
	}
	s.logger.Info("document staged",
		"document_id", id,
		"filename", filename,
		"size_bytes", size,
	)
	return event, nil
}

// writeStaged copies the upload to disk, failing if it exceeds the size cap.
func (s *Service) writeStaged(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating staged file: %w", err)
	}
	defer f.Close()

	limit := r
	if s.maxSize > 0 {
		limit = io.LimitReader(r, s.maxSize+1)
	}
	size, err := io.Copy(f, limit)
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("writing staged file: %w", err)
	}
	if s.maxSize > 0 && size > s.maxSize {
		_ = os.Remove(path)
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, 400, "file exceeds the %d byte limit", s.maxSize)
	}
	if size == 0 {
		_ = os.Remove(path)
		return 0, apperrors.New(apperrors.ErrInvalidInput, 400, "empty upload")
	}
	return size, nil
}
