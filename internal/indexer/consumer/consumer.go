// Package consumer drives the index worker: it consumes staged-document
// events, indexes the staged files, and fans out completion and
// cache-invalidation events.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	apperrors "github.com/buscadoc/buscadoc/pkg/errors"
	"github.com/buscadoc/buscadoc/pkg/kafka"
	"github.com/buscadoc/buscadoc/pkg/metrics"
	"github.com/buscadoc/buscadoc/pkg/resilience"

	"github.com/buscadoc/buscadoc/internal/events"
	"github.com/buscadoc/buscadoc/internal/indexer"
)

// DefaultIndexTimeout bounds how long a single document may take to index
// before its message is retried by the next fetch.
const DefaultIndexTimeout = 30 * time.Second

// Publisher is the producer slice the consumer publishes results through.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Consumer processes DocumentStaged events one at a time. Per-message errors
// are reported on the completion topic; only infrastructure failures
// propagate to the consume loop.
type Consumer struct {
	indexer      *indexer.Indexer
	completions  Publisher
	invalidation Publisher
	metrics      *metrics.Metrics
	timeout      time.Duration
	logger       *slog.Logger
}

func New(ix *indexer.Indexer, completions, invalidation Publisher, m *metrics.Metrics) *Consumer {
	return &Consumer{
		indexer:      ix,
		completions:  completions,
		invalidation: invalidation,
		metrics:      m,
		timeout:      DefaultIndexTimeout,
		logger:       slog.Default().With("component", "index-consumer"),
	}
}

// Handle is the kafka.MessageHandler for the staged-document topic.
func (c *Consumer) Handle(ctx context.Context, _ []byte, value []byte) error {
	staged, err := kafka.DecodeJSON[events.DocumentStaged](value)
	if err != nil {
		// A message that cannot be decoded will never succeed; log and drop.
		c.logger.Error("dropping undecodable staged event", "error", err)
		return nil
	}

	start := time.Now()
	var docID int64
	err = resilience.WithTimeout(ctx, c.timeout, "index-document", func(ctx context.Context) error {
		var indexErr error
		docID, indexErr = c.indexer.IndexFile(ctx, staged.StagedPath)
		return indexErr
	})

	status := events.StatusIndexed
	errText := ""
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrEmptyDocument):
		status = events.StatusEmpty
		errText = err.Error()
	default:
		status = events.StatusFailed
		errText = err.Error()
		c.logger.Error("indexing failed",
			"document_id", staged.DocumentID,
			"filename", staged.Filename,
			"error", err,
		)
	}

	if c.metrics != nil {
		c.metrics.DocsIndexedTotal.WithLabelValues(metricStatus(status)).Inc()
		if status == events.StatusIndexed {
			c.metrics.IndexLatency.Observe(time.Since(start).Seconds())
		}
	}

	c.publishCompletion(ctx, staged, docID, status, errText)
	if status == events.StatusIndexed {
		c.publishInvalidation(ctx, staged.Filename)
		// The staged copy has served its purpose.
		if err := os.Remove(staged.StagedPath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("could not remove staged file", "path", staged.StagedPath, "error", err)
		}
		c.logger.Info("document indexed",
			"document_id", staged.DocumentID,
			"filename", staged.Filename,
			"doc_id", docID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return nil
}

func (c *Consumer) publishCompletion(ctx context.Context, staged events.DocumentStaged, docID int64, status, errText string) {
	if c.completions == nil {
		return
	}
	event := events.IndexComplete{
		DocumentID: staged.DocumentID,
		Filename:   staged.Filename,
		DocID:      docID,
		Status:     status,
		Error:      errText,
		IndexedAt:  time.Now().UTC(),
	}
	if err := c.completions.Publish(ctx, kafka.Event{Key: staged.Filename, Value: event}); err != nil {
		c.logger.Error("could not publish completion", "filename", staged.Filename, "error", err)
	}
}

func (c *Consumer) publishInvalidation(ctx context.Context, filename string) {
	if c.invalidation == nil {
		return
	}
	event := events.CacheInvalidate{
		Reason:    "document-indexed",
		Filename:  filename,
		EmittedAt: time.Now().UTC(),
	}
	if err := c.invalidation.Publish(ctx, kafka.Event{Key: filename, Value: event}); err != nil {
		c.logger.Error("could not publish cache invalidation", "filename", filename, "error", err)
	}
}

func metricStatus(status string) string {
	switch status {
	case events.StatusIndexed:
		return "indexed"
	case events.StatusEmpty:
		return "empty"
	default:
		return "error"
	}
}
