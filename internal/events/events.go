// Package events defines the messages exchanged over Kafka between the API
// server and the index worker.
package events

import "time"

// DocumentStaged is published when an upload has been written to the staging
// directory and is ready for indexing.
type DocumentStaged struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	StagedPath string    `json:"staged_path"`
	SizeBytes  int64     `json:"size_bytes"`
	StagedAt   time.Time `json:"staged_at"`
}

// IndexComplete is published after the worker has indexed (or failed to
// index) a staged document.
type IndexComplete struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	DocID      int64     `json:"doc_id,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Index completion statuses.
const (
	StatusIndexed = "indexed"
	StatusEmpty   = "empty"
	StatusFailed  = "failed"
)

// CacheInvalidate tells every API server to drop its cached query results
// because the corpus changed underneath them.
type CacheInvalidate struct {
	Reason    string    `json:"reason"`
	Filename  string    `json:"filename,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}
