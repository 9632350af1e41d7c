package consumer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/buscadoc/buscadoc/pkg/kafka"

	"github.com/buscadoc/buscadoc/internal/events"
	"github.com/buscadoc/buscadoc/internal/indexer"
	"github.com/buscadoc/buscadoc/internal/storage/memory"
)

type recordingPublisher struct {
	events []kafka.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event kafka.Event) error {
	p.events = append(p.events, event)
	return nil
}

func stagedMessage(t *testing.T, dir, filename, content string) []byte {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	value, err := json.Marshal(events.DocumentStaged{
		DocumentID: "doc-1",
		Filename:   filename,
		StagedPath: path,
	})
	if err != nil {
		t.Fatal(err)
	}
	return value
}

func TestHandleIndexesStagedDocument(t *testing.T) {
	store := memory.New()
	completions := &recordingPublisher{}
	invalidations := &recordingPublisher{}
	c := New(indexer.New(store, 0), completions, invalidations, nil)

	dir := t.TempDir()
	msg := stagedMessage(t, dir, "lince.txt", "el lince iberico caza en el monte")

	if err := c.Handle(context.Background(), nil, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if _, err := store.DocumentByFilename(context.Background(), "lince.txt"); err != nil {
		t.Errorf("document not indexed: %v", err)
	}
	if len(completions.events) != 1 {
		t.Fatalf("published %d completions, want 1", len(completions.events))
	}
	done, ok := completions.events[0].Value.(events.IndexComplete)
	if !ok || done.Status != events.StatusIndexed {
		t.Errorf("completion = %#v, want status indexed", completions.events[0].Value)
	}
	if len(invalidations.events) != 1 {
		t.Errorf("published %d invalidations, want 1", len(invalidations.events))
	}

	// The staged copy is removed after a successful index.
	if _, err := os.Stat(filepath.Join(dir, "lince.txt")); !os.IsNotExist(err) {
		t.Errorf("staged file still present: %v", err)
	}
}

func TestHandleEmptyDocument(t *testing.T) {
	store := memory.New()
	completions := &recordingPublisher{}
	invalidations := &recordingPublisher{}
	c := New(indexer.New(store, 0), completions, invalidations, nil)

	msg := stagedMessage(t, t.TempDir(), "vacio.txt", "123 !!! de la")
	if err := c.Handle(context.Background(), nil, msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	done := completions.events[0].Value.(events.IndexComplete)
	if done.Status != events.StatusEmpty {
		t.Errorf("status = %s, want %s", done.Status, events.StatusEmpty)
	}
	if len(invalidations.events) != 0 {
		t.Errorf("empty document must not invalidate the cache, got %d events", len(invalidations.events))
	}
	if n, _ := store.DocumentCount(context.Background()); n != 0 {
		t.Errorf("document count = %d, want 0", n)
	}
}

func TestHandleMissingStagedFile(t *testing.T) {
	completions := &recordingPublisher{}
	c := New(indexer.New(memory.New(), 0), completions, nil, nil)

	value, _ := json.Marshal(events.DocumentStaged{
		DocumentID: "doc-2",
		Filename:   "perdido.txt",
		StagedPath: "/no/such/file.txt",
	})
	if err := c.Handle(context.Background(), nil, value); err != nil {
		t.Fatalf("Handle must not fail the consume loop: %v", err)
	}
	done := completions.events[0].Value.(events.IndexComplete)
	if done.Status != events.StatusFailed {
		t.Errorf("status = %s, want %s", done.Status, events.StatusFailed)
	}
	if done.Error == "" {
		t.Error("failed completion carries no error text")
	}
}

func TestHandleUndecodableMessage(t *testing.T) {
	c := New(indexer.New(memory.New(), 0), &recordingPublisher{}, nil, nil)
	if err := c.Handle(context.Background(), nil, []byte("not json")); err != nil {
		t.Errorf("undecodable messages are dropped, not retried: %v", err)
	}
}
