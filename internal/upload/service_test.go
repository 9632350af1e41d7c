package upload

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/buscadoc/buscadoc/pkg/config"
	apperrors "github.com/buscadoc/buscadoc/pkg/errors"
	"github.com/buscadoc/buscadoc/pkg/kafka"

	"github.com/buscadoc/buscadoc/internal/events"
)

type recordingPublisher struct {
	events []kafka.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event kafka.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func newTestService(t *testing.T, pub Publisher) *Service {
	t.Helper()
	cfg := config.IndexerConfig{UploadsDir: t.TempDir(), MaxFileSize: 1 << 20}
	s, err := NewService(cfg, pub, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestStage(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, pub)

	event, err := s.Stage(context.Background(), "informe.txt", strings.NewReader("el lince iberico"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if event.Filename != "informe.txt" {
		t.Errorf("Filename = %s, want informe.txt", event.Filename)
	}
	if event.SizeBytes != int64(len("el lince iberico")) {
		t.Errorf("SizeBytes = %d", event.SizeBytes)
	}

	data, err := os.ReadFile(event.StagedPath)
	if err != nil {
		t.Fatalf("staged file unreadable: %v", err)
	}
	if string(data) != "el lince iberico" {
		t.Errorf("staged content = %q", data)
	}

	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	if pub.events[0].Key != "informe.txt" {
		t.Errorf("event key = %s, want the filename for per-document ordering", pub.events[0].Key)
	}
	staged, ok := pub.events[0].Value.(*events.DocumentStaged)
	if !ok || staged.DocumentID == "" {
		t.Errorf("event value = %#v, want a DocumentStaged with an ID", pub.events[0].Value)
	}
}

func TestStageRejectsNonTxt(t *testing.T) {
	s := newTestService(t, &recordingPublisher{})

	for _, name := range []string{"foto.png", "datos.csv", "sin_extension"} {
		if _, err := s.Stage(context.Background(), name, strings.NewReader("contenido")); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("Stage(%q) err = %v, want ErrInvalidInput", name, err)
		}
	}
}

func TestStageRejectsEmpty(t *testing.T) {
	s := newTestService(t, &recordingPublisher{})
	if _, err := s.Stage(context.Background(), "vacio.txt", strings.NewReader("")); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestStageRejectsOversize(t *testing.T) {
	cfg := config.IndexerConfig{UploadsDir: t.TempDir(), MaxFileSize: 10}
	s, err := NewService(cfg, &recordingPublisher{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Stage(context.Background(), "grande.txt", strings.NewReader(strings.Repeat("a", 11))); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestStageStripsDirectoryTraversal(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, pub)

	event, err := s.Stage(context.Background(), "../../etc/passwd.txt", strings.NewReader("contenido"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if event.Filename != "passwd.txt" {
		t.Errorf("Filename = %s, want the base name only", event.Filename)
	}
	if rel, err := filepath.Rel(s.dir, event.StagedPath); err != nil || strings.HasPrefix(rel, "..") {
		t.Errorf("staged path %s escapes the uploads dir", event.StagedPath)
	}
}

func TestStageCleansUpOnPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	s := newTestService(t, pub)

	_, err := s.Stage(context.Background(), "informe.txt", strings.NewReader("contenido"))
	if err == nil {
		t.Fatal("expected an error when publishing fails")
	}
	entries, readErr := os.ReadDir(s.dir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("staging dir has %d leftover files after a failed publish", len(entries))
	}
}

func TestUploadEndpoint(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, pub)

	mux := http.NewServeMux()
	NewHandler(s, 1<<20).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "informe.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("el lince iberico caza")); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/v1/documents", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if len(pub.events) != 1 {
		t.Errorf("published %d events, want 1", len(pub.events))
	}
}

func TestUploadEndpointMissingFile(t *testing.T) {
	s := newTestService(t, &recordingPublisher{})
	mux := http.NewServeMux()
	NewHandler(s, 1<<20).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/documents", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
