package indexer

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	apperrors "github.com/buscadoc/buscadoc/pkg/errors"

	"github.com/buscadoc/buscadoc/internal/indexer/tokenizer"
	"github.com/buscadoc/buscadoc/internal/storage/memory"
)

func TestIndexRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := New(store, 0)

	text := "El queso de cabra es un queso sabroso. El queso manchego también es un queso excelente."
	docID, err := ix.Index(ctx, "quesos.txt", "/uploads/quesos.txt", text)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	doc, err := store.DocumentByFilename(ctx, "quesos.txt")
	if err != nil {
		t.Fatalf("DocumentByFilename: %v", err)
	}
	if doc.ID != docID {
		t.Errorf("doc.ID = %d, want %d", doc.ID, docID)
	}

	tokens := tokenizer.Normalize(text)
	if doc.TotalTerms != len(tokens) {
		t.Errorf("TotalTerms = %d, want %d", doc.TotalTerms, len(tokens))
	}

	// The stored magnitude must equal the L2 norm of the TF vector.
	counts := make(map[string]int)
	for _, tok := range tokens {
		counts[tok]++
	}
	var sumSquares float64
	for _, c := range counts {
		tf := float64(c) / float64(len(tokens))
		sumSquares += tf * tf
	}
	if diff := math.Abs(doc.Magnitude*doc.Magnitude - sumSquares); diff > 1e-12 {
		t.Errorf("magnitude² = %v, want %v (diff %v)", doc.Magnitude*doc.Magnitude, sumSquares, diff)
	}
}

func TestIndexPositionsAreCompacted(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := New(store, 0)

	// "de la" are stopwords: "negro" ends up adjacent to "gato" in the
	// compacted stream.
	docID, err := ix.Index(ctx, "gato.txt", "", "gato de la negro")
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	positions, err := store.PostingPositions(ctx, []int64{docID}, []string{"gato", "negro"})
	if err != nil {
		t.Fatalf("PostingPositions: %v", err)
	}
	if got := positions[docID]["gato"]; !reflect.DeepEqual(got, []int{0}) {
		t.Errorf("gato positions = %v, want [0]", got)
	}
	if got := positions[docID]["negro"]; !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("negro positions = %v, want [1]", got)
	}
}

func TestReindexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := New(store, 0)

	text := "gato negro gato"
	if _, err := ix.Index(ctx, "a.txt", "", text); err != nil {
		t.Fatalf("first Index: %v", err)
	}
	if _, err := ix.Index(ctx, "a.txt", "", text); err != nil {
		t.Fatalf("second Index: %v", err)
	}

	term, err := store.TermByText(ctx, "gato")
	if err != nil {
		t.Fatalf("TermByText: %v", err)
	}
	if term.DocFrequency != 1 {
		t.Errorf("doc_frequency = %d after re-index, want 1", term.DocFrequency)
	}
	if term.CollectionFrequency != 2 {
		t.Errorf("collection_frequency = %d after re-index, want 2", term.CollectionFrequency)
	}

	if n, _ := store.DocumentCount(ctx); n != 1 {
		t.Errorf("document count = %d after re-index, want 1", n)
	}
}

func TestReindexReplacesContent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := New(store, 0)

	if _, err := ix.Index(ctx, "a.txt", "", "ornitorrinco acuatico"); err != nil {
		t.Fatalf("first Index: %v", err)
	}
	if _, err := ix.Index(ctx, "a.txt", "", "castor terrestre"); err != nil {
		t.Fatalf("second Index: %v", err)
	}

	// The only document containing "ornitorrinco" was replaced, so the term
	// must be pruned from the corpus.
	if _, err := store.TermByText(ctx, "ornitorrinco"); !errors.Is(err, apperrors.ErrTermNotFound) {
		t.Errorf("TermByText(ornitorrinco) err = %v, want ErrTermNotFound", err)
	}
	if _, err := store.TermByText(ctx, "castor"); err != nil {
		t.Errorf("TermByText(castor): %v", err)
	}
}

func TestSharedTermSurvivesReplace(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := New(store, 0)

	if _, err := ix.Index(ctx, "a.txt", "", "gato perro"); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Index(ctx, "b.txt", "", "gato raton"); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Index(ctx, "a.txt", "", "conejo"); err != nil {
		t.Fatal(err)
	}

	term, err := store.TermByText(ctx, "gato")
	if err != nil {
		t.Fatalf("gato should still exist: %v", err)
	}
	if term.DocFrequency != 1 {
		t.Errorf("gato doc_frequency = %d, want 1", term.DocFrequency)
	}
}

func TestEmptyDocumentAborts(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := New(store, 0)

	for _, text := range []string{"", "   ", "123 456", "de la el en"} {
		if _, err := ix.Index(ctx, "vacio.txt", "", text); !errors.Is(err, apperrors.ErrEmptyDocument) {
			t.Errorf("Index(%q) err = %v, want ErrEmptyDocument", text, err)
		}
	}
	if n, _ := store.DocumentCount(ctx); n != 0 {
		t.Errorf("document count = %d after empty indexing attempts, want 0", n)
	}
}

func TestEmptyReindexKeepsOldVersion(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := New(store, 0)

	if _, err := ix.Index(ctx, "a.txt", "", "gato negro"); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Index(ctx, "a.txt", "", "!!! 123"); !errors.Is(err, apperrors.ErrEmptyDocument) {
		t.Fatal("expected ErrEmptyDocument")
	}

	// The failed re-index must leave the previous version intact.
	doc, err := store.DocumentByFilename(ctx, "a.txt")
	if err != nil {
		t.Fatalf("old version is gone: %v", err)
	}
	if doc.TotalTerms != 2 {
		t.Errorf("TotalTerms = %d, want 2", doc.TotalTerms)
	}
}

func TestSnippetUsesRawText(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := New(store, 0)

	raw := "¡EL GATO! 123 " + strings.Repeat("relleno ", 50)
	docID, err := ix.Index(ctx, "a.txt", "", raw)
	if err != nil {
		t.Fatal(err)
	}
	docs, err := store.DocumentsByIDs(ctx, []int64{docID})
	if err != nil || len(docs) != 1 {
		t.Fatalf("DocumentsByIDs: %v (%d docs)", err, len(docs))
	}
	want := string([]rune(raw)[:DefaultSnippetLength])
	if docs[0].Snippet != want {
		t.Errorf("snippet = %q, want the first %d characters of the raw text", docs[0].Snippet, DefaultSnippetLength)
	}
	if !strings.HasPrefix(docs[0].Snippet, "¡EL GATO! 123") {
		t.Errorf("snippet should preserve raw casing and punctuation, got %q", docs[0].Snippet)
	}
}

func TestIndexFileMissing(t *testing.T) {
	ix := New(memory.New(), 0)
	if _, err := ix.IndexFile(context.Background(), "/no/such/file.txt"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestPostingInvariant(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := New(store, 0)

	docID, err := ix.Index(ctx, "a.txt", "", "lobo lobo gris lobo")
	if err != nil {
		t.Fatal(err)
	}
	positions, err := store.PostingPositions(ctx, []int64{docID}, []string{"lobo"})
	if err != nil {
		t.Fatal(err)
	}
	got := positions[docID]["lobo"]
	if !reflect.DeepEqual(got, []int{0, 1, 3}) {
		t.Errorf("lobo positions = %v, want [0 1 3]", got)
	}
	rows, err := store.ScoringRows(ctx, []int64{docID}, []string{"lobo"})
	if err != nil || len(rows) != 1 {
		t.Fatalf("ScoringRows: %v (%d rows)", err, len(rows))
	}
	// len(positions) must equal the stored frequency.
	if rows[0].Frequency != len(got) {
		t.Errorf("frequency = %d, positions = %d; they must match", rows[0].Frequency, len(got))
	}
}
