// Package indexer builds and maintains the inverted index. Indexing one
// document is a single transactional unit: either the corpus reflects the
// fully indexed document with updated term statistics, or nothing changed.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	apperrors "github.com/buscadoc/buscadoc/pkg/errors"
	"github.com/buscadoc/buscadoc/pkg/keylock"

	"github.com/buscadoc/buscadoc/internal/indexer/tokenizer"
	"github.com/buscadoc/buscadoc/internal/storage"
)

// DefaultSnippetLength is how many leading characters of the raw text are
// stored for result display.
const DefaultSnippetLength = 250

// Indexer writes documents into the inverted index. Re-indexing an existing
// filename replaces the document wholesale: old postings are unwound from the
// term statistics before the new ones are written.
type Indexer struct {
	store      storage.Store
	locks      *keylock.KeyLock
	snippetLen int
	logger     *slog.Logger
}

// New creates an Indexer over the given store. snippetLen <= 0 selects
// DefaultSnippetLength.
func New(store storage.Store, snippetLen int) *Indexer {
	if snippetLen <= 0 {
		snippetLen = DefaultSnippetLength
	}
	return &Indexer{
		store:      store,
		locks:      keylock.New(),
		snippetLen: snippetLen,
		logger:     slog.Default().With("component", "indexer"),
	}
}

type termStat struct {
	frequency int
	positions []int
}

// Index normalises rawText and writes the document, its terms, and its
// postings in one transaction, returning the new document ID. The filename is
// the business key: an existing document under the same name is replaced.
// Text that normalises to zero tokens aborts with ErrEmptyDocument and leaves
// the corpus untouched, including any previously indexed version.
func (ix *Indexer) Index(ctx context.Context, filename, storagePath, rawText string) (int64, error) {
	tokens := tokenizer.Normalize(rawText)
	if len(tokens) == 0 {
		return 0, apperrors.Newf(apperrors.ErrEmptyDocument, 400, "file %q", filename)
	}

	stats, order := collectStats(tokens)
	totalTerms := len(tokens)
	magnitude := tfMagnitude(stats, totalTerms)
	snippet := leadingRunes(rawText, ix.snippetLen)

	// Replace is delete-then-recreate; two writers on the same filename must
	// not interleave.
	ix.locks.Lock(filename)
	defer ix.locks.Unlock(filename)

	var docID int64
	replaced := false
	err := ix.store.InTx(ctx, func(tx storage.Tx) error {
		existing, err := tx.DocumentByFilename(filename)
		if err != nil && !errors.Is(err, apperrors.ErrDocumentNotFound) {
			return fmt.Errorf("looking up %q: %w", filename, err)
		}
		if err == nil {
			replaced = true
			if err := unwindDocument(tx, existing.ID); err != nil {
				return fmt.Errorf("unwinding old version of %q: %w", filename, err)
			}
		}

		docID, err = tx.InsertDocument(&storage.Document{
			Filename:    filename,
			StoragePath: storagePath,
			Snippet:     snippet,
			TotalTerms:  totalTerms,
			Magnitude:   magnitude,
		})
		if err != nil {
			return err
		}

		for _, term := range order {
			st := stats[term]
			termID, err := tx.UpsertTerm(term, int64(st.frequency))
			if err != nil {
				return err
			}
			if err := tx.InsertPosting(&storage.Posting{
				DocID:     docID,
				TermID:    termID,
				Frequency: st.frequency,
				Positions: st.positions,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	ix.logger.Info("document indexed",
		"filename", filename,
		"doc_id", docID,
		"total_terms", totalTerms,
		"distinct_terms", len(order),
		"replaced", replaced,
	)
	return docID, nil
}

// IndexFile reads path from disk and indexes it under its base name.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, 400, "reading %s: %v", path, err)
	}
	return ix.Index(ctx, filepath.Base(path), path, string(data))
}

// collectStats computes per-term occurrence counts and ascending position
// lists over the normalised stream, preserving first-occurrence order so
// writes are deterministic.
func collectStats(tokens []string) (map[string]*termStat, []string) {
	stats := make(map[string]*termStat)
	order := make([]string, 0, len(tokens)/2)
	for pos, token := range tokens {
		st, ok := stats[token]
		if !ok {
			st = &termStat{}
			stats[token] = st
			order = append(order, token)
		}
		st.frequency++
		st.positions = append(st.positions, pos)
	}
	return stats, order
}

// tfMagnitude is the L2 norm of the document's raw TF vector. IDF is
// deliberately not part of the stored magnitude.
func tfMagnitude(stats map[string]*termStat, totalTerms int) float64 {
	var sumSquares float64
	for _, st := range stats {
		tf := float64(st.frequency) / float64(totalTerms)
		sumSquares += tf * tf
	}
	return math.Sqrt(sumSquares)
}

func leadingRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// unwindDocument reverses an old document's contribution to the term
// statistics and removes it, pruning terms left with no documents.
func unwindDocument(tx storage.Tx, docID int64) error {
	postings, err := tx.PostingsByDocument(docID)
	if err != nil {
		return err
	}
	for _, p := range postings {
		if err := tx.AdjustTermCounts(p.TermID, -1, -int64(p.Frequency)); err != nil {
			return err
		}
	}
	if err := tx.DeleteDocument(docID); err != nil {
		return err
	}
	if _, err := tx.PruneOrphanTerms(); err != nil {
		return err
	}
	return nil
}
