// Package memory is an in-memory Store implementation. It backs the engine
// tests and small single-process deployments, and mirrors the transactional
// semantics of the postgres store with clone-and-swap transactions.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/buscadoc/buscadoc/pkg/errors"

	"github.com/buscadoc/buscadoc/internal/storage"
)

// Store keeps the whole corpus in maps guarded by one RWMutex. A transaction
// deep-copies the state, mutates the copy, and swaps it in on commit, so a
// failed transaction leaves nothing behind.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	docs        map[int64]*storage.Document
	docsByName  map[string]int64
	terms       map[int64]*storage.Term
	termsByText map[string]int64
	postings    map[int64]map[int64]*storage.Posting
	nextDocID   int64
	nextTermID  int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{state: newState()}
}

func newState() *state {
	return &state{
		docs:        make(map[int64]*storage.Document),
		docsByName:  make(map[string]int64),
		terms:       make(map[int64]*storage.Term),
		termsByText: make(map[string]int64),
		postings:    make(map[int64]map[int64]*storage.Posting),
		nextDocID:   1,
		nextTermID:  1,
	}
}

func (s *state) clone() *state {
	c := &state{
		docs:        make(map[int64]*storage.Document, len(s.docs)),
		docsByName:  make(map[string]int64, len(s.docsByName)),
		terms:       make(map[int64]*storage.Term, len(s.terms)),
		termsByText: make(map[string]int64, len(s.termsByText)),
		postings:    make(map[int64]map[int64]*storage.Posting, len(s.postings)),
		nextDocID:   s.nextDocID,
		nextTermID:  s.nextTermID,
	}
	for id, d := range s.docs {
		cp := *d
		c.docs[id] = &cp
	}
	for name, id := range s.docsByName {
		c.docsByName[name] = id
	}
	for id, t := range s.terms {
		cp := *t
		c.terms[id] = &cp
	}
	for text, id := range s.termsByText {
		c.termsByText[text] = id
	}
	for docID, byTerm := range s.postings {
		m := make(map[int64]*storage.Posting, len(byTerm))
		for termID, p := range byTerm {
			cp := *p
			cp.Positions = append([]int(nil), p.Positions...)
			m[termID] = &cp
		}
		c.postings[docID] = m
	}
	return c
}

// --- Reader ---

func (s *Store) DocumentCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.state.docs)), nil
}

func (s *Store) AllDocumentIDs(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.state.docs))
	for id := range s.state.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) DocumentsByIDs(ctx context.Context, ids []int64) ([]storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]storage.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.state.docs[id]; ok {
			docs = append(docs, *d)
		}
	}
	return docs, nil
}

func (s *Store) DocumentByFilename(ctx context.Context, filename string) (*storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.documentByFilename(filename)
}

func (s *Store) TermByText(ctx context.Context, text string) (*storage.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.state.termsByText[text]
	if !ok {
		return nil, apperrors.ErrTermNotFound
	}
	t := *s.state.terms[id]
	return &t, nil
}

func (s *Store) DocIDsForTerm(ctx context.Context, term string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	termID, ok := s.state.termsByText[term]
	if !ok {
		return nil, nil
	}
	return s.state.docIDsForTermIDs(termID), nil
}

func (s *Store) DocIDsForPattern(ctx context.Context, pattern string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matching := make([]int64, 0)
	for text, id := range s.state.termsByText {
		if strings.Contains(text, pattern) {
			matching = append(matching, id)
		}
	}
	return s.state.docIDsForTermIDs(matching...), nil
}

func (s *Store) PostingPositions(ctx context.Context, docIDs []int64, terms []string) (map[int64]map[string][]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[int64]map[string][]int)
	for _, docID := range docIDs {
		byTerm, ok := s.state.postings[docID]
		if !ok {
			continue
		}
		for _, text := range terms {
			termID, ok := s.state.termsByText[text]
			if !ok {
				continue
			}
			p, ok := byTerm[termID]
			if !ok {
				continue
			}
			if result[docID] == nil {
				result[docID] = make(map[string][]int)
			}
			result[docID][text] = append([]int(nil), p.Positions...)
		}
	}
	return result, nil
}

func (s *Store) ScoringRows(ctx context.Context, docIDs []int64, terms []string) ([]storage.ScoringRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]storage.ScoringRow, 0)
	for _, docID := range docIDs {
		doc, ok := s.state.docs[docID]
		if !ok {
			continue
		}
		byTerm := s.state.postings[docID]
		for _, text := range terms {
			termID, ok := s.state.termsByText[text]
			if !ok {
				continue
			}
			p, ok := byTerm[termID]
			if !ok {
				continue
			}
			rows = append(rows, storage.ScoringRow{
				DocID:        docID,
				TermText:     text,
				Frequency:    p.Frequency,
				TotalTerms:   doc.TotalTerms,
				DocFrequency: s.state.terms[termID].DocFrequency,
				Magnitude:    doc.Magnitude,
			})
		}
	}
	return rows, nil
}

// InTx clones the state, runs fn against the clone, and swaps the clone in
// only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	if err := fn(&memTx{state: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

// --- helpers shared by Reader and Tx ---

func (s *state) documentByFilename(filename string) (*storage.Document, error) {
	id, ok := s.docsByName[filename]
	if !ok {
		return nil, apperrors.ErrDocumentNotFound
	}
	d := *s.docs[id]
	return &d, nil
}

func (s *state) docIDsForTermIDs(termIDs ...int64) []int64 {
	seen := make(map[int64]struct{})
	ids := make([]int64, 0)
	for docID, byTerm := range s.postings {
		for _, termID := range termIDs {
			if _, ok := byTerm[termID]; ok {
				if _, dup := seen[docID]; !dup {
					seen[docID] = struct{}{}
					ids = append(ids, docID)
				}
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// --- Tx ---

type memTx struct {
	state *state
}

func (tx *memTx) DocumentByFilename(filename string) (*storage.Document, error) {
	return tx.state.documentByFilename(filename)
}

func (tx *memTx) PostingsByDocument(docID int64) ([]storage.Posting, error) {
	byTerm := tx.state.postings[docID]
	postings := make([]storage.Posting, 0, len(byTerm))
	for _, p := range byTerm {
		cp := *p
		cp.Positions = append([]int(nil), p.Positions...)
		postings = append(postings, cp)
	}
	sort.Slice(postings, func(i, j int) bool { return postings[i].TermID < postings[j].TermID })
	return postings, nil
}

func (tx *memTx) AdjustTermCounts(termID int64, docDelta, collectionDelta int64) error {
	t, ok := tx.state.terms[termID]
	if !ok {
		return apperrors.ErrTermNotFound
	}
	t.DocFrequency += docDelta
	t.CollectionFrequency += collectionDelta
	return nil
}

func (tx *memTx) DeleteDocument(docID int64) error {
	d, ok := tx.state.docs[docID]
	if !ok {
		return apperrors.ErrDocumentNotFound
	}
	delete(tx.state.docsByName, d.Filename)
	delete(tx.state.docs, docID)
	delete(tx.state.postings, docID)
	return nil
}

func (tx *memTx) PruneOrphanTerms() (int64, error) {
	var pruned int64
	for id, t := range tx.state.terms {
		if t.DocFrequency <= 0 {
			delete(tx.state.termsByText, t.Text)
			delete(tx.state.terms, id)
			pruned++
		}
	}
	return pruned, nil
}

func (tx *memTx) InsertDocument(doc *storage.Document) (int64, error) {
	if _, exists := tx.state.docsByName[doc.Filename]; exists {
		return 0, apperrors.Newf(apperrors.ErrStorage, 500, "duplicate filename %q", doc.Filename)
	}
	id := tx.state.nextDocID
	tx.state.nextDocID++
	cp := *doc
	cp.ID = id
	tx.state.docs[id] = &cp
	tx.state.docsByName[cp.Filename] = id
	tx.state.postings[id] = make(map[int64]*storage.Posting)
	return id, nil
}

func (tx *memTx) UpsertTerm(text string, occurrences int64) (int64, error) {
	if id, ok := tx.state.termsByText[text]; ok {
		t := tx.state.terms[id]
		t.DocFrequency++
		t.CollectionFrequency += occurrences
		return id, nil
	}
	id := tx.state.nextTermID
	tx.state.nextTermID++
	tx.state.terms[id] = &storage.Term{
		ID:                  id,
		Text:                text,
		DocFrequency:        1,
		CollectionFrequency: occurrences,
	}
	tx.state.termsByText[text] = id
	return id, nil
}

func (tx *memTx) InsertPosting(p *storage.Posting) error {
	byTerm, ok := tx.state.postings[p.DocID]
	if !ok {
		return apperrors.ErrDocumentNotFound
	}
	cp := *p
	cp.Positions = append([]int(nil), p.Positions...)
	byTerm[p.TermID] = &cp
	return nil
}
