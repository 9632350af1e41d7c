// Package storage defines the persistence boundary of the search engine:
// the Document, Term, and Posting records and the Store interface the
// indexing and retrieval engines are written against. Implementations live
// in the postgres and memory subpackages.
package storage

import "context"

// Document is one indexed file. It is created whole during indexing and
// replaced whole on re-index; it is never partially updated.
type Document struct {
	ID          int64
	Filename    string
	StoragePath string
	Snippet     string
	TotalTerms  int
	Magnitude   float64
}

// Term is one vocabulary entry shared by every document containing it.
// DocFrequency counts distinct documents, CollectionFrequency total
// occurrences across the corpus.
type Term struct {
	ID                  int64
	Text                string
	DocFrequency        int64
	CollectionFrequency int64
}

// Posting links one term to one document. Positions are zero-based offsets
// into the document's post-stopword token stream, ascending, and
// len(Positions) always equals Frequency.
type Posting struct {
	DocID     int64
	TermID    int64
	Frequency int
	Positions []int
}

// ScoringRow joins posting, term, and document statistics for one
// (document, query term) pair, the unit of data the ranker consumes.
type ScoringRow struct {
	DocID        int64
	TermText     string
	Frequency    int
	TotalTerms   int
	DocFrequency int64
	Magnitude    float64
}

// Reader is the read path used by the retrieval and ranking engines.
type Reader interface {
	// DocumentCount returns N, the corpus size.
	DocumentCount(ctx context.Context) (int64, error)
	// AllDocumentIDs enumerates every document ID (the NOT universe).
	AllDocumentIDs(ctx context.Context) ([]int64, error)
	// DocumentsByIDs fetches document metadata; missing IDs are skipped.
	DocumentsByIDs(ctx context.Context, ids []int64) ([]Document, error)
	// DocumentByFilename returns errors.ErrDocumentNotFound when absent.
	DocumentByFilename(ctx context.Context, filename string) (*Document, error)
	// TermByText returns errors.ErrTermNotFound when absent.
	TermByText(ctx context.Context, text string) (*Term, error)
	// DocIDsForTerm returns the IDs of documents whose postings reference
	// the term with exactly this text.
	DocIDsForTerm(ctx context.Context, term string) ([]int64, error)
	// DocIDsForPattern is the substring variant used by patron() operands.
	DocIDsForPattern(ctx context.Context, pattern string) ([]int64, error)
	// PostingPositions returns positions grouped by document then term text
	// for the cross product of docIDs and terms, omitting absent postings.
	PostingPositions(ctx context.Context, docIDs []int64, terms []string) (map[int64]map[string][]int, error)
	// ScoringRows returns one row per (document, term) posting present in
	// the cross product of docIDs and terms.
	ScoringRows(ctx context.Context, docIDs []int64, terms []string) ([]ScoringRow, error)
}

// Tx is the write path. All methods observe and mutate uncommitted state;
// the enclosing InTx call commits or rolls back as a unit.
type Tx interface {
	DocumentByFilename(filename string) (*Document, error)
	PostingsByDocument(docID int64) ([]Posting, error)
	// AdjustTermCounts applies deltas to a term's doc_frequency and
	// collection_frequency atomically.
	AdjustTermCounts(termID int64, docDelta, collectionDelta int64) error
	// DeleteDocument removes the document and cascades to its postings.
	DeleteDocument(docID int64) error
	// PruneOrphanTerms deletes terms whose doc_frequency dropped to zero or
	// below, returning how many were removed.
	PruneOrphanTerms() (int64, error)
	// InsertDocument stores a new document and returns its assigned ID.
	InsertDocument(doc *Document) (int64, error)
	// UpsertTerm creates the term with doc_frequency=1 or increments the
	// existing one, adding occurrences to collection_frequency either way.
	// It returns the term's ID.
	UpsertTerm(text string, occurrences int64) (int64, error)
	InsertPosting(p *Posting) error
}

// Store is the full storage collaborator handle. It is passed explicitly to
// every component that needs persistence; there is no package-level state.
type Store interface {
	Reader
	// InTx runs fn inside a transaction, committing on nil and rolling back
	// on error so no partial indexing state ever becomes visible.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
