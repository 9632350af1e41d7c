// Package postgres implements the storage.Store interface on PostgreSQL.
// Documents own their postings through ON DELETE CASCADE; term counters are
// adjusted with atomic in-database arithmetic so concurrent indexers of
// different documents cannot lose updates.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	apperrors "github.com/buscadoc/buscadoc/pkg/errors"
	pkgpostgres "github.com/buscadoc/buscadoc/pkg/postgres"

	"github.com/buscadoc/buscadoc/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id       BIGSERIAL PRIMARY KEY,
	filename     TEXT UNIQUE NOT NULL,
	storage_path TEXT NOT NULL,
	snippet      TEXT NOT NULL,
	total_terms  INTEGER NOT NULL,
	magnitude    DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS terms (
	term_id              BIGSERIAL PRIMARY KEY,
	term_text            TEXT UNIQUE NOT NULL,
	doc_frequency        BIGINT NOT NULL DEFAULT 0,
	collection_frequency BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS postings (
	doc_id                BIGINT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
	term_id               BIGINT NOT NULL REFERENCES terms(term_id),
	term_frequency_in_doc INTEGER NOT NULL,
	positions             TEXT NOT NULL,
	PRIMARY KEY (doc_id, term_id)
);

CREATE INDEX IF NOT EXISTS idx_postings_term ON postings(term_id);
`

// Store implements storage.Store on a pooled PostgreSQL connection.
type Store struct {
	client *pkgpostgres.Client
}

// New wraps an established client. Call EnsureSchema before first use.
func New(client *pkgpostgres.Client) *Store {
	return &Store{client: client}
}

// EnsureSchema creates the documents, terms, and postings tables if they do
// not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *Store) DocumentCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.client.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

func (s *Store) AllDocumentIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.client.DB.QueryContext(ctx, `SELECT doc_id FROM documents ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("enumerating documents: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *Store) DocumentsByIDs(ctx context.Context, ids []int64) ([]storage.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT doc_id, filename, storage_path, snippet, total_terms, magnitude
		 FROM documents WHERE doc_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("fetching documents: %w", err)
	}
	defer rows.Close()

	docs := make([]storage.Document, 0, len(ids))
	for rows.Next() {
		var d storage.Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.StoragePath, &d.Snippet, &d.TotalTerms, &d.Magnitude); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Store) DocumentByFilename(ctx context.Context, filename string) (*storage.Document, error) {
	var d storage.Document
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT doc_id, filename, storage_path, snippet, total_terms, magnitude
		 FROM documents WHERE filename = $1`, filename).
		Scan(&d.ID, &d.Filename, &d.StoragePath, &d.Snippet, &d.TotalTerms, &d.Magnitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching document %q: %w", filename, err)
	}
	return &d, nil
}

func (s *Store) TermByText(ctx context.Context, text string) (*storage.Term, error) {
	var t storage.Term
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT term_id, term_text, doc_frequency, collection_frequency
		 FROM terms WHERE term_text = $1`, text).
		Scan(&t.ID, &t.Text, &t.DocFrequency, &t.CollectionFrequency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrTermNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching term %q: %w", text, err)
	}
	return &t, nil
}

func (s *Store) DocIDsForTerm(ctx context.Context, term string) ([]int64, error) {
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT DISTINCT p.doc_id
		 FROM terms t JOIN postings p ON t.term_id = p.term_id
		 WHERE t.term_text = $1 ORDER BY p.doc_id`, term)
	if err != nil {
		return nil, fmt.Errorf("looking up term %q: %w", term, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *Store) DocIDsForPattern(ctx context.Context, pattern string) ([]int64, error) {
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT DISTINCT p.doc_id
		 FROM terms t JOIN postings p ON t.term_id = p.term_id
		 WHERE t.term_text LIKE '%' || $1 || '%' ORDER BY p.doc_id`, pattern)
	if err != nil {
		return nil, fmt.Errorf("looking up pattern %q: %w", pattern, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *Store) PostingPositions(ctx context.Context, docIDs []int64, terms []string) (map[int64]map[string][]int, error) {
	if len(docIDs) == 0 || len(terms) == 0 {
		return map[int64]map[string][]int{}, nil
	}
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT p.doc_id, t.term_text, p.positions
		 FROM postings p JOIN terms t ON p.term_id = t.term_id
		 WHERE p.doc_id = ANY($1) AND t.term_text = ANY($2)`,
		pq.Array(docIDs), pq.Array(terms))
	if err != nil {
		return nil, fmt.Errorf("fetching posting positions: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]map[string][]int)
	for rows.Next() {
		var docID int64
		var term, encoded string
		if err := rows.Scan(&docID, &term, &encoded); err != nil {
			return nil, fmt.Errorf("scanning posting positions: %w", err)
		}
		positions, err := storage.DecodePositions(encoded)
		if err != nil {
			return nil, fmt.Errorf("doc %d term %q: %w", docID, term, err)
		}
		if result[docID] == nil {
			result[docID] = make(map[string][]int)
		}
		result[docID][term] = positions
	}
	return result, rows.Err()
}

func (s *Store) ScoringRows(ctx context.Context, docIDs []int64, terms []string) ([]storage.ScoringRow, error) {
	if len(docIDs) == 0 || len(terms) == 0 {
		return nil, nil
	}
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT p.doc_id, t.term_text, p.term_frequency_in_doc,
		        d.total_terms, t.doc_frequency, d.magnitude
		 FROM postings p
		 JOIN terms t ON p.term_id = t.term_id
		 JOIN documents d ON p.doc_id = d.doc_id
		 WHERE p.doc_id = ANY($1) AND t.term_text = ANY($2)`,
		pq.Array(docIDs), pq.Array(terms))
	if err != nil {
		return nil, fmt.Errorf("fetching scoring rows: %w", err)
	}
	defer rows.Close()

	result := make([]storage.ScoringRow, 0)
	for rows.Next() {
		var r storage.ScoringRow
		if err := rows.Scan(&r.DocID, &r.TermText, &r.Frequency, &r.TotalTerms, &r.DocFrequency, &r.Magnitude); err != nil {
			return nil, fmt.Errorf("scanning scoring row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// InTx delegates to the shared client's transaction helper, adapting the
// *sql.Tx to the storage.Tx interface.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		return fn(&pgTx{ctx: ctx, tx: tx})
	})
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning doc id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *pgTx) DocumentByFilename(filename string) (*storage.Document, error) {
	var d storage.Document
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT doc_id, filename, storage_path, snippet, total_terms, magnitude
		 FROM documents WHERE filename = $1`, filename).
		Scan(&d.ID, &d.Filename, &d.StoragePath, &d.Snippet, &d.TotalTerms, &d.Magnitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching document %q: %w", filename, err)
	}
	return &d, nil
}

func (t *pgTx) PostingsByDocument(docID int64) ([]storage.Posting, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT doc_id, term_id, term_frequency_in_doc, positions
		 FROM postings WHERE doc_id = $1`, docID)
	if err != nil {
		return nil, fmt.Errorf("fetching postings for doc %d: %w", docID, err)
	}
	defer rows.Close()

	postings := make([]storage.Posting, 0)
	for rows.Next() {
		var p storage.Posting
		var encoded string
		if err := rows.Scan(&p.DocID, &p.TermID, &p.Frequency, &encoded); err != nil {
			return nil, fmt.Errorf("scanning posting: %w", err)
		}
		if p.Positions, err = storage.DecodePositions(encoded); err != nil {
			return nil, fmt.Errorf("doc %d term %d: %w", p.DocID, p.TermID, err)
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

func (t *pgTx) AdjustTermCounts(termID int64, docDelta, collectionDelta int64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE terms
		 SET doc_frequency = doc_frequency + $1,
		     collection_frequency = collection_frequency + $2
		 WHERE term_id = $3`, docDelta, collectionDelta, termID)
	if err != nil {
		return fmt.Errorf("adjusting counts for term %d: %w", termID, err)
	}
	return nil
}

func (t *pgTx) DeleteDocument(docID int64) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM documents WHERE doc_id = $1`, docID); err != nil {
		return fmt.Errorf("deleting document %d: %w", docID, err)
	}
	return nil
}

func (t *pgTx) PruneOrphanTerms() (int64, error) {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM terms WHERE doc_frequency <= 0`)
	if err != nil {
		return 0, fmt.Errorf("pruning orphan terms: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned terms: %w", err)
	}
	return n, nil
}

func (t *pgTx) InsertDocument(doc *storage.Document) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO documents (filename, storage_path, snippet, total_terms, magnitude)
		 VALUES ($1, $2, $3, $4, $5) RETURNING doc_id`,
		doc.Filename, doc.StoragePath, doc.Snippet, doc.TotalTerms, doc.Magnitude).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting document %q: %w", doc.Filename, err)
	}
	return id, nil
}

func (t *pgTx) UpsertTerm(text string, occurrences int64) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO terms (term_text, doc_frequency, collection_frequency)
		 VALUES ($1, 1, $2)
		 ON CONFLICT (term_text) DO UPDATE
		 SET doc_frequency = terms.doc_frequency + 1,
		     collection_frequency = terms.collection_frequency + $2
		 RETURNING term_id`, text, occurrences).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting term %q: %w", text, err)
	}
	return id, nil
}

func (t *pgTx) InsertPosting(p *storage.Posting) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO postings (doc_id, term_id, term_frequency_in_doc, positions)
		 VALUES ($1, $2, $3, $4)`,
		p.DocID, p.TermID, p.Frequency, storage.EncodePositions(p.Positions))
	if err != nil {
		return fmt.Errorf("inserting posting (doc %d, term %d): %w", p.DocID, p.TermID, err)
	}
	return nil
}
