// Package ranker orders the documents the boolean evaluator matched. Each
// document gets a TF-IDF relevance score and a cosine similarity against the
// query vector; results sort by TF-IDF descending with document ID as the
// tie-break.
package ranker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	apperrors "github.com/buscadoc/buscadoc/pkg/errors"

	"github.com/buscadoc/buscadoc/internal/storage"
)

// Score is the ranking output for one matched document. Documents matched by
// the boolean query but containing none of the scoring terms (NOT-only
// queries, pure pattern matches) keep zero scores and still appear.
type Score struct {
	DocID  int64   `json:"doc_id"`
	TFIDF  float64 `json:"tfidf"`
	Cosine float64 `json:"cosine"`
}

// Ranker computes scores from the corpus statistics in a storage.Reader.
type Ranker struct {
	store storage.Reader
}

func New(store storage.Reader) *Ranker {
	return &Ranker{store: store}
}

// Rank scores every document in docIDs against queryTerms and returns them
// ordered best-first. queryTerms is the flattened operand list, duplicates
// included: repeating a term raises its weight in the query vector.
func (r *Ranker) Rank(ctx context.Context, docIDs []int64, queryTerms []string) ([]Score, error) {
	if len(docIDs) == 0 {
		return []Score{}, nil
	}

	scores := make(map[int64]*Score, len(docIDs))
	for _, id := range docIDs {
		scores[id] = &Score{DocID: id}
	}

	if len(queryTerms) > 0 {
		if err := r.score(ctx, scores, docIDs, queryTerms); err != nil {
			return nil, err
		}
	}

	out := make([]Score, 0, len(scores))
	for _, s := range scores {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TFIDF != out[j].TFIDF {
			return out[i].TFIDF > out[j].TFIDF
		}
		return out[i].DocID < out[j].DocID
	})
	return out, nil
}

func (r *Ranker) score(ctx context.Context, scores map[int64]*Score, docIDs []int64, queryTerms []string) error {
	corpusSize, err := r.store.DocumentCount(ctx)
	if err != nil {
		return fmt.Errorf("counting corpus: %w", err)
	}
	if corpusSize == 0 {
		return nil
	}

	termCounts := make(map[string]int, len(queryTerms))
	for _, term := range queryTerms {
		termCounts[term]++
	}
	distinct := make([]string, 0, len(termCounts))
	for term := range termCounts {
		distinct = append(distinct, term)
	}
	sort.Strings(distinct)

	rows, err := r.store.ScoringRows(ctx, docIDs, distinct)
	if err != nil {
		return fmt.Errorf("fetching scoring rows: %w", err)
	}

	// idf uses the corpus document frequency with a floor of one so unknown
	// terms never divide by zero; they simply score as maximally rare. The
	// scoring rows already carry df for every term present in a matched
	// document; only terms absent from all of them need a lookup, and those
	// still weight the query vector.
	dfByTerm := make(map[string]int64, len(distinct))
	for _, row := range rows {
		dfByTerm[row.TermText] = row.DocFrequency
	}
	idf := make(map[string]float64, len(distinct))
	for _, term := range distinct {
		df, ok := dfByTerm[term]
		if !ok {
			t, err := r.store.TermByText(ctx, term)
			switch {
			case err == nil:
				df = t.DocFrequency
			case errors.Is(err, apperrors.ErrTermNotFound):
			default:
				return fmt.Errorf("looking up term %q: %w", term, err)
			}
		}
		if df < 1 {
			df = 1
		}
		idf[term] = math.Log(float64(corpusSize) / float64(df))
	}

	// Query vector: term frequency within the query itself, IDF-weighted.
	queryWeights := make(map[string]float64, len(distinct))
	var queryMagSq float64
	for term, count := range termCounts {
		w := float64(count) / float64(len(queryTerms)) * idf[term]
		queryWeights[term] = w
		queryMagSq += w * w
	}
	queryMag := math.Sqrt(queryMagSq)

	dots := make(map[int64]float64, len(scores))
	magnitudes := make(map[int64]float64, len(scores))
	for _, row := range rows {
		s, ok := scores[row.DocID]
		if !ok {
			continue
		}
		if row.TotalTerms == 0 {
			continue
		}
		tf := float64(row.Frequency) / float64(row.TotalTerms)
		weight := tf * idf[row.TermText]
		s.TFIDF += weight
		dots[row.DocID] += weight * queryWeights[row.TermText]
		magnitudes[row.DocID] = row.Magnitude
	}

	if queryMag == 0 {
		return nil
	}
	for docID, dot := range dots {
		if mag := magnitudes[docID]; mag > 0 {
			scores[docID].Cosine = dot / (mag * queryMag)
		}
	}
	return nil
}
