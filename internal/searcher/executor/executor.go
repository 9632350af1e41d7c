// Package executor runs a complete search: it parses the raw query,
// evaluates the boolean expression against the index, ranks the matches, and
// attaches document metadata to the top results.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/buscadoc/buscadoc/pkg/tracing"

	"github.com/buscadoc/buscadoc/internal/searcher/evaluator"
	"github.com/buscadoc/buscadoc/internal/searcher/parser"
	"github.com/buscadoc/buscadoc/internal/searcher/ranker"
	"github.com/buscadoc/buscadoc/internal/storage"
)

// Result is one ranked hit with display metadata.
type Result struct {
	DocID    int64   `json:"doc_id"`
	Filename string  `json:"filename"`
	Snippet  string  `json:"snippet"`
	TFIDF    float64 `json:"tfidf"`
	Cosine   float64 `json:"cosine"`
}

// Response is the full answer to one query. TotalHits counts every matching
// document even when Results is truncated by the limit. Trace is only
// populated for debug searches.
type Response struct {
	Query     string           `json:"query"`
	TotalHits int              `json:"total_hits"`
	Results   []Result         `json:"results"`
	Trace     *evaluator.Trace `json:"trace,omitempty"`
}

// Executor wires the query pipeline stages over a shared storage.Reader.
type Executor struct {
	store      storage.Reader
	evaluator  *evaluator.Evaluator
	ranker     *ranker.Ranker
	maxResults int
	logger     *slog.Logger
}

// New creates an Executor. maxResults caps the limit any caller can request;
// values <= 0 disable the cap.
func New(store storage.Reader, maxResults int) *Executor {
	return &Executor{
		store:      store,
		evaluator:  evaluator.New(store),
		ranker:     ranker.New(store),
		maxResults: maxResults,
		logger:     slog.Default().With("component", "executor"),
	}
}

// Search runs the query and returns up to limit ranked results. A query with
// no usable tokens returns an empty response rather than an error; a query
// with dangling operators fails with ErrMalformedQuery.
func (e *Executor) Search(ctx context.Context, query string, limit int, debug bool) (*Response, error) {
	if e.maxResults > 0 && (limit <= 0 || limit > e.maxResults) {
		limit = e.maxResults
	}

	resp := &Response{Query: query, Results: []Result{}}
	if debug {
		resp.Trace = &evaluator.Trace{}
	}

	tokens := parser.Parse(query)
	if len(tokens) == 0 {
		return resp, nil
	}

	evalCtx, span := tracing.StartChildSpan(ctx, "search.evaluate")
	matched, err := e.evaluator.Evaluate(evalCtx, tokens, resp.Trace)
	span.SetAttr("matches", len(matched))
	span.End()
	if err != nil {
		return nil, err
	}
	resp.TotalHits = len(matched)
	if len(matched) == 0 {
		return resp, nil
	}

	docIDs := make([]int64, 0, len(matched))
	for id := range matched {
		docIDs = append(docIDs, id)
	}

	rankCtx, span := tracing.StartChildSpan(ctx, "search.rank")
	scores, err := e.ranker.Rank(rankCtx, docIDs, parser.ScoringTerms(tokens))
	span.End()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}

	fetchCtx, span := tracing.StartChildSpan(ctx, "search.fetch")
	results, err := e.attachMetadata(fetchCtx, scores)
	span.End()
	if err != nil {
		return nil, err
	}
	resp.Results = results

	e.logger.Debug("query executed",
		"query", query,
		"total_hits", resp.TotalHits,
		"returned", len(resp.Results),
	)
	return resp, nil
}

// attachMetadata joins the ranked scores with document rows, preserving the
// ranker's order.
func (e *Executor) attachMetadata(ctx context.Context, scores []ranker.Score) ([]Result, error) {
	ids := make([]int64, len(scores))
	for i, s := range scores {
		ids[i] = s.DocID
	}
	docs, err := e.store.DocumentsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching result metadata: %w", err)
	}
	byID := make(map[int64]storage.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	results := make([]Result, 0, len(scores))
	for _, s := range scores {
		doc, ok := byID[s.DocID]
		if !ok {
			// The document disappeared between evaluation and fetch; skip it
			// rather than failing the whole query.
			continue
		}
		results = append(results, Result{
			DocID:    doc.ID,
			Filename: doc.Filename,
			Snippet:  doc.Snippet,
			TFIDF:    s.TFIDF,
			Cosine:   s.Cosine,
		})
	}
	return results, nil
}
