package ranker

import (
	"context"
	"math"
	"testing"

	"github.com/buscadoc/buscadoc/internal/indexer"
	"github.com/buscadoc/buscadoc/internal/storage/memory"
)

func TestRankOrdersByRelevance(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := indexer.New(store, 0)

	// denso.txt mentions the query term three times out of four tokens,
	// disperso.txt once out of four. A third document keeps N up so the IDF
	// is positive.
	dense, err := ix.Index(ctx, "denso.txt", "", "lince lince lince iberico")
	if err != nil {
		t.Fatal(err)
	}
	sparse, err := ix.Index(ctx, "disperso.txt", "", "lince montes bosque sierra")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Index(ctx, "otro.txt", "", "rio caudal puente"); err != nil {
		t.Fatal(err)
	}

	scores, err := New(store).Rank(ctx, []int64{sparse, dense}, []string{"lince"})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("got %d scores, want 2", len(scores))
	}
	if scores[0].DocID != dense {
		t.Errorf("best document = %d, want the term-dense one %d", scores[0].DocID, dense)
	}
	if scores[0].TFIDF <= scores[1].TFIDF {
		t.Errorf("TFIDF not descending: %v then %v", scores[0].TFIDF, scores[1].TFIDF)
	}

	// idf = ln(3/2); dense tf = 3/4.
	idf := math.Log(3.0 / 2.0)
	want := 0.75 * idf
	if diff := math.Abs(scores[0].TFIDF - want); diff > 1e-12 {
		t.Errorf("dense TFIDF = %v, want %v", scores[0].TFIDF, want)
	}
}

func TestRankCosineFavoursSimilarDistribution(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := indexer.New(store, 0)

	ids := make(map[string]int64, 3)
	for _, d := range []struct{ name, text string }{
		{"a.txt", "lince iberico lince"},
		{"b.txt", "lince bosque"},
		{"c.txt", "bosque sierra niebla"},
	} {
		id, err := ix.Index(ctx, d.name, "", d.text)
		if err != nil {
			t.Fatal(err)
		}
		ids[d.name] = id
	}

	scores, err := New(store).Rank(ctx, []int64{ids["a.txt"], ids["b.txt"], ids["c.txt"]}, []string{"lince", "bosque"})
	if err != nil {
		t.Fatal(err)
	}
	cosines := make(map[int64]float64, len(scores))
	for _, s := range scores {
		if s.Cosine <= 0 {
			t.Errorf("doc %d cosine = %v, want > 0 for documents sharing a query term", s.DocID, s.Cosine)
		}
		cosines[s.DocID] = s.Cosine
	}

	// b.txt contains both query terms in the query's own proportions, so its
	// direction is closest to the query vector.
	if cosines[ids["b.txt"]] <= cosines[ids["a.txt"]] || cosines[ids["b.txt"]] <= cosines[ids["c.txt"]] {
		t.Errorf("cosines = %v, want b.txt highest", cosines)
	}
}

func TestRankZeroScoreStillListed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := indexer.New(store, 0)

	id, err := ix.Index(ctx, "a.txt", "", "bosque sierra")
	if err != nil {
		t.Fatal(err)
	}

	// A NOT-only query matches documents containing none of the scoring
	// terms; they keep zero scores but must not be dropped.
	scores, err := New(store).Rank(ctx, []int64{id}, []string{"lince"})
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 1 || scores[0].DocID != id {
		t.Fatalf("scores = %v, want the single matched document", scores)
	}
	if scores[0].TFIDF != 0 || scores[0].Cosine != 0 {
		t.Errorf("scores = %+v, want zeros", scores[0])
	}
}

func TestRankTieBreaksByDocID(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := indexer.New(store, 0)

	first, err := ix.Index(ctx, "a.txt", "", "lince bosque")
	if err != nil {
		t.Fatal(err)
	}
	second, err := ix.Index(ctx, "b.txt", "", "lince sierra")
	if err != nil {
		t.Fatal(err)
	}

	scores, err := New(store).Rank(ctx, []int64{second, first}, []string{"lince"})
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 2 || scores[0].DocID != first || scores[1].DocID != second {
		t.Errorf("tie order = %v, want ascending document IDs %d, %d", scores, first, second)
	}
}

func TestRankEmptyInputs(t *testing.T) {
	store := memory.New()
	r := New(store)

	scores, err := r.Rank(context.Background(), nil, []string{"lince"})
	if err != nil || len(scores) != 0 {
		t.Errorf("Rank(no docs) = %v, %v; want empty", scores, err)
	}

	ctx := context.Background()
	id, err := indexer.New(store, 0).Index(ctx, "a.txt", "", "bosque")
	if err != nil {
		t.Fatal(err)
	}
	scores, err = r.Rank(ctx, []int64{id}, nil)
	if err != nil || len(scores) != 1 {
		t.Fatalf("Rank(no terms) = %v, %v; want the document with zero scores", scores, err)
	}
	if scores[0].TFIDF != 0 {
		t.Errorf("TFIDF = %v without query terms, want 0", scores[0].TFIDF)
	}
}

func TestRankQueryVectorUsesCorpusDF(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := indexer.New(store, 0)

	matched, err := ix.Index(ctx, "a.txt", "", "lince iberico")
	if err != nil {
		t.Fatal(err)
	}
	// "bosque" appears in two other documents but in no matched one, so its
	// df comes from the term lookup, not from a scoring row.
	if _, err := ix.Index(ctx, "b.txt", "", "bosque sierra"); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Index(ctx, "c.txt", "", "bosque niebla"); err != nil {
		t.Fatal(err)
	}

	scores, err := New(store).Rank(ctx, []int64{matched}, []string{"lince", "bosque"})
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 1 {
		t.Fatalf("got %d scores, want 1", len(scores))
	}

	// N=3, df(lince)=1, df(bosque)=2; tf(lince in a.txt)=1/2; doc magnitude
	// sqrt(2*(1/2)²). bosque contributes to the query magnitude with its
	// real corpus df even though no matched document contains it.
	idfLince := math.Log(3.0)
	idfBosque := math.Log(3.0 / 2.0)
	docWeight := 0.5 * idfLince
	queryMag := math.Sqrt(0.25*idfLince*idfLince + 0.25*idfBosque*idfBosque)
	docMag := math.Sqrt(0.5)
	wantCosine := docWeight * 0.5 * idfLince / (docMag * queryMag)

	if diff := math.Abs(scores[0].TFIDF - docWeight); diff > 1e-12 {
		t.Errorf("TFIDF = %v, want %v", scores[0].TFIDF, docWeight)
	}
	if diff := math.Abs(scores[0].Cosine - wantCosine); diff > 1e-12 {
		t.Errorf("Cosine = %v, want %v", scores[0].Cosine, wantCosine)
	}
}

func TestRankUnknownTermUsesFlooredDF(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ix := indexer.New(store, 0)

	id, err := ix.Index(ctx, "a.txt", "", "bosque sierra")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Index(ctx, "b.txt", "", "rio caudal"); err != nil {
		t.Fatal(err)
	}

	// The unknown term has no posting anywhere, so it cannot raise any
	// document's score, but the floored df must not make Rank fail.
	scores, err := New(store).Rank(ctx, []int64{id}, []string{"quimera"})
	if err != nil {
		t.Fatalf("Rank with unknown term: %v", err)
	}
	if len(scores) != 1 || scores[0].TFIDF != 0 {
		t.Errorf("scores = %v, want one zero-scored document", scores)
	}
}
