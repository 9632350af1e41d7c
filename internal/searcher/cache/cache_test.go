package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/buscadoc/buscadoc/internal/searcher/executor"
)

func TestGetOrComputeWithoutRedis(t *testing.T) {
	c := New(nil, 0, nil)

	calls := 0
	compute := func(context.Context) (*executor.Response, error) {
		calls++
		return &executor.Response{Query: "lince", TotalHits: 1}, nil
	}

	for i := 0; i < 3; i++ {
		resp, cached, err := c.GetOrCompute(context.Background(), "lince", 10, false, compute)
		if err != nil {
			t.Fatal(err)
		}
		if cached {
			t.Error("reported a cache hit with no Redis client")
		}
		if resp.TotalHits != 1 {
			t.Errorf("TotalHits = %d, want 1", resp.TotalHits)
		}
	}
	if calls != 3 {
		t.Errorf("compute ran %d times, want 3 without a cache", calls)
	}
}

func TestGetOrComputePropagatesErrors(t *testing.T) {
	c := New(nil, 0, nil)
	wantErr := errors.New("boom")

	_, _, err := c.GetOrCompute(context.Background(), "lince", 10, false, func(context.Context) (*executor.Response, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestStats(t *testing.T) {
	c := New(nil, 0, nil)
	if s := c.Stats(); s.Hits != 0 || s.Misses != 0 || s.HitRate != 0 {
		t.Errorf("fresh stats = %+v, want zeros", s)
	}

	c.hits.Store(3)
	c.misses.Store(1)
	s := c.Stats()
	if s.HitRate != 0.75 {
		t.Errorf("HitRate = %v, want 0.75", s.HitRate)
	}
}

func TestCacheKeyDistinguishesLimit(t *testing.T) {
	if cacheKey("lince", 10) == cacheKey("lince", 20) {
		t.Error("same key for different limits")
	}
	if cacheKey("lince", 10) != cacheKey("lince", 10) {
		t.Error("key is not deterministic")
	}
}

func TestInvalidateWithoutRedis(t *testing.T) {
	c := New(nil, 0, nil)
	n, err := c.Invalidate(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Invalidate = %d, %v; want 0, nil", n, err)
	}
}
