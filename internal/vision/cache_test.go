package vision

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingClassifier struct {
	calls int
	err   error
}

func (c *countingClassifier) Enabled() bool { return true }

func (c *countingClassifier) Analyze(ctx context.Context, image []byte) (Signals, error) {
	c.calls++
	if c.err != nil {
		return Signals{}, c.err
	}
	return Signals{APISuccess: true, Labels: []Label{{Description: "house", Score: 0.9}}}, nil
}

func TestCacheReusesSignalsForSameBytes(t *testing.T) {
	inner := &countingClassifier{}
	cached := WithCache(inner, time.Minute).(*cachingClassifier)
	now := time.Now()
	cached.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := cached.Analyze(context.Background(), []byte("same image")); err != nil {
			t.Fatalf("analyze: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", inner.calls)
	}

	if _, err := cached.Analyze(context.Background(), []byte("other image")); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("different bytes should miss the cache, got %d calls", inner.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := cached.Analyze(context.Background(), []byte("same image")); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expired entry should be refreshed, got %d calls", inner.calls)
	}
}

func TestCacheSkipsFailures(t *testing.T) {
	inner := &countingClassifier{err: errors.New("boom")}
	cached := WithCache(inner, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cached.Analyze(context.Background(), []byte("img")); err == nil {
			t.Fatalf("expected error")
		}
	}
	if inner.calls != 2 {
		t.Fatalf("failures must not be cached, got %d calls", inner.calls)
	}
}

func cachedCount(c *cachingClassifier) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func TestCacheSweepsExpiredEntries(t *testing.T) {
	inner := &countingClassifier{}
	cached := WithCache(inner, time.Minute).(*cachingClassifier)
	now := time.Now()
	cached.now = func() time.Time { return now }

	for _, img := range []string{"a", "b", "c"} {
		if _, err := cached.Analyze(context.Background(), []byte(img)); err != nil {
			t.Fatalf("analyze: %v", err)
		}
	}
	if got := cachedCount(cached); got != 3 {
		t.Fatalf("expected 3 entries got %d", got)
	}

	now = now.Add(2 * time.Minute)
	if _, err := cached.Analyze(context.Background(), []byte("d")); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got := cachedCount(cached); got != 1 {
		t.Fatalf("expired entries should be swept, %d left", got)
	}
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	inner := &countingClassifier{}
	cached := WithCache(inner, time.Hour).(*cachingClassifier)
	cached.maxEntries = 2
	now := time.Now()
	cached.now = func() time.Time { return now }

	for _, img := range []string{"first", "second", "third"} {
		if _, err := cached.Analyze(context.Background(), []byte(img)); err != nil {
			t.Fatalf("analyze: %v", err)
		}
		now = now.Add(time.Second)
	}
	if got := cachedCount(cached); got != 2 {
		t.Fatalf("expected cap of 2 entries got %d", got)
	}

	calls := inner.calls
	if _, err := cached.Analyze(context.Background(), []byte("third")); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if inner.calls != calls {
		t.Fatalf("newest entry should still be cached")
	}
	if _, err := cached.Analyze(context.Background(), []byte("first")); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if inner.calls != calls+1 {
		t.Fatalf("oldest entry should have been evicted")
	}
}
