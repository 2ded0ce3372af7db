package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewsignal/collector/internal/collect"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func sampleReviews(tool string, n int) []collect.Review {
	out := make([]collect.Review, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, collect.Review{
			Tool:   tool,
			Source: collect.SourceG2,
			Text:   "sample complaint text",
		})
	}
	return out
}

func TestGetReturnsFreshEntry(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(time.Hour, clock)
	key := Key{Tool: "slack", Source: collect.SourceG2}

	c.Put(key, sampleReviews("slack", 3))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Len(t, got, 3)
}

func TestGetExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(time.Hour, clock)
	key := Key{Tool: "slack", Source: collect.SourceG2}

	c.Put(key, sampleReviews("slack", 2))
	clock.advance(time.Hour + time.Second)

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestEmptyResultIsCached(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(time.Hour, clock)
	key := Key{Tool: "unknown", Source: collect.SourceCapterra}

	c.Put(key, nil)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestGetReturnsCopy(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(time.Hour, clock)
	key := Key{Tool: "slack", Source: collect.SourceG2}

	c.Put(key, sampleReviews("slack", 1))

	got, ok := c.Get(key)
	require.True(t, ok)
	got[0].Text = "mutated"

	again, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "sample complaint text", again[0].Text)
}

func TestKeysAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(time.Hour, clock)

	c.Put(Key{Tool: "slack", Source: collect.SourceG2}, sampleReviews("slack", 1))

	_, ok := c.Get(Key{Tool: "slack", Source: collect.SourceCapterra})
	assert.False(t, ok)
	_, ok = c.Get(Key{Tool: "zoom", Source: collect.SourceG2})
	assert.False(t, ok)
}

func TestPruneRemovesExpired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(time.Minute, clock)

	c.Put(Key{Tool: "a", Source: collect.SourceG2}, sampleReviews("a", 1))
	clock.advance(30 * time.Second)
	c.Put(Key{Tool: "b", Source: collect.SourceG2}, sampleReviews("b", 1))
	clock.advance(45 * time.Second)

	assert.Equal(t, 1, c.Prune())
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get(Key{Tool: "b", Source: collect.SourceG2})
	assert.True(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := New(time.Hour, &fakeClock{now: time.Now()})
	key := Key{Tool: "slack", Source: collect.SourceG2}

	c.Put(key, sampleReviews("slack", 1))
	c.Invalidate(key)

	_, ok := c.Get(key)
	assert.False(t, ok)
}
