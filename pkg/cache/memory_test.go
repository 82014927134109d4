package cache

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemorySetGetExpiry(t *testing.T) {
	clock := newClock()
	c := NewMemory(WithClock(clock.Now))

	c.Set("stats:42", "v", 120*time.Second)

	clock.Advance(119999 * time.Millisecond)
	v, ok := c.Get("stats:42")
	require.True(t, ok)
	require.Equal(t, "v", v)

	clock.Advance(time.Millisecond)
	_, ok = c.Get("stats:42")
	require.False(t, ok)
	require.Equal(t, 0, c.Len(), "expired entry is removed on read")
}

func TestMemorySetOverwrites(t *testing.T) {
	clock := newClock()
	c := NewMemory(WithClock(clock.Now))

	c.Set("k", 1, time.Second)
	c.Set("k", 2, time.Minute)
	clock.Advance(2 * time.Second)

	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestMemoryDel(t *testing.T) {
	c := NewMemory()
	c.Set("k", "v", time.Minute)

	c.Del("k")
	c.Del("missing")

	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestMemoryDelPattern(t *testing.T) {
	c := NewMemory()
	c.Set("leaderboard:weekly:10", 1, time.Minute)
	c.Set("leaderboard:monthly:10", 2, time.Minute)
	c.Set("stats:7", 3, time.Minute)

	removed := c.DelPattern("leaderboard:*")
	require.Equal(t, 2, removed)

	_, ok := c.Get("leaderboard:weekly:10")
	require.False(t, ok)
	_, ok = c.Get("leaderboard:monthly:10")
	require.False(t, ok)
	v, ok := c.Get("stats:7")
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestMemoryDelPatternEscapesMetacharacters(t *testing.T) {
	c := NewMemory()
	c.Set("a.b:1", 1, time.Minute)
	c.Set("aXb:1", 2, time.Minute)
	c.Set("(x)+", 3, time.Minute)

	require.Equal(t, 1, c.DelPattern("a.b:*"))
	_, ok := c.Get("aXb:1")
	require.True(t, ok, "dot must match literally")

	require.Equal(t, 1, c.DelPattern("(x)+"))
	require.Equal(t, 0, c.DelPattern("aXb"), "pattern is anchored to the full key")
}

func TestMemoryClear(t *testing.T) {
	c := NewMemory()
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	c.Clear()

	require.Equal(t, 0, c.Len())
}

func TestMemoryConcurrentAccess(t *testing.T) {
	c := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Set("leaderboard:weekly:10", j, time.Minute)
				c.Get("leaderboard:weekly:10")
				c.DelPattern("leaderboard:*")
			}
		}()
	}
	wg.Wait()
}

type payload struct {
	Score int64 `json:"score"`
}

func TestGetAs(t *testing.T) {
	c := NewMemory()

	c.Set("typed", payload{Score: 60}, time.Minute)
	got, ok := GetAs[payload](c, "typed")
	require.True(t, ok)
	require.Equal(t, int64(60), got.Score)

	raw, err := json.Marshal(payload{Score: 10})
	require.NoError(t, err)
	c.Set("encoded", json.RawMessage(raw), time.Minute)
	got, ok = GetAs[payload](c, "encoded")
	require.True(t, ok)
	require.Equal(t, int64(10), got.Score)

	c.Set("wrong", "text", time.Minute)
	_, ok = GetAs[payload](c, "wrong")
	require.False(t, ok)

	_, ok = GetAs[payload](c, "missing")
	require.False(t, ok)
}

func TestEscapeRedisGlob(t *testing.T) {
	require.Equal(t, `leaderboard:*`, escapeRedisGlob("leaderboard:*"))
	require.Equal(t, `a\?b\[c\]\\`, escapeRedisGlob(`a?b[c]\`))
}
