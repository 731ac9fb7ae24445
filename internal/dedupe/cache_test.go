// ABOUTME: Tests for the dedupe cache
// ABOUTME: Uses a manual clock for expiry, eviction order, sweeping and concurrent marking

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func newTestCache(t *testing.T, ttl time.Duration, size int) (*Cache, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewWithOptions(Options{TTL: ttl, MaxSize: size, SweepInterval: -1, Now: clock.Now})
	t.Cleanup(c.Close)
	return c, clock
}

func TestCheckAndMark(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	assert.False(t, c.CheckAndMark("$evt1"), "first delivery is new")
	assert.True(t, c.CheckAndMark("$evt1"), "redelivery is a duplicate")
	assert.True(t, c.Contains("$evt1"))

	clock.Advance(time.Minute)
	assert.False(t, c.Contains("$evt1"))
	assert.False(t, c.CheckAndMark("$evt1"), "expired key counts as new")
	assert.Equal(t, 1, c.Len())
}

func TestMark_Refreshes(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.Mark("k")
	clock.Advance(40 * time.Second)
	c.Mark("k")
	clock.Advance(40 * time.Second)

	assert.True(t, c.Contains("k"))
}

func TestEvictsOldestWhenFull(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 3)

	for _, k := range []string{"a", "b", "c"} {
		c.Mark(k)
	}
	c.Mark("a") // refresh moves a to the back
	c.Mark("d")

	assert.False(t, c.Contains("b"), "b is now the oldest")
	assert.True(t, c.Contains("a"))
	assert.True(t, c.Contains("c"))
	assert.True(t, c.Contains("d"))
	assert.Equal(t, 3, c.Len())
}

func TestForget(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)

	c.Mark("k")
	c.Forget("k")
	c.Forget("missing")

	assert.False(t, c.CheckAndMark("k"))
}

func TestSweep(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.Mark("old-1")
	c.Mark("old-2")
	clock.Advance(45 * time.Second)
	c.Mark("fresh")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Contains("fresh"))
	assert.Zero(t, c.Sweep())
}

func TestNewWithOptions_Defaults(t *testing.T) {
	c := NewWithOptions(Options{TTL: time.Minute})
	defer c.Close()

	c.Mark("a")
	c.Mark("b")
	assert.Equal(t, 1, c.Len(), "non-positive MaxSize holds a single key")
}

func TestCheckAndMark_OneWinner(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 100)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			if !c.CheckAndMark("contested") {
				winners.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestConcurrentUse(t *testing.T) {
	c := New(time.Hour, 64)
	defer c.Close()

	var wg sync.WaitGroup
	for g := range 16 {
		wg.Go(func() {
			for i := range 100 {
				key := fmt.Sprintf("%d-%d", g, i%10)
				c.CheckAndMark(key)
				c.Contains(key)
			}
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 64)
	c.Close()
}
