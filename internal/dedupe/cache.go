// ABOUTME: Bounded, expiring set of recently seen keys
// ABOUTME: The Matrix bridge uses it to drop redelivered room events

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

type entry struct {
	key    string
	seenAt time.Time
}

// Options configures a Cache.
type Options struct {
	// TTL is how long a key counts as seen.
	TTL time.Duration
	// MaxSize caps the number of tracked keys; the oldest key is dropped first.
	MaxSize int
	// SweepInterval is how often expired keys are purged. Zero means one minute;
	// a negative value disables the background sweep.
	SweepInterval time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

// Cache remembers keys for a TTL. Entries are kept in first-seen order so the
// oldest can be dropped in O(1) when the cache is full.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Cache holding up to maxSize keys for ttl each.
func New(ttl time.Duration, maxSize int) *Cache {
	return NewWithOptions(Options{TTL: ttl, MaxSize: maxSize})
}

// NewWithOptions creates a Cache and starts its sweeper unless disabled.
func NewWithOptions(opts Options) *Cache {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = defaultSweepInterval
	}

	c := &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		now:     opts.Now,
		done:    make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		go c.sweepLoop(opts.SweepInterval)
	}
	return c
}

// Contains reports whether key was seen within the TTL.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	return ok && c.live(el.Value.(*entry))
}

// CheckAndMark reports whether key is a duplicate. A new or expired key is
// recorded and false is returned; only one of several concurrent callers
// with the same key gets false.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		if c.live(e) {
			return true
		}
		c.order.Remove(el)
		delete(c.entries, key)
	}
	c.insert(key)
	return false
}

// Mark records key as seen now, refreshing it if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).seenAt = c.now()
		c.order.MoveToBack(el)
		return
	}
	c.insert(key)
}

// Forget removes key so the next CheckAndMark treats it as new.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len returns the number of tracked keys, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep drops expired keys and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	// Front is oldest; stop at the first live entry.
	for el := c.order.Front(); el != nil; {
		e := el.Value.(*entry)
		if c.live(e) {
			break
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.entries, e.key)
		removed++
		el = next
	}
	return removed
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// insert adds a key at the back, dropping the oldest when full. Caller holds mu.
func (c *Cache) insert(key string) {
	for len(c.entries) >= c.maxSize {
		front := c.order.Front()
		if front == nil {
			break
		}
		c.order.Remove(front)
		delete(c.entries, front.Value.(*entry).key)
	}
	c.entries[key] = c.order.PushBack(&entry{key: key, seenAt: c.now()})
}

func (c *Cache) live(e *entry) bool {
	return c.now().Sub(e.seenAt) < c.ttl
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}
