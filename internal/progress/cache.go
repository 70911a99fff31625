package progress

import (
	"math"
	"sync"
	"sync/atomic"
)

// Cache is the process-wide map from episode id to download progress.
// It is the source of truth for "how far along is this download" queries.
//
// Values are percentages rounded to 2 decimal places; a nil value means the
// total size is unknown (indeterminate progress). A missing key is distinct
// from 0%: it means the download has not started or has finished.
type Cache struct {
	mu      sync.Mutex
	entries atomic.Pointer[map[string]*float64]
	subs    map[string]map[int]chan *float64
	nextSub int
}

func NewCache() *Cache {
	c := &Cache{subs: make(map[string]map[int]chan *float64)}
	empty := make(map[string]*float64)
	c.entries.Store(&empty)

	return c
}

// UpdateProgress records the byte counts for an episode. A non-positive
// total yields an indeterminate (nil) percentage. Updates that do not move
// the rounded percentage are dropped so observers are not flooded with
// imperceptible deltas.
func (c *Cache) UpdateProgress(id string, downloaded, total int64) {
	var percent *float64

	if total > 0 {
		p := float64(downloaded) * 100 / float64(total)
		p = math.Round(p*100) / 100

		if p < 0 {
			p = 0
		}

		if p > 100 {
			p = 100
		}

		percent = &p
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries := *c.entries.Load()
	if current, ok := entries[id]; ok && equalPercent(current, percent) {
		return
	}

	// Whole-map replace keeps lock-free readers consistent.
	next := make(map[string]*float64, len(entries)+1)
	for k, v := range entries {
		next[k] = v
	}

	next[id] = percent
	c.entries.Store(&next)

	c.publish(id, percent)
}

// ClearProgress removes the entries entirely and closes their streams,
// letting observers distinguish "finished or never started" from "0%".
func (c *Cache) ClearProgress(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := *c.entries.Load()
	next := make(map[string]*float64, len(entries))

	for k, v := range entries {
		next[k] = v
	}

	for _, id := range ids {
		delete(next, id)

		for _, ch := range c.subs[id] {
			close(ch)
		}

		delete(c.subs, id)
	}

	c.entries.Store(&next)
}

// Percent returns the current rounded percentage for an episode. The second
// return reports whether any progress is tracked; the percentage itself is
// nil when the total size is unknown.
func (c *Cache) Percent(id string) (*float64, bool) {
	percent, ok := (*c.entries.Load())[id]

	return percent, ok
}

// Subscribe returns a live stream of percentage values for an episode,
// starting with the current value if one is tracked. The channel is closed
// when the entry is cleared. The returned cancel func releases the
// subscription; it is safe to call after the channel is closed.
func (c *Cache) Subscribe(id string) (<-chan *float64, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan *float64, 16)

	if c.subs[id] == nil {
		c.subs[id] = make(map[int]chan *float64)
	}

	key := c.nextSub
	c.nextSub++
	c.subs[id][key] = ch

	if percent, ok := (*c.entries.Load())[id]; ok {
		ch <- percent
	}

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if sub, ok := c.subs[id][key]; ok {
			close(sub)
			delete(c.subs[id], key)
		}
	}

	return ch, cancel
}

// publish must be called with c.mu held. Slow subscribers lose intermediate
// samples but always receive the latest one.
func (c *Cache) publish(id string, percent *float64) {
	for _, ch := range c.subs[id] {
		select {
		case ch <- percent:
		default:
			select {
			case <-ch:
			default:
			}

			select {
			case ch <- percent:
			default:
			}
		}
	}
}

func equalPercent(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}
