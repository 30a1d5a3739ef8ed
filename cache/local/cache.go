package local

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// ErrWrongType is returned when a key holds a different kind of value than
// the operation expects.
var ErrWrongType = errors.New("cache: operation against a key holding the wrong kind of value")

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

type kind int

const (
	kindString kind = iota
	kindSet
	kindList
)

// item is one key. Strings, sets and lists share the keyspace, so Del and
// Expire work on any of them.
type item struct {
	kind     kind
	str      string
	set      map[string]struct{}
	list     []string // head first
	expireAt time.Time
}

func (it *item) expired(now time.Time) bool {
	return !it.expireAt.IsZero() && now.After(it.expireAt)
}

// LocalCache stands in for Redis on a single node: checkout leases, token
// revocation, battle metadata, the active battle set and recent-battle
// lists.
type LocalCache struct {
	mu    sync.Mutex
	items map[string]*item

	gcInterval time.Duration
	stopGC     chan struct{}
	closeOnce  sync.Once
}

// NewCache creates a LocalCache and starts the background GC goroutine.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		items:      make(map[string]*item),
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the background GC goroutine.
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() { close(c.stopGC) })
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			c.mu.Lock()
			for k, it := range c.items {
				if it.expired(now) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		case <-c.stopGC:
			return
		}
	}
}

// live returns the unexpired item at key. Callers hold c.mu.
func (c *LocalCache) live(key string) *item {
	it, ok := c.items[key]
	if !ok {
		return nil
	}
	if it.expired(time.Now()) {
		delete(c.items, key)
		return nil
	}
	return it
}

// typed returns the item at key, creating it when create is set. A key of
// another kind is ErrWrongType.
func (c *LocalCache) typed(key string, k kind, create bool) (*item, error) {
	it := c.live(key)
	if it == nil {
		if !create {
			return nil, nil
		}
		it = &item{kind: k}
		if k == kindSet {
			it.set = make(map[string]struct{})
		}
		c.items[key] = it
		return it, nil
	}
	if it.kind != k {
		return nil, ErrWrongType
	}
	return it, nil
}

func deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// ---- KV ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.typed(key, kindString, false)
	if err != nil {
		return "", err
	}
	if it == nil {
		return "", ErrNotFound
	}
	return it.str, nil
}

func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &item{kind: kindString, str: value, expireAt: deadline(ttl)}
	return nil
}

func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live(key) != nil, nil
}

// SetNX takes a lease: it stores value only if key is absent or expired.
func (c *LocalCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live(key) != nil {
		return false, nil
	}
	c.items[key] = &item{kind: kindString, str: value, expireAt: deadline(ttl)}
	return true, nil
}

// Expire resets the TTL of a live key of any kind.
func (c *LocalCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := c.live(key)
	if it == nil {
		return ErrNotFound
	}
	it.expireAt = deadline(ttl)
	return nil
}

// DelIfValue releases a lease only for the token that holds it.
func (c *LocalCache) DelIfValue(_ context.Context, key, value string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := c.live(key)
	if it == nil || it.kind != kindString || it.str != value {
		return false, nil
	}
	delete(c.items, key)
	return true, nil
}

// ---- Set ----

func (c *LocalCache) SAdd(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.typed(key, kindSet, true)
	if err != nil {
		return err
	}
	for _, m := range members {
		it.set[m] = struct{}{}
	}
	return nil
}

func (c *LocalCache) SRem(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.typed(key, kindSet, false)
	if err != nil || it == nil {
		return err
	}
	for _, m := range members {
		delete(it.set, m)
	}
	if len(it.set) == 0 {
		delete(c.items, key)
	}
	return nil
}

func (c *LocalCache) SMembers(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.typed(key, kindSet, false)
	if err != nil || it == nil {
		return nil, err
	}
	out := make([]string, 0, len(it.set))
	for m := range it.set {
		out = append(out, m)
	}
	return out, nil
}

// ---- List ----

// LPush prepends values in order, so the last one ends up at the head.
func (c *LocalCache) LPush(_ context.Context, key string, values ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.typed(key, kindList, true)
	if err != nil {
		return err
	}
	head := make([]string, len(values), len(values)+len(it.list))
	for i, v := range values {
		head[len(values)-1-i] = v
	}
	it.list = append(head, it.list...)
	return nil
}

func (c *LocalCache) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.typed(key, kindList, false)
	if err != nil || it == nil {
		return nil, err
	}
	lo, hi, ok := span(int64(len(it.list)), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, it.list[lo:hi+1])
	return out, nil
}

// LTrim keeps only [start, stop]; an empty result removes the key.
func (c *LocalCache) LTrim(_ context.Context, key string, start, stop int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, err := c.typed(key, kindList, false)
	if err != nil || it == nil {
		return err
	}
	lo, hi, ok := span(int64(len(it.list)), start, stop)
	if !ok {
		delete(c.items, key)
		return nil
	}
	it.list = append([]string(nil), it.list[lo:hi+1]...)
	return nil
}

// span resolves Redis-style inclusive indexes, where negatives count from
// the tail, against a list of length n.
func span(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return 0, 0, false
	}
	return start, stop, true
}
