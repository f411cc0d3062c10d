// Package cache is a keyed cache of remote-fetched entities with
// invalidation-on-mutation semantics, request de-duplication and a
// loading/error projection for consumers.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Status tracks the lifecycle of a cache entry:
// idle -> loading -> {success, error}; success/error -> loading on refetch.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Entry is the consumer-facing projection of one key.
type Entry struct {
	Key    string
	Data   any
	Status Status
	Err    error
}

// Loader fetches the value for a key from the origin.
type Loader func(ctx context.Context) (any, error)

// Cache holds at most one in-flight loader per key. Concurrent Fetch calls
// for the same key join the pending call instead of issuing their own;
// an entry never transitions loading -> loading.
type Cache struct {
	log   *zap.Logger
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	subs    []func(key string)
}

type entry struct {
	data   any
	status Status
	err    error
	stale  bool
	gen    uint64 // bumped on invalidation; a flight that straddles a bump commits stale
}

// flight carries a loader result through singleflight together with the
// entry generation observed when the load began.
type flight struct {
	data any
	gen  uint64
}

// New constructs an empty Cache.
func New(log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{log: log, entries: map[string]*entry{}}
}

// Subscribe registers fn to run after every entry transition, with the key
// that changed. Consumers re-read via Peek or Fetch.
func (c *Cache) Subscribe(fn func(key string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

func (c *Cache) notify(key string) {
	c.mu.Lock()
	subs := append([]func(string){}, c.subs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(key)
	}
}

// Peek reports the current projection for key without triggering a load.
func (c *Cache) Peek(key string) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{Key: key, Status: StatusIdle}
	}
	return Entry{Key: key, Data: e.data, Status: e.status, Err: e.err}
}

// Fetch returns the cached value for key, running loader when the entry is
// missing, stale or failed. loader runs at most once per refresh regardless
// of how many callers ask concurrently. An invalidation that lands while a
// load is in flight commits that load's result as stale and Fetch runs the
// loader again, so the caller never settles on pre-invalidation data.
func (c *Cache) Fetch(ctx context.Context, key string, loader Loader) (any, error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if ok && e.status == StatusSuccess && !e.stale {
			data := e.data
			c.mu.Unlock()
			return data, nil
		}
		if !ok {
			e = &entry{}
			c.entries[key] = e
		}
		loading := e.status == StatusLoading
		e.status = StatusLoading
		c.mu.Unlock()
		if !loading {
			c.notify(key)
		}

		v, err, shared := c.group.Do(key, func() (any, error) {
			gen := c.generation(key)
			data, err := loader(ctx)
			if err != nil {
				return nil, err
			}
			return flight{data: data, gen: gen}, nil
		})

		var stale bool
		c.mu.Lock()
		e = c.entries[key]
		if e == nil {
			e = &entry{}
			c.entries[key] = e
		}
		if err != nil {
			e.status = StatusError
			e.err = err
		} else {
			f := v.(flight)
			stale = f.gen != e.gen
			e.status = StatusSuccess
			e.err = nil
			e.data = f.data
			e.stale = stale
		}
		c.mu.Unlock()
		c.notify(key)

		if err != nil {
			c.log.Debug("load failed", zap.String("key", key), zap.Error(err))
			return nil, err
		}
		if shared {
			c.log.Debug("load shared", zap.String("key", key))
		}
		if !stale {
			return v.(flight).data, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (c *Cache) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.gen
	}
	return 0
}

// Invalidate marks the given keys stale so the next Fetch re-runs the
// loader. Unknown keys and repeated calls are no-ops. A load already in
// flight keeps running; the generation bump makes its result commit stale,
// so joiners refetch once it lands instead of starting a second loader.
func (c *Cache) Invalidate(keys ...string) {
	var hit []string
	c.mu.Lock()
	for _, k := range keys {
		e, ok := c.entries[k]
		if !ok {
			continue
		}
		e.gen++
		if !e.stale {
			e.stale = true
			hit = append(hit, k)
		}
	}
	c.mu.Unlock()
	for _, k := range hit {
		c.notify(k)
	}
}

// InvalidatePrefix marks every key with the given prefix stale. List keys
// embed their filter query, so "tasks" covers "tasks?status=todo" too.
func (c *Cache) InvalidatePrefix(prefix string) {
	var hit []string
	c.mu.Lock()
	for k, e := range c.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		e.gen++
		if !e.stale {
			e.stale = true
			hit = append(hit, k)
		}
	}
	c.mu.Unlock()
	for _, k := range hit {
		c.notify(k)
	}
}

// Mutate runs a write action and, only when it succeeds, invalidates the
// given keys so the next read observes fresh data. A trailing "*" on a key
// invalidates by prefix. A failed action leaves every cached entry intact.
func (c *Cache) Mutate(ctx context.Context, action func(ctx context.Context) error, keys ...string) error {
	if err := action(ctx); err != nil {
		return err
	}
	for _, k := range keys {
		if p, ok := strings.CutSuffix(k, "*"); ok {
			c.InvalidatePrefix(p)
		} else {
			c.Invalidate(k)
		}
	}
	return nil
}

// Get is a typed wrapper over Fetch.
func Get[T any](ctx context.Context, c *Cache, key string, loader func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: key %q holds %T", key, v)
	}
	return out, nil
}
