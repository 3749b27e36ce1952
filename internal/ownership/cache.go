package ownership

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds the lifetime of the map and of cached lookups.
const DefaultTTL = 5 * time.Minute

// ContractSource reads the full contract directory.
type ContractSource interface {
	Contracts(ctx context.Context) ([]Contract, error)
}

// MapCache owns the lifecycle of one Map: built lazily on first use, rebuilt
// after TTL expiry, dropped by Invalidate. Concurrent rebuild triggers share a
// single build, which runs detached from any one caller's cancellation; each
// caller stops waiting when its own context ends.
type MapCache struct {
	src ContractSource
	ttl time.Duration

	mu      sync.RWMutex
	current *Map
	expires time.Time
	gen     uint64

	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	builds atomic.Int64

	nowFunc func() time.Time
}

// NewMapCache creates a MapCache. A non-positive ttl falls back to DefaultTTL.
func NewMapCache(src ContractSource, ttl time.Duration) *MapCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MapCache{src: src, ttl: ttl, nowFunc: time.Now}
}

// Get returns the cached map, building it when absent or expired.
func (c *MapCache) Get(ctx context.Context) (*Map, error) {
	c.mu.RLock()
	m, exp, gen := c.current, c.expires, c.gen
	c.mu.RUnlock()

	if m != nil && c.nowFunc().Before(exp) {
		c.hits.Add(1)
		return m, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan("map/"+strconv.FormatUint(gen, 10), func() (any, error) {
		// Another caller may have finished a build while we waited on the lock.
		c.mu.RLock()
		m, exp := c.current, c.expires
		c.mu.RUnlock()
		if m != nil && c.nowFunc().Before(exp) {
			return m, nil
		}
		return c.rebuild(context.WithoutCancel(ctx), gen)
	})

	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "ownership: wait for map build")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Map), nil
	}
}

func (c *MapCache) rebuild(ctx context.Context, gen uint64) (*Map, error) {
	log := zap.L().With(zap.String("component", "ownership.map"))
	start := time.Now()

	contracts, err := c.src.Contracts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ownership: load contract directory")
	}
	m := Build(contracts)
	c.builds.Add(1)

	c.mu.Lock()
	stale := c.gen != gen
	if !stale {
		c.current = m
		c.expires = c.nowFunc().Add(c.ttl)
	}
	c.mu.Unlock()

	log.Info("ownership map built",
		zap.Int("documents", m.Len()),
		zap.Int("contracts", m.Contracts()),
		zap.Int("dropped", m.Dropped()),
		zap.Bool("stale", stale),
		zap.Duration("elapsed", time.Since(start)),
	)
	return m, nil
}

// Invalidate drops the cached map so the next Get rebuilds it. Call it after
// any bulk change to the contract directory. A build already in flight is
// not cached.
func (c *MapCache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.expires = time.Time{}
	c.gen++
	c.mu.Unlock()
	zap.L().Debug("ownership map invalidated")
}

// DocumentSource resolves a legacy entity reference to its raw document.
type DocumentSource interface {
	LookupDocument(ctx context.Context, ref string) (doc string, found bool, err error)
}

// sweepEvery is the number of cache writes between sweeps of expired lookups.
const sweepEvery = 1024

type lookupEntry struct {
	raw     string
	found   bool
	expires time.Time
}

// Lookup caches DocumentSource answers per reference, including negative ones.
// Source calls are shared between concurrent callers of the same reference
// and bounded by the lookup timeout, not by the caller that started them.
type Lookup struct {
	src     DocumentSource
	ttl     time.Duration
	timeout time.Duration

	mu         sync.RWMutex
	entries    map[string]lookupEntry
	gen        uint64
	writes     int
	sweepEvery int

	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64

	nowFunc func() time.Time
}

// NewLookup creates a Lookup. timeout bounds each source call; zero disables it.
func NewLookup(src DocumentSource, ttl, timeout time.Duration) *Lookup {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lookup{
		src:        src,
		ttl:        ttl,
		timeout:    timeout,
		entries:    make(map[string]lookupEntry),
		sweepEvery: sweepEvery,
		nowFunc:    time.Now,
	}
}

// Get returns the raw document for ref and whether the source knew the reference.
func (l *Lookup) Get(ctx context.Context, ref string) (string, bool, error) {
	now := l.nowFunc()

	l.mu.RLock()
	e, ok := l.entries[ref]
	gen := l.gen
	l.mu.RUnlock()
	if ok && now.Before(e.expires) {
		l.hits.Add(1)
		return e.raw, e.found, nil
	}
	l.misses.Add(1)

	ch := l.group.DoChan(strconv.FormatUint(gen, 10)+"/"+ref, func() (any, error) {
		qctx := context.WithoutCancel(ctx)
		if l.timeout > 0 {
			var cancel context.CancelFunc
			qctx, cancel = context.WithTimeout(qctx, l.timeout)
			defer cancel()
		}
		raw, found, err := l.src.LookupDocument(qctx, ref)
		if err != nil {
			return nil, eris.Wrapf(err, "ownership: lookup document for %s", ref)
		}
		entry := lookupEntry{raw: raw, found: found, expires: l.nowFunc().Add(l.ttl)}
		l.store(gen, ref, entry)
		return entry, nil
	})

	select {
	case <-ctx.Done():
		return "", false, eris.Wrapf(ctx.Err(), "ownership: wait for lookup of %s", ref)
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		entry := res.Val.(lookupEntry)
		return entry.raw, entry.found, nil
	}
}

// store caches entry unless the cache was invalidated since gen was read.
// Every sweepEvery writes, expired entries are dropped.
func (l *Lookup) store(gen uint64, ref string, entry lookupEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen {
		return
	}
	l.entries[ref] = entry
	l.writes++
	if l.writes%l.sweepEvery != 0 {
		return
	}
	now := l.nowFunc()
	for k, e := range l.entries {
		if !now.Before(e.expires) {
			delete(l.entries, k)
		}
	}
}

// Invalidate clears every cached lookup. Lookups already in flight are not
// cached.
func (l *Lookup) Invalidate() {
	l.mu.Lock()
	l.entries = make(map[string]lookupEntry)
	l.gen++
	l.mu.Unlock()
}
