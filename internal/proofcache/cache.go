package proofcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Incinerator/internal/asset"
	"Incinerator/internal/logger"
)

const (
	// DefaultWindow is how long a fetched proof is served without refetching.
	DefaultWindow = 30 * time.Minute

	// sweepInterval is the interval between expired-entry sweeps.
	sweepInterval = time.Minute
)

// Fetcher retrieves a proof from the indexer.
type Fetcher interface {
	Fetch(ctx context.Context, id asset.ID) (*asset.MerkleProof, error)
}

// Backing is an optional durable tier behind the in-memory cache.
// storage.ProofStore implements it.
type Backing interface {
	Load(id asset.ID) (*asset.MerkleProof, time.Time, error)
	Save(id asset.ID, proof *asset.MerkleProof, fetchedAt time.Time) error
	Delete(id asset.ID) error
	Prune(cutoff time.Time) (int, error)
}

// Entry is one cached proof with the time it was fetched.
type Entry struct {
	AssetID   asset.ID           // AssetID is the cache key
	Proof     *asset.MerkleProof // Proof is never handed out directly, only clones
	FetchedAt time.Time          // FetchedAt is the fetch completion time
}

// Cache maps asset ids to their most recently fetched proof.
// Concurrent misses for the same id each fetch; the last write wins.
type Cache struct {
	entries sync.Map // entries maps asset.ID to *Entry

	fetcher Fetcher
	backing Backing
	window  time.Duration
	now     func() time.Time
	log     *slog.Logger

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithWindow sets the freshness window.
func WithWindow(d time.Duration) Option {
	return func(c *Cache) { c.window = d }
}

// WithBacking adds a durable tier that is written through on every fetch
// and consulted on memory misses.
func WithBacking(b Backing) Option {
	return func(c *Cache) { c.backing = b }
}

// New creates a cache that fills misses through fetcher.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		window:  DefaultWindow,
		now:     time.Now,
		log:     logger.With("component", "proofcache"),
		stop:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Window returns the freshness window.
func (c *Cache) Window() time.Duration {
	return c.window
}

// GetProof returns a fresh proof for id, fetching it if the cached entry
// is missing or has reached the freshness window. Fetch errors are
// returned as-is and leave the cache untouched.
func (c *Cache) GetProof(ctx context.Context, id asset.ID) (*asset.MerkleProof, error) {
	if e := c.lookup(id); e != nil && c.fresh(e, 0) {
		return e.Proof.Clone(), nil
	}

	return c.Refresh(ctx, id)
}

// Refresh fetches id unconditionally and replaces the cached entry.
func (c *Cache) Refresh(ctx context.Context, id asset.ID) (*asset.MerkleProof, error) {
	proof, err := c.fetcher.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch proof %s:\n%w", id, err)
	}

	e := &Entry{AssetID: id, Proof: proof.Clone(), FetchedAt: c.now()}
	c.entries.Store(id, e)

	if c.backing != nil {
		if err := c.backing.Save(id, e.Proof, e.FetchedAt); err != nil {
			c.log.Warn("persist proof", "asset", id, "error", err)
		}
	}

	return proof.Clone(), nil
}

// Invalidate drops the entry for id so the next GetProof refetches.
func (c *Cache) Invalidate(id asset.ID) {
	c.entries.Delete(id)

	if c.backing != nil {
		if err := c.backing.Delete(id); err != nil {
			c.log.Warn("delete persisted proof", "asset", id, "error", err)
		}
	}
}

// Fresh reports whether id has an entry younger than the window.
func (c *Cache) Fresh(id asset.ID) bool {
	return c.FreshFor(id, 0)
}

// FreshFor reports whether id will still be fresh after d.
func (c *Cache) FreshFor(id asset.ID, d time.Duration) bool {
	e := c.lookup(id)

	return e != nil && c.fresh(e, d)
}

// Peek returns a copy of the entry for id without fetching.
func (c *Cache) Peek(id asset.ID) (Entry, bool) {
	e := c.lookup(id)
	if e == nil {
		return Entry{}, false
	}

	return Entry{AssetID: e.AssetID, Proof: e.Proof.Clone(), FetchedAt: e.FetchedAt}, true
}

// Len returns the number of in-memory entries, fresh or not.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})

	return n
}

// Sweep evicts expired in-memory entries and prunes the backing tier.
// Returns the number of in-memory entries evicted.
func (c *Cache) Sweep() int {
	evicted := 0

	c.entries.Range(func(key, value any) bool {
		e := value.(*Entry)
		if !c.fresh(e, 0) {
			// Only delete the entry we looked at; a concurrent refresh may have replaced it
			if c.entries.CompareAndDelete(key, e) {
				evicted++
			}
		}
		return true
	})

	if c.backing != nil {
		if n, err := c.backing.Prune(c.now().Add(-c.window)); err != nil {
			c.log.Warn("prune persisted proofs", "error", err)
		} else if n > 0 {
			c.log.Debug("pruned persisted proofs", "count", n)
		}
	}

	return evicted
}

// StartSweeper starts the background eviction loop. Close stops it.
func (c *Cache) StartSweeper() {
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.log.Debug("swept expired proofs", "count", n)
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops the sweeper if it was started.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()
	})
}

// lookup returns the in-memory entry for id, promoting a fresh persisted
// record on a memory miss.
func (c *Cache) lookup(id asset.ID) *Entry {
	if v, ok := c.entries.Load(id); ok {
		return v.(*Entry)
	}

	if c.backing == nil {
		return nil
	}

	proof, fetchedAt, err := c.backing.Load(id)
	if err != nil {
		c.log.Warn("load persisted proof", "asset", id, "error", err)
		return nil
	}

	if proof == nil {
		return nil
	}

	e := &Entry{AssetID: id, Proof: proof, FetchedAt: fetchedAt}
	if !c.fresh(e, 0) {
		return nil
	}

	// A concurrent fetch may have stored a newer entry meanwhile
	actual, _ := c.entries.LoadOrStore(id, e)

	return actual.(*Entry)
}

// fresh reports whether e is younger than the window at now+ahead.
func (c *Cache) fresh(e *Entry, ahead time.Duration) bool {
	return c.now().Add(ahead).Sub(e.FetchedAt) < c.window
}
