package proofcache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"Incinerator/internal/asset"
	"Incinerator/internal/logger"
)

const (
	// DefaultBatchSize is the number of proofs fetched concurrently per batch.
	DefaultBatchSize = 2

	// DefaultBatchDelay is the pause between consecutive batches.
	DefaultBatchDelay = 2 * time.Second

	// DefaultRefreshInterval is how often the visible set is re-warmed
	// even when it has not changed.
	DefaultRefreshInterval = 5 * time.Minute

	// DefaultFetchTimeout bounds each prefetch fetch on its own.
	DefaultFetchTimeout = 15 * time.Second
)

// PassStats summarizes one prefetch pass.
type PassStats struct {
	Visible    int   // Visible is the number of distinct visible ids
	Skipped    int   // Skipped ids were fresh in the cache
	Fetched    int   // Fetched ids were stored successfully
	Failed     int   // Failed fetches are logged and left for the next pass
	BatchSizes []int // BatchSizes lists the size of each batch in order
	Aborted    bool  // Aborted is set when the pass was stopped early
}

// Scheduler keeps the proofs of the visible asset set warm.
// It runs a pass when the visible set changes and every refresh interval.
type Scheduler struct {
	cache *Cache

	batchSize    int
	delay        time.Duration
	refresh      time.Duration
	fetchTimeout time.Duration
	after        func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	visible []asset.ID
	cancel  context.CancelFunc // cancel is non-nil while the loop runs

	notify chan struct{} // notify has capacity 1; a pending signal coalesces changes
	wg     sync.WaitGroup
	log    *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithBatchSize sets how many proofs are fetched concurrently.
func WithBatchSize(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBatchDelay sets the pause between batches.
func WithBatchDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.delay = d }
}

// WithRefreshInterval sets how often an unchanged set is re-warmed.
func WithRefreshInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.refresh = d }
}

// WithFetchTimeout bounds each fetch of a pass independently.
func WithFetchTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// NewScheduler creates a scheduler that warms cache.
func NewScheduler(cache *Cache, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cache:        cache,
		batchSize:    DefaultBatchSize,
		delay:        DefaultBatchDelay,
		refresh:      DefaultRefreshInterval,
		fetchTimeout: DefaultFetchTimeout,
		after:        time.After,
		notify:       make(chan struct{}, 1),
		log:          logger.With("component", "prefetch"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SetVisible replaces the visible set. It never blocks.
func (s *Scheduler) SetVisible(ids []asset.ID) {
	s.mu.Lock()
	s.visible = append([]asset.ID(nil), ids...)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Visible returns a copy of the current visible set.
func (s *Scheduler) Visible() []asset.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]asset.ID(nil), s.visible...)
}

// Start begins the background prefetch loop. It is a no-op while the
// loop is already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels any pass in progress and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	s.wg.Wait()
}

// loop runs passes on visible-set changes and on the refresh ticker.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		case <-ticker.C:
		}

		start := time.Now()
		stats := s.RunPass(ctx)

		s.log.Debug("prefetch pass",
			"visible", stats.Visible,
			"skipped", stats.Skipped,
			"fetched", stats.Fetched,
			"failed", stats.Failed,
			"batches", len(stats.BatchSizes),
			logger.Timed(start),
		)
	}
}

// RunPass warms every visible id that will not stay fresh until the next
// refresh. Batches are fetched one after another with the batch delay in
// between; members of a batch are fetched concurrently.
func (s *Scheduler) RunPass(ctx context.Context) PassStats {
	ids := dedupe(s.Visible())
	stats := PassStats{Visible: len(ids)}

	var pending []asset.ID
	for _, id := range ids {
		// Entries expiring before the next refresh are re-warmed now.
		if s.cache.FreshFor(id, s.refresh) {
			stats.Skipped++
			continue
		}
		pending = append(pending, id)
	}

	for i, batch := range partition(pending, s.batchSize) {
		if i > 0 {
			select {
			case <-s.after(s.delay):
			case <-ctx.Done():
				stats.Aborted = true
				return stats
			}
		}

		fetched, failed := s.fetchBatch(ctx, batch)
		stats.Fetched += fetched
		stats.Failed += failed
		stats.BatchSizes = append(stats.BatchSizes, len(batch))
	}

	return stats
}

// fetchBatch refreshes every id of batch concurrently, each under its
// own fetch timeout.
func (s *Scheduler) fetchBatch(ctx context.Context, batch []asset.ID) (fetched, failed int) {
	var ok, bad atomic.Int32
	var wg sync.WaitGroup

	for _, id := range batch {
		wg.Add(1)

		go func(id asset.ID) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
			defer cancel()

			if _, err := s.cache.Refresh(fetchCtx, id); err != nil {
				bad.Add(1)
				s.log.Warn("prefetch proof", "asset", id, "code", asset.Code(err), "error", err)
				return
			}

			ok.Add(1)
		}(id)
	}

	wg.Wait()

	return int(ok.Load()), int(bad.Load())
}

// dedupe drops repeated ids, keeping first occurrences in order.
func dedupe(ids []asset.ID) []asset.ID {
	seen := make(map[asset.ID]struct{}, len(ids))
	out := ids[:0]

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}

// partition splits ids into consecutive batches of at most size.
func partition(ids []asset.ID, size int) [][]asset.ID {
	var batches [][]asset.ID

	for len(ids) > 0 {
		n := min(size, len(ids))
		batches = append(batches, ids[:n])
		ids = ids[n:]
	}

	return batches
}
