// Package pipeline assembles the proof cache, prefetch scheduler and
// transition executor behind the operations the presentation layer uses.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"Incinerator/internal/asset"
	"Incinerator/internal/authority"
	"Incinerator/internal/proofcache"
	"Incinerator/internal/transition"
)

// Indexer fetches proofs and lists owned assets. indexer.Client implements it.
type Indexer interface {
	proofcache.Fetcher
	Assets(ctx context.Context, owner asset.Address) ([]asset.Metadata, error)
}

// Config holds pipeline-wide settings.
type Config struct {
	Executor        transition.Config // Executor holds timeouts and the simulation policy
	StrictAuthority bool              // StrictAuthority fails unauthorized burns instead of downgrading them
	Sink            asset.Address     // Sink overrides the well-known sink (zero keeps the default)
	CacheWindow     time.Duration     // CacheWindow overrides the proof freshness window
	HistorySize     int               // HistorySize bounds the in-memory result history
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		Executor:    transition.DefaultConfig(),
		CacheWindow: proofcache.DefaultWindow,
		HistorySize: transition.DefaultHistorySize,
	}
}

// Deps are the external collaborators.
type Deps struct {
	Indexer  Indexer             // Indexer is required
	Ledger   transition.Ledger   // Ledger is required
	Signer   transition.Signer   // Signer is the default signer; calls may override it
	Keys     *authority.Keyring  // Keys may be nil when no tree authority is held
	Backing  proofcache.Backing  // Backing is the optional durable proof tier
	Observer transition.Observer // Observer receives executor state changes
}

// Pipeline is the compressed-asset state-transition pipeline.
type Pipeline struct {
	cache     *proofcache.Cache
	scheduler *proofcache.Scheduler
	executor  *transition.Executor
	history   *transition.History
	indexer   Indexer
	keys      *authority.Keyring
}

// New wires a pipeline. Start must be called to run background work.
func New(cfg Config, deps Deps) *Pipeline {
	keys := deps.Keys
	if keys == nil {
		keys = authority.NewKeyring(nil)
	}

	cacheOpts := []proofcache.Option{}
	if cfg.CacheWindow > 0 {
		cacheOpts = append(cacheOpts, proofcache.WithWindow(cfg.CacheWindow))
	}
	if deps.Backing != nil {
		cacheOpts = append(cacheOpts, proofcache.WithBacking(deps.Backing))
	}

	cache := proofcache.New(deps.Indexer, cacheOpts...)

	builderOpts := []transition.BuilderOption{transition.WithStrictAuthority(cfg.StrictAuthority)}
	if !cfg.Sink.IsZero() {
		builderOpts = append(builderOpts, transition.WithSink(cfg.Sink))
	}

	var execOpts []transition.ExecutorOption
	if deps.Observer != nil {
		execOpts = append(execOpts, transition.WithObserver(deps.Observer))
	}

	return &Pipeline{
		cache:     cache,
		scheduler: proofcache.NewScheduler(cache, proofcache.WithFetchTimeout(cfg.Executor.FetchTimeout)),
		executor: transition.NewExecutor(cfg.Executor, cache, transition.NewBuilder(keys, builderOpts...),
			deps.Signer, deps.Ledger, keys, execOpts...),
		history: transition.NewHistory(cfg.HistorySize),
		indexer: deps.Indexer,
		keys:    keys,
	}
}

// Start runs the prefetch scheduler and the cache sweeper.
func (p *Pipeline) Start() {
	p.scheduler.Start()
	p.cache.StartSweeper()
}

// Stop halts background work.
func (p *Pipeline) Stop() {
	p.scheduler.Stop()
	p.cache.Close()
}

// RequestTransition disposes of asset id on behalf of owner and records
// the result in the history.
func (p *Pipeline) RequestTransition(ctx context.Context, id asset.ID, owner asset.Address, kind asset.Kind, opts ...transition.CallOption) transition.Result {
	res := p.executor.Execute(ctx, id, owner, kind, opts...)
	p.history.Add(res)

	return res
}

// Prefetch replaces the visible asset set. It returns immediately.
func (p *Pipeline) Prefetch(ids []asset.ID) {
	p.scheduler.SetVisible(ids)
}

// Invalidate drops the cached proof for id.
func (p *Pipeline) Invalidate(id asset.ID) {
	p.cache.Invalidate(id)
}

// Proof returns a fresh proof for id, fetching it if needed.
func (p *Pipeline) Proof(ctx context.Context, id asset.ID) (*asset.MerkleProof, error) {
	return p.cache.GetProof(ctx, id)
}

// CachedProof returns the cached entry for id without fetching.
func (p *Pipeline) CachedProof(id asset.ID) (proofcache.Entry, bool) {
	return p.cache.Peek(id)
}

// History returns up to n recent results, newest first.
func (p *Pipeline) History(n int) []transition.Result {
	return p.history.Recent(n)
}

// Assets lists the compressed, unburnt assets owned by owner.
func (p *Pipeline) Assets(ctx context.Context, owner asset.Address) ([]asset.Metadata, error) {
	all, err := p.indexer.Assets(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list assets of %s:\n%w", owner, err)
	}

	owned := make([]asset.Metadata, 0, len(all))
	for _, m := range all {
		if m.Compressed && !m.Burnt {
			owned = append(owned, m)
		}
	}

	return owned, nil
}

// HoldsAuthority reports whether burns of tree are authoritative.
func (p *Pipeline) HoldsAuthority(tree asset.Address) bool {
	return p.keys.Holds(tree)
}
