package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"Incinerator/internal/asset"
	"Incinerator/internal/indexer"
	"Incinerator/internal/ledger"
	"Incinerator/internal/logger"
	"Incinerator/internal/pipeline"
	"Incinerator/internal/storage"
	"Incinerator/internal/transition"
)

// app owns the process-wide components built from Config.
type app struct {
	cfg      *Config
	pipeline *pipeline.Pipeline
	db       *storage.Storage    // db is nil without --data
	proofs   *storage.ProofStore // proofs is nil without --data
	tracing  func(context.Context) error
}

// newApp wires the pipeline around signer. signer may be nil for
// commands that never sign.
func newApp(ctx context.Context, cfg *Config, signer transition.Signer) (*app, error) {
	a := &app{cfg: cfg}

	shutdown, err := setupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	a.tracing = shutdown

	if err := a.initStorage(); err != nil {
		a.Close()
		return nil, err
	}

	ledgerClient := ledger.New(cfg.LedgerURL, nil)

	keys, err := cfg.loadKeyring(ledgerClient)
	if err != nil {
		a.Close()
		return nil, err
	}

	pcfg := pipeline.DefaultConfig()
	pcfg.StrictAuthority = cfg.StrictAuthority
	pcfg.CacheWindow = cfg.CacheWindow
	pcfg.Executor.Simulate = cfg.Simulate
	pcfg.Executor.MinBalance = cfg.MinBalance
	pcfg.Executor.FetchTimeout = cfg.FetchTimeout
	pcfg.Executor.SubmitTimeout = cfg.SubmitTimeout
	pcfg.Executor.ConfirmTimeout = cfg.ConfirmTimeout

	deps := pipeline.Deps{
		Indexer:  indexer.New(cfg.IndexerURL),
		Ledger:   ledgerClient,
		Signer:   signer,
		Keys:     keys,
		Observer: logTransition,
	}

	// A nil *ProofStore in the interface would not compare equal to nil
	if a.proofs != nil {
		deps.Backing = a.proofs
	}

	a.pipeline = pipeline.New(pcfg, deps)

	return a, nil
}

// initStorage opens the durable proof cache when a data path is set.
func (a *app) initStorage() error {
	if a.cfg.DataPath == "" {
		return nil
	}

	if err := os.MkdirAll(a.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(a.cfg.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}
	a.db = db

	proofs, err := storage.NewProofStore(db)
	if err != nil {
		return fmt.Errorf("init proof store:\n%w", err)
	}
	a.proofs = proofs

	return nil
}

// Close releases storage and flushes pending spans.
func (a *app) Close() {
	if a.pipeline != nil {
		a.pipeline.Stop()
	}

	if a.proofs != nil {
		a.proofs.Close()
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warn("close storage", "error", err)
		}
	}

	if a.tracing != nil {
		if err := a.tracing(context.Background()); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}
}

// logTransition logs executor state changes.
func logTransition(id asset.ID, from, to transition.State) {
	logger.Debug("transition state", "asset", id, "from", from, "to", to)
}
