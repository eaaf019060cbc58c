package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"Incinerator/internal/asset"
	"Incinerator/internal/authority"
)

const (
	// defaultHTTPAddress is used when neither --http nor PORT is set.
	defaultHTTPAddress = ":8080"
)

// Config holds the process configuration.
type Config struct {
	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// IndexerURL is the base URL of the asset indexer.
	IndexerURL string

	// LedgerURL is the ledger JSON-RPC endpoint.
	LedgerURL string

	// DataPath is the directory for the durable proof cache.
	// Empty keeps proofs in memory only.
	DataPath string

	// KeyPath is the owner's Ed25519 private key file.
	KeyPath string

	// Authorities are "tree=keyfile" pairs for trees whose burn authority we hold.
	Authorities []string

	// StrictAuthority fails unauthorized burns instead of downgrading them.
	StrictAuthority bool

	// Simulate turns downgraded burns into simulations.
	Simulate bool

	// MinBalance is the fee balance required before signing (0 disables it).
	MinBalance uint64

	// FetchTimeout, SubmitTimeout and ConfirmTimeout bound the executor stages.
	FetchTimeout   time.Duration
	SubmitTimeout  time.Duration
	ConfirmTimeout time.Duration

	// CacheWindow is how long a fetched proof stays fresh.
	CacheWindow time.Duration

	// LogLevel is the minimum log level.
	LogLevel string

	// OTLPEndpoint is the OTLP/HTTP trace collector URL. Empty disables export.
	OTLPEndpoint string
}

// bindFlags registers the persistent flags on fs.
func (c *Config) bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.HTTPAddress, "http", envHTTPAddress(), "HTTP API address (defaults to :$PORT)")
	fs.StringVar(&c.IndexerURL, "indexer", "http://127.0.0.1:8899", "Asset indexer base URL")
	fs.StringVar(&c.LedgerURL, "ledger", "http://127.0.0.1:8545", "Ledger JSON-RPC URL")
	fs.StringVar(&c.DataPath, "data", "", "Data directory for the durable proof cache")
	fs.StringVar(&c.KeyPath, "key", "", "Owner Ed25519 private key path")
	fs.StringArrayVar(&c.Authorities, "authority", nil, "Tree burn authority as tree=keyfile (repeatable)")
	fs.BoolVar(&c.StrictAuthority, "strict-authority", false, "Fail burns without tree authority instead of downgrading")
	fs.BoolVar(&c.Simulate, "simulate", true, "Simulate downgraded burns instead of transferring to the sink")
	fs.Uint64Var(&c.MinBalance, "min-balance", 0, "Minimum fee balance required before signing")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", 15*time.Second, "Preparation timeout")
	fs.DurationVar(&c.SubmitTimeout, "submit-timeout", 30*time.Second, "Submission timeout")
	fs.DurationVar(&c.ConfirmTimeout, "confirm-timeout", 60*time.Second, "Confirmation timeout")
	fs.DurationVar(&c.CacheWindow, "cache-window", 30*time.Minute, "Proof freshness window")
	fs.StringVar(&c.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP/HTTP trace endpoint, e.g. http://127.0.0.1:4318")
}

// envHTTPAddress returns ":$PORT" when PORT is set.
func envHTTPAddress() string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}

	return defaultHTTPAddress
}

// loadKeyring builds a keyring from the configured authority pairs.
func (c *Config) loadKeyring(source authority.RootSource) (*authority.Keyring, error) {
	keys := authority.NewKeyring(source)

	for _, pair := range c.Authorities {
		tree, priv, err := parseAuthority(pair)
		if err != nil {
			return nil, err
		}

		keys.Add(tree, priv)
	}

	return keys, nil
}

// parseAuthority parses one "tree=keyfile" pair and loads the key.
func parseAuthority(pair string) (asset.Address, ed25519.PrivateKey, error) {
	treeStr, path, ok := strings.Cut(pair, "=")
	if !ok || treeStr == "" || path == "" {
		return asset.Address{}, nil, fmt.Errorf("invalid authority %q: want tree=keyfile", pair)
	}

	tree, err := asset.ParseAddress(treeStr)
	if err != nil {
		return asset.Address{}, nil, fmt.Errorf("invalid authority tree %q:\n%w", treeStr, err)
	}

	priv, err := loadKey(path)
	if err != nil {
		return asset.Address{}, nil, fmt.Errorf("load authority key for %s:\n%w", tree, err)
	}

	return tree, priv, nil
}

// loadKey reads an existing private key file.
func loadKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	priv, err := loadKey(keyPath)
	if errors.Is(err, fs.ErrNotExist) {
		return generateAndSaveKey(keyPath)
	}

	return priv, err
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
