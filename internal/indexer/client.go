package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"Incinerator/internal/asset"
	"Incinerator/internal/logger"
)

const (
	// defaultFailureThreshold is the number of consecutive transport failures
	// that opens the breaker.
	defaultFailureThreshold = 5

	// defaultOpenTimeout is how long the breaker stays open before probing.
	defaultOpenTimeout = 30 * time.Second

	// maxResponseSize bounds indexer response bodies.
	maxResponseSize = 4 << 20
)

// Client talks to the asset indexer over HTTP.
// It makes exactly one request per call; callers own retries.
type Client struct {
	base    string                    // base is the indexer URL without trailing slash
	http    *http.Client              // http performs the requests
	breaker *gobreaker.CircuitBreaker // breaker fails fast while the indexer is down
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	httpClient *http.Client
	threshold  uint32
	openFor    time.Duration
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithBreaker sets the consecutive-failure threshold and open period.
func WithBreaker(threshold uint32, openFor time.Duration) Option {
	return func(c *clientConfig) {
		c.threshold = threshold
		c.openFor = openFor
	}
}

// New creates an indexer client for base, e.g. "http://127.0.0.1:8899".
func New(base string, opts ...Option) *Client {
	cfg := clientConfig{
		httpClient: &http.Client{},
		threshold:  defaultFailureThreshold,
		openFor:    defaultOpenTimeout,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: cfg.httpClient,
		log:  logger.With("component", "indexer"),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "indexer",
		Timeout: cfg.openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.threshold
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

// proofJSON is the indexer's proof representation.
type proofJSON struct {
	Tree      asset.Address `json:"tree"`
	Root      asset.Hash    `json:"root"`
	Leaf      asset.Hash    `json:"leaf"`
	LeafIndex uint32        `json:"leafIndex"`
	Siblings  []asset.Hash  `json:"siblings"`
}

// envelope is the common response wrapper.
type envelope struct {
	Success  bool             `json:"success"`
	Error    string           `json:"error,omitempty"`
	Code     string           `json:"code,omitempty"`
	Proof    *proofJSON       `json:"proof,omitempty"`
	Metadata *asset.Metadata  `json:"metadata,omitempty"`
	Assets   []asset.Metadata `json:"assets,omitempty"`
}

// Fetch returns the current inclusion proof for id.
func (c *Client) Fetch(ctx context.Context, id asset.ID) (*asset.MerkleProof, error) {
	proof, _, err := c.Asset(ctx, id)

	return proof, err
}

// Asset returns the proof and metadata for id.
func (c *Client) Asset(ctx context.Context, id asset.ID) (*asset.MerkleProof, *asset.Metadata, error) {
	var env envelope
	if err := c.get(ctx, "/assets/"+id.String()+"/proof", &env); err != nil {
		return nil, nil, err
	}

	if env.Proof == nil {
		return nil, nil, fmt.Errorf("%w: indexer response for %s has no proof", asset.ErrUnavailable, id)
	}

	proof := &asset.MerkleProof{
		Tree:      env.Proof.Tree,
		Root:      env.Proof.Root,
		Leaf:      env.Proof.Leaf,
		LeafIndex: env.Proof.LeafIndex,
		Siblings:  env.Proof.Siblings,
	}

	return proof, env.Metadata, nil
}

// Assets lists the assets owned by owner.
func (c *Client) Assets(ctx context.Context, owner asset.Address) ([]asset.Metadata, error) {
	var env envelope
	if err := c.get(ctx, "/owners/"+owner.String()+"/assets", &env); err != nil {
		return nil, err
	}

	return env.Assets, nil
}

// get performs one GET through the breaker and decodes a successful envelope.
func (c *Client) get(ctx context.Context, path string, env *envelope) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doGet(ctx, path, env)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: indexer circuit open:\n%w", asset.ErrUnavailable, err)
	}

	return err
}

// doGet performs the HTTP request and maps failures onto the taxonomy.
func (c *Client) doGet(ctx context.Context, path string, env *envelope) error {
	url := c.base + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request %s:\n%w", url, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(ctx, url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: GET %s", asset.ErrNotFound, url)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: GET %s: status %d", asset.ErrUnavailable, url, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(env); err != nil {
		return classifyTransport(ctx, url, fmt.Errorf("decode response:\n%w", err))
	}

	if !env.Success || resp.StatusCode != http.StatusOK {
		if env.Code == "not_found" {
			return fmt.Errorf("%w: GET %s: %s", asset.ErrNotFound, url, env.Error)
		}

		return fmt.Errorf("%w: GET %s: status %d: %s", asset.ErrUnavailable, url, resp.StatusCode, env.Error)
	}

	return nil
}

// classifyTransport maps a transport error to Timeout or Unavailable.
// Caller cancellation is returned unchanged.
func classifyTransport(ctx context.Context, url string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: GET %s:\n%w", asset.ErrTimeout, url, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("GET %s:\n%w", url, ctx.Err())
	default:
		return fmt.Errorf("%w: GET %s:\n%w", asset.ErrUnavailable, url, err)
	}
}

// isBreakerSuccess reports whether err leaves the indexer's health untouched.
// Only transport-level failures count against the breaker.
func isBreakerSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, asset.ErrNotFound) ||
		errors.Is(err, context.Canceled)
}
