package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"Incinerator/internal/asset"
	"Incinerator/internal/wire"
)

// maxResponseSize bounds RPC response bodies.
const maxResponseSize = 1 << 20

// Status is the confirmation state of a submitted transition.
type Status struct {
	Confirmed bool   `json:"confirmed"`     // Confirmed is set once the transition is final
	Err       string `json:"err,omitempty"` // Err is the on-chain failure, if the transition failed
}

// Client is a JSON-RPC 2.0 client for the ledger endpoint.
type Client struct {
	url    string
	http   *http.Client
	nextID atomic.Uint64
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// RPCError is an error object returned by the endpoint.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// New creates a ledger client for the RPC endpoint at url.
func New(url string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{url: url, http: hc}
}

// SendTransition submits a signed transition and returns its reference.
// An error answer from the endpoint is a SubmissionRejected.
func (c *Client) SendTransition(ctx context.Context, signed *wire.Signed) (string, error) {
	var ref string

	err := c.call(ctx, "sendTransition", []any{base64.StdEncoding.EncodeToString(signed.Bytes())}, &ref)

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return "", fmt.Errorf("%w: %s", asset.ErrSubmissionRejected, rpcErr.Message)
	}

	if err != nil {
		return "", fmt.Errorf("send transition:\n%w", err)
	}

	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", asset.ErrSubmissionRejected)
	}

	return ref, nil
}

// TransitionStatus returns the confirmation status of ref.
func (c *Client) TransitionStatus(ctx context.Context, ref string) (Status, error) {
	var st Status
	if err := c.call(ctx, "getTransitionStatus", []any{ref}, &st); err != nil {
		return Status{}, fmt.Errorf("transition status %s:\n%w", asset.ShortRef(ref), err)
	}

	return st, nil
}

// LatestAnchor returns the most recent ledger anchor hash.
func (c *Client) LatestAnchor(ctx context.Context) (asset.Hash, error) {
	var h asset.Hash
	if err := c.call(ctx, "getLatestAnchor", nil, &h); err != nil {
		return asset.Hash{}, fmt.Errorf("latest anchor:\n%w", err)
	}

	return h, nil
}

// TreeRoot returns the current root of a Merkle tree account.
func (c *Client) TreeRoot(ctx context.Context, tree asset.Address) (asset.Hash, error) {
	var h asset.Hash
	if err := c.call(ctx, "getTreeRoot", []any{tree}, &h); err != nil {
		return asset.Hash{}, fmt.Errorf("tree root %s:\n%w", tree, err)
	}

	return h, nil
}

// Balance returns the fee balance of addr.
func (c *Client) Balance(ctx context.Context, addr asset.Address) (uint64, error) {
	var bal uint64
	if err := c.call(ctx, "getBalance", []any{addr}, &bal); err != nil {
		return 0, fmt.Errorf("balance %s:\n%w", addr, err)
	}

	return bal, nil
}

// call performs one JSON-RPC request and decodes the result into out.
// Transport failures map to Unavailable or Timeout; endpoint errors are *RPCError.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal request:\n%w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request:\n%w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(ctx, method, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d", asset.ErrUnavailable, method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&rpcResp); err != nil {
		return classify(ctx, method, fmt.Errorf("decode response:\n%w", err))
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result:\n%w", method, err)
	}

	return nil
}

// classify maps a transport error to Timeout or Unavailable.
func classify(ctx context.Context, method string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s:\n%w", asset.ErrTimeout, method, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%s:\n%w", method, ctx.Err())
	default:
		return fmt.Errorf("%w: %s:\n%w", asset.ErrUnavailable, method, err)
	}
}
