package integration

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Incinerator/client"
	"Incinerator/internal/api"
	"Incinerator/internal/asset"
	"Incinerator/internal/authority"
	"Incinerator/internal/indexer"
	"Incinerator/internal/ledger"
	"Incinerator/internal/pipeline"
	"Incinerator/internal/signer"
	"Incinerator/internal/wire"
)

// envOpts holds configuration for an Env.
type envOpts struct {
	holdAuthority bool // holdAuthority gives the node the tree authority key
	strict        bool // strict fails unauthorized burns
}

// EnvOption configures an Env.
type EnvOption func(*envOpts)

// WithAuthority gives the node the tree's burn authority.
func WithAuthority() EnvOption { return func(o *envOpts) { o.holdAuthority = true } }

// WithStrictAuthority makes unauthorized burns fail.
func WithStrictAuthority() EnvOption { return func(o *envOpts) { o.strict = true } }

// Env is one node wired to a fake indexer and ledger sharing a World.
type Env struct {
	World    *World             // World is the simulated chain state
	Client   *client.Client     // Client talks to the node's HTTP API
	Pipeline *pipeline.Pipeline // Pipeline is the node's pipeline
}

// NewEnv starts the fakes and a node, and registers cleanup.
func NewEnv(t *testing.T, options ...EnvOption) *Env {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	var opts envOpts
	for _, o := range options {
		o(&opts)
	}

	authPub, authPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate authority key: %v", err)
	}

	var tree, authAddr asset.Address
	tree[0] = 0x7E
	copy(authAddr[:], authPub)

	world := NewWorld(tree, authAddr)

	indexerSrv := httptest.NewServer(indexerHandler(world))
	t.Cleanup(indexerSrv.Close)

	ledgerSrv := httptest.NewServer(ledgerHandler(world))
	t.Cleanup(ledgerSrv.Close)

	ledgerClient := ledger.New(ledgerSrv.URL, nil)

	keys := authority.NewKeyring(ledgerClient)
	if opts.holdAuthority {
		keys.Add(tree, authPriv)
	}

	cfg := pipeline.DefaultConfig()
	cfg.StrictAuthority = opts.strict
	cfg.Executor.ConfirmTimeout = 5 * time.Second
	cfg.Executor.PollInterval = 10 * time.Millisecond
	cfg.Executor.MinBalance = 5000

	relay := signer.NewRelay()

	p := pipeline.New(cfg, pipeline.Deps{
		Indexer: indexer.New(indexerSrv.URL),
		Ledger:  ledgerClient,
		Signer:  relay,
		Keys:    keys,
	})
	p.Start()
	t.Cleanup(p.Stop)

	server := api.New("", p, relay)
	nodeSrv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Stop()
		nodeSrv.Close()
	})

	cli, err := client.NewClient(strings.TrimPrefix(nodeSrv.URL, "http://"))
	if err != nil {
		t.Fatalf("connect to node: %v", err)
	}

	return &Env{World: world, Client: cli, Pipeline: p}
}

// indexerHandler serves the indexer's proof and ownership endpoints.
func indexerHandler(w *World) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /assets/{id}/proof", func(rw http.ResponseWriter, r *http.Request) {
		id, err := asset.ParseID(r.PathValue("id"))
		if err != nil {
			writeIndexer(rw, http.StatusBadRequest, map[string]any{"success": false, "error": "bad id"})
			return
		}

		proof, meta, ok := w.proof(id)
		if !ok {
			writeIndexer(rw, http.StatusOK, map[string]any{"success": false, "error": "asset not found", "code": "not_found"})
			return
		}

		writeIndexer(rw, http.StatusOK, map[string]any{
			"success": true,
			"proof": map[string]any{
				"tree":      proof.Tree,
				"root":      proof.Root,
				"leaf":      proof.Leaf,
				"leafIndex": proof.LeafIndex,
				"siblings":  proof.Siblings,
			},
			"metadata": meta,
		})
	})

	mux.HandleFunc("GET /owners/{addr}/assets", func(rw http.ResponseWriter, r *http.Request) {
		owner, err := asset.ParseAddress(r.PathValue("addr"))
		if err != nil {
			writeIndexer(rw, http.StatusBadRequest, map[string]any{"success": false, "error": "bad address"})
			return
		}

		writeIndexer(rw, http.StatusOK, map[string]any{"success": true, "assets": w.owned(owner)})
	})

	return mux
}

// writeIndexer writes a JSON indexer response.
func writeIndexer(rw http.ResponseWriter, status int, body any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(body)
}

// ledgerHandler serves the ledger JSON-RPC methods the pipeline calls.
// Accepted transitions are final immediately.
func ledgerHandler(w *World) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     uint64            `json:"id"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}

		result, rpcErr := dispatch(w, req.Method, req.Params)

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != "" {
			resp["error"] = map[string]any{"code": -32000, "message": rpcErr}
		} else {
			resp["result"] = result
		}

		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(resp)
	})
}

// dispatch runs one ledger method and returns its result or error message.
func dispatch(w *World, method string, params []json.RawMessage) (any, string) {
	switch method {
	case "getLatestAnchor":
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.anchor, ""

	case "getTreeRoot":
		return w.root(), ""

	case "getBalance":
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.balance, ""

	case "getTransitionStatus":
		return map[string]any{"confirmed": true}, ""

	case "sendTransition":
		if len(params) != 1 {
			return nil, "sendTransition takes one parameter"
		}

		var encoded string
		if err := json.Unmarshal(params[0], &encoded); err != nil {
			return nil, "parameter must be a base64 string"
		}

		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "parameter must be a base64 string"
		}

		signed, err := wire.ParseSigned(raw)
		if err != nil {
			return nil, err.Error()
		}

		if err := w.apply(signed); err != nil {
			return nil, err.Error()
		}

		return signed.Hash.String(), ""

	default:
		return nil, "method not found: " + method
	}
}
