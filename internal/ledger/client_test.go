package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"Incinerator/internal/asset"
	"Incinerator/internal/wire"
)

// rpcHandler answers JSON-RPC requests through fn.
func rpcHandler(t *testing.T, fn func(method string, params []json.RawMessage) (any, *RPCError)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string            `json:"jsonrpc"`
			Method  string            `json:"method"`
			Params  []json.RawMessage `json:"params"`
			ID      uint64            `json:"id"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		if req.JSONRPC != "2.0" {
			t.Errorf("unexpected jsonrpc version %q", req.JSONRPC)
		}

		result, rpcErr := fn(req.Method, req.Params)

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}

		json.NewEncoder(w).Encode(resp)
	})
}

// signedFixture returns a signed transition owned by a fresh key.
func signedFixture(t *testing.T) *wire.Signed {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var owner asset.Address
	copy(owner[:], pub)

	u := wire.NewUnsigned(&wire.Transition{
		Kind:    asset.KindTransferToSink,
		AssetID: asset.ID{1},
		Owner:   owner,
		Tree:    asset.Address{2},
		Sink:    asset.SinkAddress,
		Proof:   []asset.Hash{{3}},
		Anchor:  asset.Hash{4},
		Root:    asset.Hash{5},
		Leaf:    asset.Hash{6},
	})

	s, err := u.SignWith(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	return s
}

// TestSendTransition verifies the signed bytes are sent base64-encoded.
func TestSendTransition(t *testing.T) {
	signed := signedFixture(t)

	srv := httptest.NewServer(rpcHandler(t, func(method string, params []json.RawMessage) (any, *RPCError) {
		if method != "sendTransition" {
			t.Errorf("unexpected method %s", method)
		}

		var encoded string
		json.Unmarshal(params[0], &encoded)

		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			t.Errorf("params not base64: %v", err)
		}

		parsed, err := wire.ParseSigned(raw)
		if err != nil || parsed.Hash != signed.Hash {
			t.Errorf("server received a different transition: %v", err)
		}

		return "5VERYlongSignatureReference1234567890", nil
	}))
	defer srv.Close()

	ref, err := New(srv.URL, nil).SendTransition(context.Background(), signed)
	if err != nil {
		t.Fatalf("SendTransition failed: %v", err)
	}

	if ref != "5VERYlongSignatureReference1234567890" {
		t.Errorf("unexpected reference %q", ref)
	}
}

// TestSendTransition_Rejected verifies endpoint errors map to SubmissionRejected.
func TestSendTransition_Rejected(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(string, []json.RawMessage) (any, *RPCError) {
		return nil, &RPCError{Code: -32002, Message: "blockhash not found"}
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).SendTransition(context.Background(), signedFixture(t))
	if !errors.Is(err, asset.ErrSubmissionRejected) {
		t.Errorf("expected ErrSubmissionRejected, got %v", err)
	}
}

// TestSendTransition_Unreachable verifies transport failures map to Unavailable.
func TestSendTransition_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, nil).SendTransition(context.Background(), signedFixture(t))
	if !errors.Is(err, asset.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

// TestQueries verifies status, anchor, root and balance decoding.
func TestQueries(t *testing.T) {
	anchor := asset.Hash{7}
	root := asset.Hash{8}

	srv := httptest.NewServer(rpcHandler(t, func(method string, _ []json.RawMessage) (any, *RPCError) {
		switch method {
		case "getTransitionStatus":
			return Status{Confirmed: true}, nil
		case "getLatestAnchor":
			return anchor, nil
		case "getTreeRoot":
			return root, nil
		case "getBalance":
			return 5000, nil
		}
		return nil, &RPCError{Code: -32601, Message: "method not found"}
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	ctx := context.Background()

	st, err := c.TransitionStatus(ctx, "ref")
	if err != nil || !st.Confirmed {
		t.Errorf("TransitionStatus = %+v, %v", st, err)
	}

	if got, err := c.LatestAnchor(ctx); err != nil || got != anchor {
		t.Errorf("LatestAnchor = %s, %v", got, err)
	}

	if got, err := c.TreeRoot(ctx, asset.Address{1}); err != nil || got != root {
		t.Errorf("TreeRoot = %s, %v", got, err)
	}

	if got, err := c.Balance(ctx, asset.Address{1}); err != nil || got != 5000 {
		t.Errorf("Balance = %d, %v", got, err)
	}
}
