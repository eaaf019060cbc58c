package client

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mr-tron/base58"

	"Incinerator/internal/asset"
	"Incinerator/internal/signer"
	"Incinerator/internal/transition"
)

// newTestNode serves mux and returns a connected client.
func newTestNode(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c, err := NewClient(strings.TrimPrefix(ts.URL, "http://"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	return c
}

// TestNewClient_Unreachable verifies the health check fails fast.
func TestNewClient_Unreachable(t *testing.T) {
	if _, err := NewClient("127.0.0.1:1"); err == nil {
		t.Error("expected error for unreachable node")
	}
}

// TestBurn_SendsRequest verifies the request body and result decoding.
func TestBurn_SendsRequest(t *testing.T) {
	id := asset.ID{1}
	owner := asset.Address{2}

	var got map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transitions", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(transition.Result{
			AssetID:   id,
			Status:    transition.StatusConfirmed,
			Reference: "ref",
			Requested: asset.KindBurn,
			Performed: asset.KindBurn,
		})
	})

	c := newTestNode(t, mux)

	res, err := c.Burn(id, owner)
	if err != nil {
		t.Fatalf("Burn failed: %v", err)
	}

	if got["assetId"] != id.String() || got["owner"] != owner.String() || got["kind"] != "burn" {
		t.Errorf("unexpected body: %v", got)
	}

	if _, ok := got["simulate"]; ok {
		t.Error("simulate should be omitted when not overridden")
	}

	if res.Status != transition.StatusConfirmed || res.Reference != "ref" {
		t.Errorf("unexpected result: %+v", res)
	}
}

// TestRequestTransition_FailedResult verifies non-2xx results are returned, not errors.
func TestRequestTransition_FailedResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transitions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(transition.Result{
			Status:    transition.StatusFailed,
			Requested: asset.KindTransferToSink,
			Stage:     transition.Preparing,
			Code:      "NotFound",
		})
	})

	c := newTestNode(t, mux)

	simulate := false
	res, err := c.RequestTransition(asset.ID{1}, asset.Address{2}, asset.KindTransferToSink, &simulate)
	if err != nil {
		t.Fatalf("RequestTransition failed: %v", err)
	}

	if res.Status != transition.StatusFailed || res.Code != "NotFound" || res.Stage != transition.Preparing {
		t.Errorf("unexpected result: %+v", res)
	}
}

// TestRequestTransition_BadRequest verifies 400 answers are errors.
func TestRequestTransition_BadRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transitions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "invalid owner"})
	})

	c := newTestNode(t, mux)

	_, err := c.Transfer(asset.ID{1}, asset.Address{2})
	if err == nil || !strings.Contains(err.Error(), "invalid owner") {
		t.Errorf("expected invalid owner error, got %v", err)
	}
}

// TestGetProof verifies the proof decodes into a verifiable MerkleProof.
func TestGetProof(t *testing.T) {
	siblings := []asset.Hash{{1}, {2}}
	leaf := asset.HashLeaf([]byte("leaf"))
	want := ProofInfo{
		AssetID:   asset.ID{9},
		Tree:      asset.Address{3},
		Root:      asset.ComputeRoot(leaf, 2, siblings),
		Leaf:      leaf,
		LeafIndex: 2,
		Siblings:  siblings,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /proofs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != want.AssetID.String() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(want)
	})

	c := newTestNode(t, mux)

	info, err := c.GetProof(want.AssetID)
	if err != nil {
		t.Fatalf("GetProof failed: %v", err)
	}

	if err := info.Proof().Validate(); err != nil {
		t.Errorf("proof should validate: %v", err)
	}
}

// TestInvalidateProof_Status verifies DELETE expects 204.
func TestInvalidateProof_Status(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /proofs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestNode(t, mux)

	if err := c.InvalidateProof(asset.ID{1}); err != nil {
		t.Errorf("InvalidateProof failed: %v", err)
	}

	if err := c.Prefetch([]asset.ID{{1}}); err == nil {
		t.Error("expected error for unrouted prefetch")
	}
}

// TestWallet_ApprovePending verifies only the wallet's requests are signed.
func TestWallet_ApprovePending(t *testing.T) {
	w := NewWallet()
	hash := asset.Hash{7}

	pending := []signer.Request{
		{ID: "mine", Owner: w.Address(), Hash: hash},
		{ID: "other", Owner: asset.Address{1}, Hash: hash},
	}

	signed := map[string]string{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /signing", func(rw http.ResponseWriter, r *http.Request) {
		json.NewEncoder(rw).Encode(map[string]any{"pending": pending})
	})
	mux.HandleFunc("POST /signing/{id}", func(rw http.ResponseWriter, r *http.Request) {
		var body struct {
			Signer    string `json:"signer"`
			Signature string `json:"signature"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		signed[r.PathValue("id")] = body.Signature
		json.NewEncoder(rw).Encode(map[string]bool{"success": true})
	})

	c := newTestNode(t, mux)

	n, err := w.ApprovePending(c)
	if err != nil {
		t.Fatalf("ApprovePending failed: %v", err)
	}

	if n != 1 || len(signed) != 1 {
		t.Fatalf("expected one approval, got %d (%v)", n, signed)
	}

	sig, err := base58.Decode(signed["mine"])
	if err != nil {
		t.Fatalf("signature is not base58: %v", err)
	}

	pub := w.Address()
	if !ed25519.Verify(pub[:], hash[:], sig) {
		t.Error("signature does not verify against the wallet key")
	}
}

// TestWallet_ApproveForeign verifies requests for other owners are refused.
func TestWallet_ApproveForeign(t *testing.T) {
	w := NewWallet()

	if err := w.Approve(&Client{}, signer.Request{ID: "x", Owner: asset.Address{1}}); err == nil {
		t.Error("expected error approving another owner's request")
	}
}
