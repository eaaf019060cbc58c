package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mr-tron/base58"

	"Incinerator/internal/asset"
)

const (
	// maxPrefetchIDs bounds the visible set accepted in one request.
	maxPrefetchIDs = 500

	// maxHistoryLimit bounds GET /history.
	maxHistoryLimit = 1000

	// signatureSize is the expected size of an Ed25519 signature.
	signatureSize = 64
)

// transitionBody is the JSON body of POST /transitions.
type transitionBody struct {
	AssetID  string `json:"assetId"`
	Owner    string `json:"owner"`
	Kind     string `json:"kind"`
	Simulate *bool  `json:"simulate,omitempty"`
}

// transitionRequest is a decoded and validated transitionBody.
type transitionRequest struct {
	id       asset.ID
	owner    asset.Address
	kind     asset.Kind
	simulate *bool
}

// proofResponse is the JSON body of GET /proofs/{id}.
type proofResponse struct {
	AssetID   asset.ID      `json:"assetId"`
	Tree      asset.Address `json:"tree"`
	Root      asset.Hash    `json:"root"`
	Leaf      asset.Hash    `json:"leaf"`
	LeafIndex uint32        `json:"leafIndex"`
	Siblings  []asset.Hash  `json:"siblings"`
	FetchedAt time.Time     `json:"fetchedAt"`
}

// decodeTransitionRequest parses and validates a POST /transitions body.
// Kind defaults to burn.
func decodeTransitionRequest(r *http.Request) (*transitionRequest, error) {
	var body transitionBody
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}

	if body.AssetID == "" || body.Owner == "" {
		return nil, fmt.Errorf("assetId and owner are required")
	}

	id, err := asset.ParseID(body.AssetID)
	if err != nil {
		return nil, fmt.Errorf("invalid assetId")
	}

	owner, err := asset.ParseAddress(body.Owner)
	if err != nil {
		return nil, fmt.Errorf("invalid owner")
	}

	kind := asset.KindBurn
	if body.Kind != "" {
		if kind, err = asset.ParseKind(body.Kind); err != nil {
			return nil, err
		}
	}

	return &transitionRequest{id: id, owner: owner, kind: kind, simulate: body.Simulate}, nil
}

// decodePrefetchRequest parses a POST /prefetch body.
func decodePrefetchRequest(r *http.Request) ([]asset.ID, error) {
	var body struct {
		AssetIDs []string `json:"assetIds"`
	}

	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}

	if len(body.AssetIDs) > maxPrefetchIDs {
		return nil, fmt.Errorf("too many asset ids: %d (max %d)", len(body.AssetIDs), maxPrefetchIDs)
	}

	ids := make([]asset.ID, 0, len(body.AssetIDs))
	for _, s := range body.AssetIDs {
		id, err := asset.ParseID(s)
		if err != nil {
			return nil, fmt.Errorf("invalid asset id %q", s)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// decodeSignature parses a POST /signing/{id} body.
// Signer and signature are base58, as browser wallets return them.
func decodeSignature(r *http.Request) (asset.Address, []byte, error) {
	var body struct {
		Signer    string `json:"signer"`
		Signature string `json:"signature"`
	}

	if err := decodeBody(r, &body); err != nil {
		return asset.Address{}, nil, err
	}

	signer, err := asset.ParseAddress(body.Signer)
	if err != nil {
		return asset.Address{}, nil, fmt.Errorf("invalid signer")
	}

	sig, err := base58.Decode(body.Signature)
	if err != nil || len(sig) != signatureSize {
		return asset.Address{}, nil, fmt.Errorf("invalid signature: want %d base58-encoded bytes", signatureSize)
	}

	return signer, sig, nil
}

// decodeBody decodes a bounded JSON body into dst.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}

	return nil
}

// parseLimit parses an optional positive limit.
func parseLimit(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", s)
	}

	return min(n, maxHistoryLimit), nil
}
