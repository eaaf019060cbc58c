// Package client talks to an Incinerator node over its HTTP API.
package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mr-tron/base58"

	"Incinerator/internal/asset"
	"Incinerator/internal/signer"
	"Incinerator/internal/transition"
)

// Client connects to an Incinerator node via HTTP.
type Client struct {
	nodeAddr string       // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
	http     *http.Client // http is shared by every request
}

// Wallet holds an owner keypair and answers signing requests like a
// browser wallet would.
type Wallet struct {
	privKey ed25519.PrivateKey // privKey is the Ed25519 private key
	addr    asset.Address      // addr is the public key as an address
}

// ProofInfo is a proof as served by GET /proofs/{id}.
type ProofInfo struct {
	AssetID   asset.ID      `json:"assetId"`
	Tree      asset.Address `json:"tree"`
	Root      asset.Hash    `json:"root"`
	Leaf      asset.Hash    `json:"leaf"`
	LeafIndex uint32        `json:"leafIndex"`
	Siblings  []asset.Hash  `json:"siblings"`
}

// Proof returns the info as a MerkleProof.
func (p *ProofInfo) Proof() *asset.MerkleProof {
	return &asset.MerkleProof{
		Tree:      p.Tree,
		Root:      p.Root,
		Leaf:      p.Leaf,
		LeafIndex: p.LeafIndex,
		Siblings:  p.Siblings,
	}
}

// NewClient creates a client connected to a node.
// It checks the node's /health endpoint first.
func NewClient(nodeAddr string) (*Client, error) {
	c := &Client{nodeAddr: nodeAddr, http: &http.Client{}}

	var health struct {
		Status string `json:"status"`
	}

	if err := c.get("/health", &health); err != nil {
		return nil, fmt.Errorf("get health:\n%w", err)
	}

	if health.Status != "ok" {
		return nil, fmt.Errorf("node unhealthy: %q", health.Status)
	}

	return c, nil
}

// NewWallet creates a new wallet with a random Ed25519 keypair.
func NewWallet() *Wallet {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)

	return WalletFromKey(priv)
}

// WalletFromKey wraps an existing private key.
func WalletFromKey(priv ed25519.PrivateKey) *Wallet {
	w := &Wallet{privKey: priv}
	copy(w.addr[:], priv.Public().(ed25519.PublicKey))

	return w
}

// Address returns the wallet's public key as an address.
func (w *Wallet) Address() asset.Address {
	return w.addr
}

// Assets lists the compressed assets owned by owner.
func (c *Client) Assets(owner asset.Address) ([]asset.Metadata, error) {
	var resp struct {
		Assets []asset.Metadata `json:"assets"`
	}

	if err := c.get("/assets?wallet="+url.QueryEscape(owner.String()), &resp); err != nil {
		return nil, fmt.Errorf("list assets:\n%w", err)
	}

	return resp.Assets, nil
}

// Burn asks the node to burn id on behalf of owner and waits for the result.
func (c *Client) Burn(id asset.ID, owner asset.Address) (*transition.Result, error) {
	return c.RequestTransition(id, owner, asset.KindBurn, nil)
}

// Transfer asks the node to move id to the sink and waits for the result.
func (c *Client) Transfer(id asset.ID, owner asset.Address) (*transition.Result, error) {
	return c.RequestTransition(id, owner, asset.KindTransferToSink, nil)
}

// RequestTransition submits a transition request. simulate overrides the
// node's simulation policy when non-nil. Failed transitions are returned
// as a Result, not an error.
func (c *Client) RequestTransition(id asset.ID, owner asset.Address, kind asset.Kind, simulate *bool) (*transition.Result, error) {
	body := map[string]any{
		"assetId": id.String(),
		"owner":   owner.String(),
		"kind":    kind.String(),
	}

	if simulate != nil {
		body["simulate"] = *simulate
	}

	var res transition.Result
	if err := c.postResult("/transitions", body, &res); err != nil {
		return nil, fmt.Errorf("request %s:\n%w", kind, err)
	}

	return &res, nil
}

// Prefetch replaces the node's visible asset set.
func (c *Client) Prefetch(ids []asset.ID) error {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}

	var resp struct {
		Visible int `json:"visible"`
	}

	if err := c.postJSON("/prefetch", map[string]any{"assetIds": strs}, &resp); err != nil {
		return fmt.Errorf("prefetch:\n%w", err)
	}

	return nil
}

// GetProof retrieves the current proof of id.
func (c *Client) GetProof(id asset.ID) (*ProofInfo, error) {
	var info ProofInfo
	if err := c.get("/proofs/"+id.String(), &info); err != nil {
		return nil, fmt.Errorf("get proof:\n%w", err)
	}

	return &info, nil
}

// InvalidateProof drops the node's cached proof of id.
func (c *Client) InvalidateProof(id asset.ID) error {
	return c.delete("/proofs/" + id.String())
}

// History returns up to limit recent results, newest first.
func (c *Client) History(limit int) ([]transition.Result, error) {
	var resp struct {
		Results []transition.Result `json:"results"`
	}

	if err := c.get("/history?limit="+strconv.Itoa(limit), &resp); err != nil {
		return nil, fmt.Errorf("get history:\n%w", err)
	}

	return resp.Results, nil
}

// PendingSignatures returns the signing requests waiting on wallets.
func (c *Client) PendingSignatures() ([]signer.Request, error) {
	var resp struct {
		Pending []signer.Request `json:"pending"`
	}

	if err := c.get("/signing", &resp); err != nil {
		return nil, fmt.Errorf("get pending signatures:\n%w", err)
	}

	return resp.Pending, nil
}

// Approve signs req and answers it.
func (w *Wallet) Approve(c *Client, req signer.Request) error {
	if req.Owner != w.addr {
		return fmt.Errorf("request %s is for %s, not %s", req.ID, req.Owner, w.addr)
	}

	sig := ed25519.Sign(w.privKey, req.Hash[:])

	body := map[string]string{
		"signer":    w.addr.String(),
		"signature": base58.Encode(sig),
	}

	var resp struct {
		Success bool `json:"success"`
	}

	if err := c.postJSON("/signing/"+url.PathEscape(req.ID), body, &resp); err != nil {
		return fmt.Errorf("approve %s:\n%w", req.ID, err)
	}

	return nil
}

// Reject declines request id.
func (w *Wallet) Reject(c *Client, id string) error {
	return c.delete("/signing/" + url.PathEscape(id))
}

// ApprovePending approves every pending request owned by the wallet and
// returns how many were answered.
func (w *Wallet) ApprovePending(c *Client) (int, error) {
	pending, err := c.PendingSignatures()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, req := range pending {
		if req.Owner != w.addr {
			continue
		}

		if err := w.Approve(c, req); err != nil {
			return n, err
		}
		n++
	}

	return n, nil
}
