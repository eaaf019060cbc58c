package transition

import (
	"context"
	"fmt"

	"Incinerator/internal/asset"
)

// Request is a validated, ready-to-encode state transition.
// Sink is set for TransferToSink and zero for Burn.
type Request struct {
	AssetID    asset.ID           // AssetID is the leaf being disposed of
	Owner      asset.Address      // Owner must sign the transition
	Kind       asset.Kind         // Kind is the action that will be encoded
	Requested  asset.Kind         // Requested is the action the caller asked for
	Sink       asset.Address      // Sink receives the leaf for transfers
	Proof      *asset.MerkleProof // Proof is the inclusion proof the request is built on
	Downgraded bool               // Downgraded is set when a burn was coerced to a transfer
}

// RootOracle answers the last known root of a tree held under authority.
// authority.Keyring implements it.
type RootOracle interface {
	TreeRoot(ctx context.Context, tree asset.Address) (asset.Hash, error)
}

// Builder turns a proof and a requested kind into a Request and enforces
// the tree authority policy.
type Builder struct {
	roots  RootOracle
	sink   asset.Address
	strict bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithSink overrides the well-known sink address.
func WithSink(sink asset.Address) BuilderOption {
	return func(b *Builder) { b.sink = sink }
}

// WithStrictAuthority makes a burn without authority fail with
// ErrUnauthorized instead of being downgraded to a sink transfer.
func WithStrictAuthority(strict bool) BuilderOption {
	return func(b *Builder) { b.strict = strict }
}

// NewBuilder creates a builder checking burn roots against roots.
func NewBuilder(roots RootOracle, opts ...BuilderOption) *Builder {
	b := &Builder{roots: roots, sink: asset.SinkAddress}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Sink returns the configured sink address.
func (b *Builder) Sink() asset.Address {
	return b.sink
}

// Build validates proof and produces the request for kind.
//
// A burn without authority becomes a transfer to the sink with Downgraded
// set, unless strict authority is configured. A burn with authority
// requires proof.Root to match the tree's last known root.
func (b *Builder) Build(ctx context.Context, id asset.ID, proof *asset.MerkleProof, owner asset.Address, kind asset.Kind, authorityHeld bool) (*Request, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown transition kind %d", kind)
	}

	if owner.IsZero() {
		return nil, fmt.Errorf("%w: missing owner", asset.ErrUnauthorized)
	}

	if err := proof.Validate(); err != nil {
		return nil, fmt.Errorf("asset %s:\n%w", id, err)
	}

	req := &Request{
		AssetID:   id,
		Owner:     owner,
		Kind:      kind,
		Requested: kind,
		Proof:     proof,
	}

	switch {
	case kind == asset.KindBurn && !authorityHeld:
		if b.strict {
			return nil, fmt.Errorf("%w: no authority for tree %s", asset.ErrUnauthorized, proof.Tree)
		}

		req.Kind = asset.KindTransferToSink
		req.Sink = b.sink
		req.Downgraded = true

	case kind == asset.KindBurn:
		if b.roots == nil {
			return nil, fmt.Errorf("%w: no root source for tree %s", asset.ErrUnavailable, proof.Tree)
		}

		root, err := b.roots.TreeRoot(ctx, proof.Tree)
		if err != nil {
			return nil, fmt.Errorf("check tree root:\n%w", err)
		}

		if root != proof.Root {
			return nil, fmt.Errorf("%w: proof root %s, tree root %s", asset.ErrStaleProof, proof.Root, root)
		}

	default:
		req.Sink = b.sink
	}

	return req, nil
}
