package transition

import (
	"crypto/ed25519"
	"fmt"

	"Incinerator/internal/asset"
	"Incinerator/internal/wire"
)

// Strategy encodes a Request of one kind into an unsigned transition.
type Strategy interface {
	Encode(req *Request, anchor asset.Hash) (*wire.Unsigned, error)
}

// KeySource provides tree authority keys.
// authority.Keyring implements it.
type KeySource interface {
	Key(tree asset.Address) (ed25519.PrivateKey, bool)
}

// AuthorityBurn encodes a burn co-signed by the tree authority.
type AuthorityBurn struct {
	Keys KeySource
}

// Encode builds the burn and attaches the authority co-signature.
func (s AuthorityBurn) Encode(req *Request, anchor asset.Hash) (*wire.Unsigned, error) {
	if req.Kind != asset.KindBurn {
		return nil, fmt.Errorf("authority burn cannot encode %s", req.Kind)
	}

	priv, ok := s.Keys.Key(req.Proof.Tree)
	if !ok {
		return nil, fmt.Errorf("%w: no authority key for tree %s", asset.ErrUnauthorized, req.Proof.Tree)
	}

	t := baseTransition(req, anchor)
	copy(t.Authority[:], priv.Public().(ed25519.PublicKey))

	u := wire.NewUnsigned(t)
	u.Cosign(priv)

	return u, nil
}

// SinkTransfer encodes a plain transfer of the leaf to the sink.
type SinkTransfer struct{}

// Encode builds the transfer.
func (SinkTransfer) Encode(req *Request, anchor asset.Hash) (*wire.Unsigned, error) {
	if req.Kind != asset.KindTransferToSink {
		return nil, fmt.Errorf("sink transfer cannot encode %s", req.Kind)
	}

	if req.Sink.IsZero() {
		return nil, fmt.Errorf("transfer of %s has no sink", req.AssetID)
	}

	return wire.NewUnsigned(baseTransition(req, anchor)), nil
}

// DefaultStrategies maps each kind to its standard strategy.
func DefaultStrategies(keys KeySource) map[asset.Kind]Strategy {
	return map[asset.Kind]Strategy{
		asset.KindBurn:           AuthorityBurn{Keys: keys},
		asset.KindTransferToSink: SinkTransfer{},
	}
}

// baseTransition copies the request and proof into a wire transition.
func baseTransition(req *Request, anchor asset.Hash) *wire.Transition {
	return &wire.Transition{
		Kind:      req.Kind,
		AssetID:   req.AssetID,
		Owner:     req.Owner,
		Tree:      req.Proof.Tree,
		Root:      req.Proof.Root,
		Leaf:      req.Proof.Leaf,
		LeafIndex: req.Proof.LeafIndex,
		Proof:     append([]asset.Hash(nil), req.Proof.Siblings...),
		Sink:      req.Sink,
		Anchor:    anchor,
	}
}
