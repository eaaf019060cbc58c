package signer

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"Incinerator/internal/asset"
	"Incinerator/internal/wire"
)

// Keypair signs transitions with a local ed25519 key.
type Keypair struct {
	priv ed25519.PrivateKey
	addr asset.Address
}

// NewKeypair wraps priv.
func NewKeypair(priv ed25519.PrivateKey) *Keypair {
	k := &Keypair{priv: priv}
	copy(k.addr[:], priv.Public().(ed25519.PublicKey))

	return k
}

// Address returns the public key as an address.
func (k *Keypair) Address() asset.Address {
	return k.addr
}

// Sign signs u unless ctx is already done.
func (k *Keypair) Sign(ctx context.Context, u *wire.Unsigned) (*wire.Signed, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w:\n%w", asset.ErrUserCancelled, err)
	}

	return u.SignWith(k.priv)
}
