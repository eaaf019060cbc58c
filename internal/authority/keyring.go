package authority

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"Incinerator/internal/asset"
	"Incinerator/internal/logger"
)

// RootSource answers the current root of a Merkle tree.
// ledger.Client implements it.
type RootSource interface {
	TreeRoot(ctx context.Context, tree asset.Address) (asset.Hash, error)
}

// Keyring holds the tree authority keys available to the pipeline and
// the last root observed for each of those trees.
type Keyring struct {
	source RootSource

	mu    sync.RWMutex
	keys  map[asset.Address]ed25519.PrivateKey // keys maps tree to its authority key
	roots map[asset.Address]asset.Hash         // roots holds the last observed root per tree
}

// NewKeyring creates an empty keyring. source may be nil, in which case
// only roots recorded with SetRoot are known.
func NewKeyring(source RootSource) *Keyring {
	return &Keyring{
		source: source,
		keys:   make(map[asset.Address]ed25519.PrivateKey),
		roots:  make(map[asset.Address]asset.Hash),
	}
}

// Add registers priv as the authority key for tree.
func (k *Keyring) Add(tree asset.Address, priv ed25519.PrivateKey) {
	k.mu.Lock()
	k.keys[tree] = priv
	k.mu.Unlock()
}

// Holds reports whether the pipeline holds the authority key for tree.
func (k *Keyring) Holds(tree asset.Address) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	_, ok := k.keys[tree]

	return ok
}

// Key returns the authority key for tree.
func (k *Keyring) Key(tree asset.Address) (ed25519.PrivateKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	priv, ok := k.keys[tree]

	return priv, ok
}

// Authority returns the authority address for tree.
func (k *Keyring) Authority(tree asset.Address) (asset.Address, bool) {
	priv, ok := k.Key(tree)
	if !ok {
		return asset.Address{}, false
	}

	var addr asset.Address
	copy(addr[:], priv.Public().(ed25519.PublicKey))

	return addr, true
}

// Trees returns the trees the keyring holds keys for.
func (k *Keyring) Trees() []asset.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()

	trees := make([]asset.Address, 0, len(k.keys))
	for t := range k.keys {
		trees = append(trees, t)
	}

	return trees
}

// SetRoot records root as the last observed root for tree.
func (k *Keyring) SetRoot(tree asset.Address, root asset.Hash) {
	k.mu.Lock()
	k.roots[tree] = root
	k.mu.Unlock()
}

// TreeRoot returns the current root of tree. It asks the source first and
// falls back to the last observed root when the source cannot answer.
func (k *Keyring) TreeRoot(ctx context.Context, tree asset.Address) (asset.Hash, error) {
	if k.source != nil {
		root, err := k.source.TreeRoot(ctx, tree)
		if err == nil {
			k.SetRoot(tree, root)
			return root, nil
		}

		k.mu.RLock()
		last, ok := k.roots[tree]
		k.mu.RUnlock()

		if !ok {
			return asset.Hash{}, fmt.Errorf("tree root %s:\n%w", tree, err)
		}

		logger.Warn("tree root query failed, using last known root", "tree", tree, "error", err)

		return last, nil
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	root, ok := k.roots[tree]
	if !ok {
		return asset.Hash{}, fmt.Errorf("%w: no known root for tree %s", asset.ErrUnavailable, tree)
	}

	return root, nil
}
