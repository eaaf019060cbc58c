package authority

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"Incinerator/internal/asset"
)

// mockSource returns root or err.
type mockSource struct {
	root  asset.Hash
	err   error
	calls int
}

func (m *mockSource) TreeRoot(context.Context, asset.Address) (asset.Hash, error) {
	m.calls++
	return m.root, m.err
}

// TestKeyring_Holds verifies key registration and authority derivation.
func TestKeyring_Holds(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	tree := asset.Address{1}

	k := NewKeyring(nil)
	if k.Holds(tree) {
		t.Fatal("empty keyring should hold nothing")
	}

	k.Add(tree, priv)

	if !k.Holds(tree) || k.Holds(asset.Address{2}) {
		t.Error("Holds mismatch after Add")
	}

	auth, ok := k.Authority(tree)
	if !ok || string(auth[:]) != string(pub) {
		t.Errorf("authority mismatch: %s", auth)
	}

	if len(k.Trees()) != 1 {
		t.Errorf("expected 1 tree, got %d", len(k.Trees()))
	}
}

// TestTreeRoot_RecordsAndFallsBack verifies the last observed root is served on failure.
func TestTreeRoot_RecordsAndFallsBack(t *testing.T) {
	src := &mockSource{root: asset.Hash{9}}
	k := NewKeyring(src)
	tree := asset.Address{1}

	root, err := k.TreeRoot(context.Background(), tree)
	if err != nil || root != (asset.Hash{9}) {
		t.Fatalf("TreeRoot = %s, %v", root, err)
	}

	src.err = asset.ErrUnavailable
	src.root = asset.Hash{}

	root, err = k.TreeRoot(context.Background(), tree)
	if err != nil || root != (asset.Hash{9}) {
		t.Errorf("fallback TreeRoot = %s, %v", root, err)
	}
}

// TestTreeRoot_NoKnownRoot verifies a failure with no history is returned.
func TestTreeRoot_NoKnownRoot(t *testing.T) {
	k := NewKeyring(&mockSource{err: asset.ErrTimeout})

	if _, err := k.TreeRoot(context.Background(), asset.Address{1}); !errors.Is(err, asset.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}

	offline := NewKeyring(nil)
	if _, err := offline.TreeRoot(context.Background(), asset.Address{1}); !errors.Is(err, asset.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}

	offline.SetRoot(asset.Address{1}, asset.Hash{3})
	if root, err := offline.TreeRoot(context.Background(), asset.Address{1}); err != nil || root != (asset.Hash{3}) {
		t.Errorf("recorded root not served: %s, %v", root, err)
	}
}
