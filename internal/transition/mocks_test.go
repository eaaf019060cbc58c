package transition

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"Incinerator/internal/asset"
	"Incinerator/internal/authority"
	"Incinerator/internal/ledger"
	"Incinerator/internal/wire"
)

// fakeProofs serves a sequence of proofs per asset and records invalidations.
type fakeProofs struct {
	mu          sync.Mutex
	proofs      map[asset.ID][]*asset.MerkleProof
	err         error
	fetches     int
	invalidated []asset.ID
}

func newFakeProofs() *fakeProofs {
	return &fakeProofs{proofs: make(map[asset.ID][]*asset.MerkleProof)}
}

func (f *fakeProofs) set(id asset.ID, proofs ...*asset.MerkleProof) {
	f.mu.Lock()
	f.proofs[id] = proofs
	f.mu.Unlock()
}

func (f *fakeProofs) GetProof(_ context.Context, id asset.ID) (*asset.MerkleProof, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	seq := f.proofs[id]
	if len(seq) == 0 {
		return nil, asset.ErrNotFound
	}

	p := seq[min(f.fetches, len(seq)-1)]
	f.fetches++

	return p.Clone(), nil
}

func (f *fakeProofs) Invalidate(id asset.ID) {
	f.mu.Lock()
	f.invalidated = append(f.invalidated, id)
	f.mu.Unlock()
}

// fakeLedger records submissions and confirms after a number of polls.
type fakeLedger struct {
	mu           sync.Mutex
	anchor       asset.Hash
	roots        map[asset.Address]asset.Hash
	balance      uint64
	sendErr      error
	statusErr    string
	confirmAfter int // confirmAfter < 0 never confirms
	polls        int
	balanceCalls int
	sent         []*wire.Signed
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		anchor:       asset.Hash{0xA0},
		roots:        make(map[asset.Address]asset.Hash),
		balance:      1_000_000,
		confirmAfter: 2,
	}
}

func (l *fakeLedger) LatestAnchor(context.Context) (asset.Hash, error) {
	return l.anchor, nil
}

func (l *fakeLedger) SendTransition(_ context.Context, s *wire.Signed) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sendErr != nil {
		return "", l.sendErr
	}

	l.sent = append(l.sent, s)

	return "3xQmTfVfW1reference0000000000000000000000000ZzYyXx", nil
}

func (l *fakeLedger) TransitionStatus(context.Context, string) (ledger.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.polls++

	if l.statusErr != "" {
		return ledger.Status{Err: l.statusErr}, nil
	}

	return ledger.Status{Confirmed: l.confirmAfter >= 0 && l.polls >= l.confirmAfter}, nil
}

func (l *fakeLedger) Balance(context.Context, asset.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balanceCalls++

	return l.balance, nil
}

func (l *fakeLedger) TreeRoot(_ context.Context, tree asset.Address) (asset.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	root, ok := l.roots[tree]
	if !ok {
		return asset.Hash{}, asset.ErrNotFound
	}

	return root, nil
}

func (l *fakeLedger) sentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.sent)
}

// funcSigner adapts a function to Signer and counts calls.
type funcSigner struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, u *wire.Unsigned) (*wire.Signed, error)
}

func (s *funcSigner) Sign(ctx context.Context, u *wire.Unsigned) (*wire.Signed, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	return s.fn(ctx, u)
}

// keySigner signs with priv.
func keySigner(priv ed25519.PrivateKey) *funcSigner {
	return &funcSigner{fn: func(_ context.Context, u *wire.Unsigned) (*wire.Signed, error) {
		return u.SignWith(priv)
	}}
}

// newKey generates a keypair.
func newKey(t *testing.T) (ed25519.PrivateKey, asset.Address) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var addr asset.Address
	copy(addr[:], pub)

	return priv, addr
}

// makeProof builds a consistent depth-3 proof for leaf index 5 of tree.
func makeProof(tree asset.Address, salt byte) *asset.MerkleProof {
	siblings := []asset.Hash{{salt, 1}, {salt, 2}, {salt, 3}}
	leaf := asset.HashLeaf([]byte{salt, 0xEE})

	return &asset.MerkleProof{
		Tree:      tree,
		Root:      asset.ComputeRoot(leaf, 5, siblings),
		Leaf:      leaf,
		LeafIndex: 5,
		Siblings:  siblings,
	}
}

// harness wires an executor against fakes.
type harness struct {
	proofs *fakeProofs
	ledger *fakeLedger
	keys   *authority.Keyring
	owner  asset.Address
	signer *funcSigner
	tree   asset.Address
	id     asset.ID
	states []State
}

// newHarness creates an executor with one asset owned by a fresh key.
func newHarness(t *testing.T, builderOpts ...BuilderOption) (*harness, *Executor) {
	t.Helper()

	priv, owner := newKey(t)

	h := &harness{
		proofs: newFakeProofs(),
		ledger: newFakeLedger(),
		owner:  owner,
		signer: keySigner(priv),
		tree:   asset.Address{0x77},
		id:     asset.ID{0x42},
	}

	h.keys = authority.NewKeyring(h.ledger)
	h.proofs.set(h.id, makeProof(h.tree, 1))

	cfg := DefaultConfig()
	cfg.FetchTimeout = time.Second
	cfg.SubmitTimeout = time.Second
	cfg.ConfirmTimeout = time.Second
	cfg.PollInterval = time.Millisecond

	builder := NewBuilder(h.keys, builderOpts...)

	e := NewExecutor(cfg, h.proofs, builder, h.signer, h.ledger, h.keys,
		WithObserver(func(_ asset.ID, _, to State) { h.states = append(h.states, to) }),
	)

	return h, e
}

// grantAuthority gives the harness the tree authority and a matching ledger root.
func (h *harness) grantAuthority(t *testing.T) asset.Address {
	t.Helper()

	priv, addr := newKey(t)
	h.keys.Add(h.tree, priv)

	proof, err := h.proofs.GetProof(context.Background(), h.id)
	require.NoError(t, err)

	h.proofs.fetches = 0
	h.ledger.roots[h.tree] = proof.Root

	return addr
}

// submitted decodes the single submitted transition.
func (h *harness) submitted(t *testing.T) (*wire.Signed, *wire.Transition) {
	t.Helper()

	require.Equal(t, 1, h.ledger.sentCount())

	s := h.ledger.sent[0]
	tr, err := s.Transition()
	require.NoError(t, err)

	return s, tr
}
