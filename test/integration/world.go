package integration

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"Incinerator/internal/asset"
	"Incinerator/internal/wire"
)

const (
	// treeDepth is the depth of the simulated Merkle tree.
	treeDepth = 3

	// treeCapacity is the number of leaves the tree holds.
	treeCapacity = 1 << treeDepth
)

// record is one minted asset.
type record struct {
	meta  asset.Metadata // meta is what the indexer reports
	index uint32         // index is the leaf position
}

// World is the shared state behind the fake indexer and ledger.
// Confirmed transitions rewrite leaves, so the root moves like a real tree.
type World struct {
	mu        sync.Mutex
	tree      asset.Address            // tree is the Merkle tree account
	authority asset.Address            // authority must cosign burns
	leaves    [treeCapacity]asset.Hash // leaves are the leaf hashes
	assets    map[asset.ID]*record     // assets are keyed by id
	proofHits map[asset.ID]int         // proofHits counts indexer proof requests
	submitted []*wire.Signed           // submitted are the accepted transitions
	anchor    asset.Hash               // anchor is the current replay anchor
	balance   uint64                   // balance is every owner's fee balance
	next      uint32                   // next is the next free leaf
}

// NewWorld creates an empty tree whose burns require authority.
func NewWorld(tree, authority asset.Address) *World {
	return &World{
		tree:      tree,
		authority: authority,
		assets:    make(map[asset.ID]*record),
		proofHits: make(map[asset.ID]int),
		anchor:    asset.Hash{0xA0},
		balance:   1_000_000_000,
	}
}

// Mint appends a compressed asset owned by owner.
func (w *World) Mint(owner asset.Address, name string) asset.ID {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.next >= treeCapacity {
		panic("world tree is full")
	}

	var id asset.ID
	id[0] = 0xC0
	id[1] = byte(w.next)
	copy(id[2:], owner[:30])

	r := &record{
		index: w.next,
		meta: asset.Metadata{
			ID:         id,
			Owner:      owner,
			Tree:       w.tree,
			Name:       name,
			Symbol:     "RLC",
			Compressed: true,
		},
	}

	w.assets[id] = r
	w.leaves[r.index] = leafHash(r.meta)
	w.next++

	return id
}

// ProofHits returns how many times the indexer served the proof of id.
func (w *World) ProofHits(id asset.ID) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.proofHits[id]
}

// Submitted returns the accepted transitions.
func (w *World) Submitted() []*wire.Signed {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]*wire.Signed(nil), w.submitted...)
}

// Metadata returns the current metadata of id.
func (w *World) Metadata(id asset.ID) (asset.Metadata, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.assets[id]
	if !ok {
		return asset.Metadata{}, false
	}

	return r.meta, true
}

// proof returns the current inclusion proof of id.
func (w *World) proof(id asset.ID) (*asset.MerkleProof, asset.Metadata, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.proofHits[id]++

	r, ok := w.assets[id]
	if !ok || r.meta.Burnt {
		return nil, asset.Metadata{}, false
	}

	return &asset.MerkleProof{
		Tree:      w.tree,
		Root:      w.rootLocked(),
		Leaf:      w.leaves[r.index],
		LeafIndex: r.index,
		Siblings:  w.siblingsLocked(r.index),
	}, r.meta, true
}

// owned lists the assets owner holds, burnt ones included.
func (w *World) owned(owner asset.Address) []asset.Metadata {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []asset.Metadata
	for _, r := range w.assets {
		if r.meta.Owner == owner {
			out = append(out, r.meta)
		}
	}

	return out
}

// root returns the current tree root.
func (w *World) root() asset.Hash {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.rootLocked()
}

// apply validates a signed transition against the tree and executes it.
func (w *World) apply(signed *wire.Signed) error {
	t, err := signed.Transition()
	if err != nil {
		return fmt.Errorf("malformed transition: %v", err)
	}

	if err := signed.Verify(t.Owner); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.assets[t.AssetID]
	if !ok || r.meta.Burnt {
		return fmt.Errorf("asset %s does not exist", t.AssetID)
	}

	if r.meta.Owner != t.Owner {
		return fmt.Errorf("%s does not own %s", t.Owner, t.AssetID)
	}

	if t.Root != w.rootLocked() {
		return fmt.Errorf("stale root %s", t.Root)
	}

	if asset.ComputeRoot(t.Leaf, t.LeafIndex, t.Proof) != t.Root || t.LeafIndex != r.index {
		return fmt.Errorf("invalid proof for %s", t.AssetID)
	}

	if t.Anchor != w.anchor {
		return fmt.Errorf("unknown anchor %s", t.Anchor)
	}

	switch t.Kind {
	case asset.KindBurn:
		if t.Authority != w.authority || !cosigned(signed, w.authority) {
			return fmt.Errorf("burn of %s lacks tree authority", t.AssetID)
		}

		r.meta.Burnt = true
		w.leaves[r.index] = asset.Hash{}

	case asset.KindTransferToSink:
		if t.Sink.IsZero() {
			return fmt.Errorf("transfer of %s has no sink", t.AssetID)
		}

		r.meta.Owner = t.Sink
		w.leaves[r.index] = leafHash(r.meta)

	default:
		return fmt.Errorf("unknown kind %d", t.Kind)
	}

	w.submitted = append(w.submitted, signed)
	w.anchor[1]++

	return nil
}

// rootLocked computes the root. Callers hold mu.
func (w *World) rootLocked() asset.Hash {
	level := w.leaves[:]

	for len(level) > 1 {
		next := make([]asset.Hash, len(level)/2)
		for i := range next {
			next[i] = asset.HashPair(level[2*i], level[2*i+1])
		}
		level = next
	}

	return level[0]
}

// siblingsLocked returns the path of index from leaf to root. Callers hold mu.
func (w *World) siblingsLocked(index uint32) []asset.Hash {
	siblings := make([]asset.Hash, 0, treeDepth)
	level := w.leaves[:]

	for len(level) > 1 {
		siblings = append(siblings, level[index^1])

		next := make([]asset.Hash, len(level)/2)
		for i := range next {
			next[i] = asset.HashPair(level[2*i], level[2*i+1])
		}

		level = next
		index >>= 1
	}

	return siblings
}

// leafHash hashes the fields a leaf commits to.
func leafHash(m asset.Metadata) asset.Hash {
	data := make([]byte, 0, 64)
	data = append(data, m.ID[:]...)
	data = append(data, m.Owner[:]...)

	return asset.HashLeaf(data)
}

// cosigned reports whether signer signed s.
func cosigned(s *wire.Signed, signer asset.Address) bool {
	for _, sig := range s.Signatures {
		if sig.Signer == signer && ed25519.Verify(signer[:], s.Hash[:], sig.Sig[:]) {
			return true
		}
	}

	return false
}
