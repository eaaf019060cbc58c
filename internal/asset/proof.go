package asset

import (
	"fmt"

	"github.com/zeebo/blake3"
)

const (
	// MaxProofDepth bounds the sibling path length (trees of up to 2^32 leaves).
	MaxProofDepth = 32
)

// MerkleProof proves a leaf's position under a tree root.
// It is only valid against the Root it was fetched with.
type MerkleProof struct {
	Tree      Address // Tree is the Merkle tree account holding the leaf
	Root      Hash    // Root is the tree root when the proof was produced
	Leaf      Hash    // Leaf is the hash of the leaf data
	LeafIndex uint32  // LeafIndex is the leaf position in the tree
	Siblings  []Hash  // Siblings are ordered from the leaf up to the root
}

// Verify reports whether the sibling path hashes the leaf up to Root.
func (p *MerkleProof) Verify() bool {
	if p == nil || len(p.Siblings) > MaxProofDepth {
		return false
	}

	return ComputeRoot(p.Leaf, p.LeafIndex, p.Siblings) == p.Root
}

// Validate checks structural bounds before the proof is used.
func (p *MerkleProof) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: missing proof", ErrInvalidProof)
	}

	if p.Tree.IsZero() {
		return fmt.Errorf("%w: missing tree", ErrInvalidProof)
	}

	if len(p.Siblings) > MaxProofDepth {
		return fmt.Errorf("%w: depth %d exceeds %d", ErrInvalidProof, len(p.Siblings), MaxProofDepth)
	}

	if len(p.Siblings) < MaxProofDepth && p.LeafIndex>>uint(len(p.Siblings)) != 0 {
		return fmt.Errorf("%w: leaf index %d outside depth %d", ErrInvalidProof, p.LeafIndex, len(p.Siblings))
	}

	if !p.Verify() {
		return fmt.Errorf("%w: path does not hash to root", ErrInvalidProof)
	}

	return nil
}

// Clone returns a deep copy so cached proofs cannot be mutated by callers.
func (p *MerkleProof) Clone() *MerkleProof {
	if p == nil {
		return nil
	}

	c := *p
	c.Siblings = append([]Hash(nil), p.Siblings...)

	return &c
}

// ComputeRoot hashes leaf up through siblings.
// At level i the running node is the right child when bit i of index is set.
func ComputeRoot(leaf Hash, index uint32, siblings []Hash) Hash {
	node := leaf

	for i, sib := range siblings {
		if index>>uint(i)&1 == 1 {
			node = HashPair(sib, node)
		} else {
			node = HashPair(node, sib)
		}
	}

	return node
}

// HashPair returns blake3(left || right).
func HashPair(left, right Hash) Hash {
	var buf [2 * idSize]byte
	copy(buf[:idSize], left[:])
	copy(buf[idSize:], right[:])

	return blake3.Sum256(buf[:])
}

// HashLeaf returns the leaf hash for raw leaf data.
func HashLeaf(data []byte) Hash {
	return blake3.Sum256(data)
}
