package asset

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// buildTree returns the root and the proof for every leaf of a full tree.
func buildTree(leaves []Hash) (Hash, [][]Hash) {
	depth := 0
	for 1<<depth < len(leaves) {
		depth++
	}

	level := make([]Hash, 1<<depth)
	copy(level, leaves)

	paths := make([][]Hash, len(leaves))

	for d := 0; d < depth; d++ {
		for i := range leaves {
			pos := i >> d
			paths[i] = append(paths[i], level[pos^1])
		}

		next := make([]Hash, len(level)/2)
		for j := range next {
			next[j] = HashPair(level[2*j], level[2*j+1])
		}
		level = next
	}

	return level[0], paths
}

func TestIDRoundTrip(t *testing.T) {
	var id ID
	for i := range id {
		id[i] = byte(i + 7)
	}

	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID failed: %v", err)
	}

	if parsed != id {
		t.Errorf("round trip mismatch: got %s, want %s", parsed, id)
	}
}

func TestParseAddress_WrongLength(t *testing.T) {
	if _, err := ParseAddress("3mJr7AoUXx2Wqd"); err == nil {
		t.Error("expected error for short address")
	}
}

func TestSinkAddress(t *testing.T) {
	if SinkAddress.IsZero() {
		t.Fatal("sink address should not be zero")
	}

	if SinkAddress.String() != "1nc1nerator11111111111111111111111111111111" {
		t.Errorf("unexpected sink encoding: %s", SinkAddress)
	}
}

func TestShortRef(t *testing.T) {
	if got := ShortRef("abcdefghijklmnopqrstuvwxyz"); got != "abcdef...uvwxyz" {
		t.Errorf("got %q", got)
	}

	if got := ShortRef("short"); got != "short" {
		t.Errorf("short refs should pass through, got %q", got)
	}
}

func TestVerify_AllLeaves(t *testing.T) {
	leaves := make([]Hash, 5)
	for i := range leaves {
		leaves[i] = HashLeaf([]byte(fmt.Sprintf("leaf-%d", i)))
	}

	root, paths := buildTree(leaves)

	for i := range leaves {
		p := &MerkleProof{Tree: SinkAddress, Root: root, Leaf: leaves[i], LeafIndex: uint32(i), Siblings: paths[i]}
		if err := p.Validate(); err != nil {
			t.Errorf("leaf %d: %v", i, err)
		}
	}
}

func TestVerify_WrongIndex(t *testing.T) {
	leaves := []Hash{HashLeaf([]byte("a")), HashLeaf([]byte("b")), HashLeaf([]byte("c")), HashLeaf([]byte("d"))}
	root, paths := buildTree(leaves)

	p := &MerkleProof{Tree: SinkAddress, Root: root, Leaf: leaves[1], LeafIndex: 2, Siblings: paths[1]}
	if p.Verify() {
		t.Error("proof with wrong index should not verify")
	}

	if err := p.Validate(); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof, got %v", err)
	}
}

func TestValidate_IndexOutsideDepth(t *testing.T) {
	leaf := HashLeaf([]byte("x"))
	p := &MerkleProof{Tree: SinkAddress, Root: leaf, Leaf: leaf, LeafIndex: 1}

	if err := p.Validate(); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof, got %v", err)
	}
}

func TestClone_Independent(t *testing.T) {
	p := &MerkleProof{Siblings: []Hash{{1}, {2}}}
	c := p.Clone()
	c.Siblings[0] = Hash{9}

	if p.Siblings[0] != (Hash{1}) {
		t.Error("clone shares sibling storage")
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("fetch:\n%w", ErrNotFound), "NotFound"},
		{fmt.Errorf("build:\n%w", ErrStaleProof), "StaleProof"},
		{context.DeadlineExceeded, "Timeout"},
		{fmt.Errorf("%w: %w", ErrTimeout, ErrUnavailable), "Timeout"},
		{errors.New("boom"), "Internal"},
	}

	for _, c := range cases {
		if got := Code(c.err); got != c.want {
			t.Errorf("Code(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("burn")
	if err != nil || k != KindBurn {
		t.Errorf("burn: got %v, %v", k, err)
	}

	k, err = ParseKind("transfer")
	if err != nil || k != KindTransferToSink {
		t.Errorf("transfer: got %v, %v", k, err)
	}

	if _, err := ParseKind("melt"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
