package storage

import (
	"testing"
	"time"

	"Incinerator/internal/asset"
)

// newTestProofStore creates a ProofStore on a temporary storage.
func newTestProofStore(t *testing.T) *ProofStore {
	t.Helper()

	ps, err := NewProofStore(newTestStorage(t))
	if err != nil {
		t.Fatalf("NewProofStore failed: %v", err)
	}

	t.Cleanup(ps.Close)

	return ps
}

// testProof returns a proof with recognizable field values.
func testProof(depth int) *asset.MerkleProof {
	p := &asset.MerkleProof{
		Tree:      asset.Address{1},
		Root:      asset.Hash{2},
		Leaf:      asset.Hash{3},
		LeafIndex: 6,
	}

	for i := 0; i < depth; i++ {
		p.Siblings = append(p.Siblings, asset.Hash{byte(10 + i)})
	}

	return p
}

func TestProofStore_SaveLoad(t *testing.T) {
	ps := newTestProofStore(t)

	id := asset.ID{42}
	fetchedAt := time.Unix(1_700_000_000, 123)

	if err := ps.Save(id, testProof(14), fetchedAt); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, at, err := ps.Load(id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got == nil {
		t.Fatal("expected stored proof")
	}

	if !at.Equal(fetchedAt) {
		t.Errorf("fetchedAt = %v, want %v", at, fetchedAt)
	}

	if got.Tree != (asset.Address{1}) || got.Root != (asset.Hash{2}) || got.Leaf != (asset.Hash{3}) || got.LeafIndex != 6 {
		t.Errorf("header mismatch: %+v", got)
	}

	if len(got.Siblings) != 14 || got.Siblings[13] != (asset.Hash{23}) {
		t.Errorf("siblings mismatch: %v", got.Siblings)
	}
}

func TestProofStore_LoadMissing(t *testing.T) {
	ps := newTestProofStore(t)

	got, _, err := ps.Load(asset.ID{9})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got != nil {
		t.Error("expected nil proof for missing id")
	}
}

func TestProofStore_Delete(t *testing.T) {
	ps := newTestProofStore(t)
	id := asset.ID{5}

	if err := ps.Save(id, testProof(3), time.Now()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := ps.Delete(id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if got, _, _ := ps.Load(id); got != nil {
		t.Error("proof still present after Delete")
	}
}

func TestProofStore_Prune(t *testing.T) {
	ps := newTestProofStore(t)
	now := time.Now()

	if err := ps.Save(asset.ID{1}, testProof(2), now.Add(-time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := ps.Save(asset.ID{2}, testProof(2), now); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	n, err := ps.Prune(now.Add(-30 * time.Minute))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	if n != 1 {
		t.Errorf("pruned %d records, want 1", n)
	}

	if got, _, _ := ps.Load(asset.ID{1}); got != nil {
		t.Error("old record survived prune")
	}

	if got, _, _ := ps.Load(asset.ID{2}); got == nil {
		t.Error("fresh record was pruned")
	}
}

func TestDecodeProofRecord_Truncated(t *testing.T) {
	data, err := encodeProofRecord(testProof(4), time.Now())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if _, _, err := decodeProofRecord(data[:len(data)-1]); err == nil {
		t.Error("expected error for truncated record")
	}
}
