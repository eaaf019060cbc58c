package wire

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"Incinerator/internal/asset"
	"Incinerator/internal/types"
)

const (
	// Version is the current Transition message version.
	Version = 1

	// hashSize is the size of every id, address and hash field.
	hashSize = 32
)

// Transition is the decoded form of a Transition message.
type Transition struct {
	Kind      asset.Kind    // Kind is the on-chain action encoded
	AssetID   asset.ID      // AssetID is the leaf being mutated
	Owner     asset.Address // Owner is the current leaf owner
	Tree      asset.Address // Tree is the Merkle tree account
	Root      asset.Hash    // Root is the root the proof was built against
	Leaf      asset.Hash    // Leaf is the current leaf hash
	LeafIndex uint32        // LeafIndex is the leaf position
	Proof     []asset.Hash  // Proof is the sibling path, leaf to root
	Sink      asset.Address // Sink is the destination for transfers (zero for burns)
	Anchor    asset.Hash    // Anchor is the recent ledger anchor for replay protection
	Authority asset.Address // Authority is the tree authority co-signer (zero if none)
}

// Encode serializes t into a finished Transition buffer.
func Encode(t *Transition) []byte {
	builder := flatbuffers.NewBuilder(512 + len(t.Proof)*hashSize)

	proof := make([]byte, 0, len(t.Proof)*hashSize)
	for _, h := range t.Proof {
		proof = append(proof, h[:]...)
	}

	assetVec := builder.CreateByteVector(t.AssetID[:])
	ownerVec := builder.CreateByteVector(t.Owner[:])
	treeVec := builder.CreateByteVector(t.Tree[:])
	rootVec := builder.CreateByteVector(t.Root[:])
	leafVec := builder.CreateByteVector(t.Leaf[:])
	proofVec := builder.CreateByteVector(proof)
	anchorVec := builder.CreateByteVector(t.Anchor[:])

	// Optional fields are omitted when unset so burns carry no sink
	var sinkVec, authVec flatbuffers.UOffsetT
	if !t.Sink.IsZero() {
		sinkVec = builder.CreateByteVector(t.Sink[:])
	}
	if !t.Authority.IsZero() {
		authVec = builder.CreateByteVector(t.Authority[:])
	}

	types.TransitionStart(builder)
	types.TransitionAddVersion(builder, Version)
	types.TransitionAddKind(builder, byte(t.Kind))
	types.TransitionAddAssetId(builder, assetVec)
	types.TransitionAddOwner(builder, ownerVec)
	types.TransitionAddTree(builder, treeVec)
	types.TransitionAddRoot(builder, rootVec)
	types.TransitionAddLeaf(builder, leafVec)
	types.TransitionAddLeafIndex(builder, t.LeafIndex)
	types.TransitionAddProof(builder, proofVec)
	types.TransitionAddAnchor(builder, anchorVec)

	if sinkVec != 0 {
		types.TransitionAddSink(builder, sinkVec)
	}

	if authVec != 0 {
		types.TransitionAddAuthority(builder, authVec)
	}

	builder.Finish(types.TransitionEnd(builder))

	return builder.FinishedBytes()
}

// Decode parses and validates a Transition message.
func Decode(data []byte) (t *Transition, retErr error) {
	// FlatBuffers panics on malformed data, recover gracefully
	defer func() {
		if r := recover(); r != nil {
			t, retErr = nil, fmt.Errorf("malformed transition data")
		}
	}()

	if len(data) < 8 {
		return nil, fmt.Errorf("transition data too short")
	}

	fb := types.GetRootAsTransition(data, 0)

	if fb.Version() != Version {
		return nil, fmt.Errorf("unsupported transition version %d", fb.Version())
	}

	t = &Transition{
		Kind:      asset.Kind(fb.Kind()),
		LeafIndex: fb.LeafIndex(),
	}

	if !t.Kind.Valid() {
		return nil, fmt.Errorf("unknown transition kind %d", fb.Kind())
	}

	fixed := []struct {
		name     string
		src      []byte
		dst      []byte
		optional bool
	}{
		{"asset_id", fb.AssetIdBytes(), t.AssetID[:], false},
		{"owner", fb.OwnerBytes(), t.Owner[:], false},
		{"tree", fb.TreeBytes(), t.Tree[:], false},
		{"root", fb.RootBytes(), t.Root[:], false},
		{"leaf", fb.LeafBytes(), t.Leaf[:], false},
		{"anchor", fb.AnchorBytes(), t.Anchor[:], false},
		{"sink", fb.SinkBytes(), t.Sink[:], true},
		{"authority", fb.AuthorityBytes(), t.Authority[:], true},
	}

	for _, f := range fixed {
		if f.optional && len(f.src) == 0 {
			continue
		}

		if len(f.src) != hashSize {
			return nil, fmt.Errorf("invalid %s size: got %d, want %d", f.name, len(f.src), hashSize)
		}

		copy(f.dst, f.src)
	}

	proof := fb.ProofBytes()
	if len(proof)%hashSize != 0 {
		return nil, fmt.Errorf("proof length %d is not a multiple of %d", len(proof), hashSize)
	}

	t.Proof = make([]asset.Hash, len(proof)/hashSize)
	for i := range t.Proof {
		copy(t.Proof[i][:], proof[i*hashSize:(i+1)*hashSize])
	}

	return t, nil
}
