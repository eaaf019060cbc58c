package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"Incinerator/internal/asset"
)

const (
	// proofRecordVersion is the on-disk proof record format.
	proofRecordVersion = 1

	// proofHeaderSize is version(1) + fetchedAt(8) + tree(32) + root(32) + leaf(32) + index(4) + count(1).
	proofHeaderSize = 1 + 8 + 32 + 32 + 32 + 4 + 1
)

// proofPrefix namespaces proof records in the store.
var proofPrefix = []byte("proof/")

// ProofStore persists Merkle proofs keyed by asset id.
// Records are zstd-compressed.
type ProofStore struct {
	db  *Storage
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewProofStore wraps db. The ProofStore does not own db.
func NewProofStore(db *Storage) (*ProofStore, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}

	return &ProofStore{db: db, enc: enc, dec: dec}, nil
}

// Load returns the stored proof and its fetch time.
// Returns a nil proof if none is stored.
func (p *ProofStore) Load(id asset.ID) (*asset.MerkleProof, time.Time, error) {
	raw, err := p.db.Get(proofKey(id))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read proof %s:\n%w", id, err)
	}

	if raw == nil {
		return nil, time.Time{}, nil
	}

	data, err := p.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decompress proof %s:\n%w", id, err)
	}

	return decodeProofRecord(data)
}

// Save stores proof with its fetch time, replacing any previous record.
func (p *ProofStore) Save(id asset.ID, proof *asset.MerkleProof, fetchedAt time.Time) error {
	data, err := encodeProofRecord(proof, fetchedAt)
	if err != nil {
		return err
	}

	return p.db.Set(proofKey(id), p.enc.EncodeAll(data, nil))
}

// Delete removes the stored proof for id.
func (p *ProofStore) Delete(id asset.ID) error {
	return p.db.Delete(proofKey(id))
}

// Prune removes every record fetched before cutoff and returns the count.
func (p *ProofStore) Prune(cutoff time.Time) (int, error) {
	var stale [][]byte

	err := p.db.IteratePrefix(proofPrefix, func(key, value []byte) error {
		data, err := p.dec.DecodeAll(value, nil)
		if err != nil {
			// Unreadable records are dropped with the stale ones
			stale = append(stale, append([]byte(nil), key...))
			return nil
		}

		if len(data) < 9 || time.Unix(0, int64(binary.LittleEndian.Uint64(data[1:9]))).Before(cutoff) {
			stale = append(stale, append([]byte(nil), key...))
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan proofs:\n%w", err)
	}

	if err := p.db.DeleteKeys(stale); err != nil {
		return 0, fmt.Errorf("delete stale proofs:\n%w", err)
	}

	return len(stale), nil
}

// Close releases the codec resources.
func (p *ProofStore) Close() {
	p.enc.Close()
	p.dec.Close()
}

// proofKey returns the storage key for an asset id.
func proofKey(id asset.ID) []byte {
	key := make([]byte, 0, len(proofPrefix)+len(id))
	key = append(key, proofPrefix...)

	return append(key, id[:]...)
}

// encodeProofRecord serializes a proof record.
// Format: version | fetchedAt ns LE | tree | root | leaf | index LE | count | siblings.
func encodeProofRecord(proof *asset.MerkleProof, fetchedAt time.Time) ([]byte, error) {
	if len(proof.Siblings) > asset.MaxProofDepth {
		return nil, fmt.Errorf("proof depth %d exceeds %d", len(proof.Siblings), asset.MaxProofDepth)
	}

	buf := make([]byte, proofHeaderSize, proofHeaderSize+32*len(proof.Siblings))
	buf[0] = proofRecordVersion
	binary.LittleEndian.PutUint64(buf[1:9], uint64(fetchedAt.UnixNano()))
	copy(buf[9:41], proof.Tree[:])
	copy(buf[41:73], proof.Root[:])
	copy(buf[73:105], proof.Leaf[:])
	binary.LittleEndian.PutUint32(buf[105:109], proof.LeafIndex)
	buf[109] = byte(len(proof.Siblings))

	for _, s := range proof.Siblings {
		buf = append(buf, s[:]...)
	}

	return buf, nil
}

// decodeProofRecord parses a record written by encodeProofRecord.
func decodeProofRecord(data []byte) (*asset.MerkleProof, time.Time, error) {
	if len(data) < proofHeaderSize {
		return nil, time.Time{}, fmt.Errorf("proof record too short: %d bytes", len(data))
	}

	if data[0] != proofRecordVersion {
		return nil, time.Time{}, fmt.Errorf("unsupported proof record version %d", data[0])
	}

	count := int(data[109])
	if len(data) != proofHeaderSize+32*count {
		return nil, time.Time{}, fmt.Errorf("proof record length %d does not match %d siblings", len(data), count)
	}

	fetchedAt := time.Unix(0, int64(binary.LittleEndian.Uint64(data[1:9])))

	proof := &asset.MerkleProof{
		LeafIndex: binary.LittleEndian.Uint32(data[105:109]),
		Siblings:  make([]asset.Hash, count),
	}
	copy(proof.Tree[:], data[9:41])
	copy(proof.Root[:], data[41:73])
	copy(proof.Leaf[:], data[73:105])

	for i := range proof.Siblings {
		off := proofHeaderSize + 32*i
		copy(proof.Siblings[i][:], data[off:off+32])
	}

	return proof, fetchedAt, nil
}
