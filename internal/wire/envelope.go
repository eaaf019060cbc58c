package wire

import (
	"crypto/ed25519"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"Incinerator/internal/asset"
	"Incinerator/internal/types"
)

const (
	// signatureRecordSize is one signer pubkey followed by its ed25519 signature.
	signatureRecordSize = hashSize + ed25519.SignatureSize

	// maxSignatures bounds the signature records accepted in a SignedTransition.
	maxSignatures = 4
)

// Signature is one signer's ed25519 signature over a message hash.
type Signature struct {
	Signer asset.Address               // Signer is the signing public key
	Sig    [ed25519.SignatureSize]byte // Sig is the ed25519 signature
}

// Unsigned is a network-ready transition waiting for the owner's signature.
// Cosignatures holds signatures already attached by the pipeline itself,
// such as the tree authority for burns.
type Unsigned struct {
	Message      []byte        // Message is the encoded Transition
	Hash         asset.Hash    // Hash is blake3(Message), the signed payload
	Kind         asset.Kind    // Kind is the encoded on-chain action
	AssetID      asset.ID      // AssetID is the leaf being mutated
	Owner        asset.Address // Owner must sign before submission
	Cosignatures []Signature   // Cosignatures are pipeline-held signatures
}

// Signed is an Unsigned plus the owner's signature. It is the only
// representation accepted for submission.
type Signed struct {
	Message    []byte      // Message is the encoded Transition
	Hash       asset.Hash  // Hash is blake3(Message)
	Signatures []Signature // Signatures include the owner and any cosigners
}

// NewUnsigned encodes t and computes its message hash.
func NewUnsigned(t *Transition) *Unsigned {
	msg := Encode(t)

	return &Unsigned{
		Message: msg,
		Hash:    blake3.Sum256(msg),
		Kind:    t.Kind,
		AssetID: t.AssetID,
		Owner:   t.Owner,
	}
}

// Cosign attaches a signature from a key held by the pipeline.
func (u *Unsigned) Cosign(priv ed25519.PrivateKey) {
	u.Cosignatures = append(u.Cosignatures, sign(priv, u.Hash))
}

// SignWith signs the hash with the owner's private key.
func (u *Unsigned) SignWith(priv ed25519.PrivateKey) (*Signed, error) {
	s := sign(priv, u.Hash)

	return u.Attach(s.Signer, s.Sig[:])
}

// Attach adds an externally produced owner signature.
// The signer must be the owner and the signature must verify.
func (u *Unsigned) Attach(signer asset.Address, sig []byte) (*Signed, error) {
	if signer != u.Owner {
		return nil, fmt.Errorf("%w: signer %s is not owner %s", asset.ErrInvalidSignature, signer, u.Owner)
	}

	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", asset.ErrInvalidSignature, len(sig), ed25519.SignatureSize)
	}

	if !ed25519.Verify(signer[:], u.Hash[:], sig) {
		return nil, fmt.Errorf("%w: owner signature does not verify", asset.ErrInvalidSignature)
	}

	owner := Signature{Signer: signer}
	copy(owner.Sig[:], sig)

	sigs := make([]Signature, 0, len(u.Cosignatures)+1)
	sigs = append(sigs, owner)
	sigs = append(sigs, u.Cosignatures...)

	return &Signed{
		Message:    u.Message,
		Hash:       u.Hash,
		Signatures: sigs,
	}, nil
}

// Verify checks the hash and every signature, and requires one from owner.
func (s *Signed) Verify(owner asset.Address) error {
	if s == nil {
		return fmt.Errorf("%w: missing signed transition", asset.ErrInvalidSignature)
	}

	if blake3.Sum256(s.Message) != s.Hash {
		return fmt.Errorf("%w: hash mismatch", asset.ErrInvalidSignature)
	}

	ownerSigned := false

	for _, sig := range s.Signatures {
		if !ed25519.Verify(sig.Signer[:], s.Hash[:], sig.Sig[:]) {
			return fmt.Errorf("%w: bad signature from %s", asset.ErrInvalidSignature, sig.Signer)
		}

		if sig.Signer == owner {
			ownerSigned = true
		}
	}

	if !ownerSigned {
		return fmt.Errorf("%w: owner %s did not sign", asset.ErrInvalidSignature, owner)
	}

	return nil
}

// Transition decodes the signed message.
func (s *Signed) Transition() (*Transition, error) {
	return Decode(s.Message)
}

// Bytes serializes s as a SignedTransition buffer.
func (s *Signed) Bytes() []byte {
	builder := flatbuffers.NewBuilder(len(s.Message) + 256)

	records := make([]byte, 0, len(s.Signatures)*signatureRecordSize)
	for _, sig := range s.Signatures {
		records = append(records, sig.Signer[:]...)
		records = append(records, sig.Sig[:]...)
	}

	msgVec := builder.CreateByteVector(s.Message)
	hashVec := builder.CreateByteVector(s.Hash[:])
	sigVec := builder.CreateByteVector(records)

	types.SignedTransitionStart(builder)
	types.SignedTransitionAddMessage(builder, msgVec)
	types.SignedTransitionAddHash(builder, hashVec)
	types.SignedTransitionAddSignatures(builder, sigVec)
	builder.Finish(types.SignedTransitionEnd(builder))

	return builder.FinishedBytes()
}

// ParseSigned decodes a SignedTransition buffer. Signatures are not verified.
func ParseSigned(data []byte) (s *Signed, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			s, retErr = nil, fmt.Errorf("malformed signed transition data")
		}
	}()

	if len(data) < 8 {
		return nil, fmt.Errorf("signed transition data too short")
	}

	fb := types.GetRootAsSignedTransition(data, 0)

	hash := fb.HashBytes()
	if len(hash) != hashSize {
		return nil, fmt.Errorf("invalid hash size: got %d, want %d", len(hash), hashSize)
	}

	records := fb.SignaturesBytes()
	if len(records)%signatureRecordSize != 0 {
		return nil, fmt.Errorf("signatures length %d is not a multiple of %d", len(records), signatureRecordSize)
	}

	count := len(records) / signatureRecordSize
	if count > maxSignatures {
		return nil, fmt.Errorf("too many signatures: %d (max %d)", count, maxSignatures)
	}

	s = &Signed{
		Message:    append([]byte(nil), fb.MessageBytes()...),
		Signatures: make([]Signature, count),
	}
	copy(s.Hash[:], hash)

	for i := range s.Signatures {
		rec := records[i*signatureRecordSize : (i+1)*signatureRecordSize]
		copy(s.Signatures[i].Signer[:], rec[:hashSize])
		copy(s.Signatures[i].Sig[:], rec[hashSize:])
	}

	return s, nil
}

// sign produces a Signature over hash.
func sign(priv ed25519.PrivateKey, hash asset.Hash) Signature {
	var s Signature
	copy(s.Signer[:], priv.Public().(ed25519.PublicKey))
	copy(s.Sig[:], ed25519.Sign(priv, hash[:]))

	return s
}
