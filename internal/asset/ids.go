package asset

import (
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	// idSize is the byte length of asset ids, addresses and hashes.
	idSize = 32
)

// ID identifies a compressed asset (one leaf of a Merkle tree).
type ID [idSize]byte

// Address is an ed25519 public key naming an owner, tree, sink or authority.
type Address [idSize]byte

// Hash is a blake3 digest.
type Hash [idSize]byte

// SinkAddress is the well-known address with no private key.
// Transfers to it emulate a burn when no tree authority is held.
var SinkAddress = MustParseAddress("1nc1nerator11111111111111111111111111111111")

// ParseID decodes a base58 asset id.
func ParseID(s string) (ID, error) {
	var id ID

	if err := decode58(s, id[:]); err != nil {
		return ID{}, fmt.Errorf("invalid asset id %q:\n%w", s, err)
	}

	return id, nil
}

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	var addr Address

	if err := decode58(s, addr[:]); err != nil {
		return Address{}, fmt.Errorf("invalid address %q:\n%w", s, err)
	}

	return addr, nil
}

// ParseHash decodes a base58 hash.
func ParseHash(s string) (Hash, error) {
	var h Hash

	if err := decode58(s, h[:]); err != nil {
		return Hash{}, fmt.Errorf("invalid hash %q:\n%w", s, err)
	}

	return h, nil
}

// MustParseAddress is ParseAddress for package-level constants.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}

	return addr
}

// String returns the base58 form.
func (id ID) String() string { return base58.Encode(id[:]) }

// String returns the base58 form.
func (a Address) String() string { return base58.Encode(a[:]) }

// String returns the base58 form.
func (h Hash) String() string { return base58.Encode(h[:]) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == Address{} }

// IsZero reports whether the hash is unset.
func (h Hash) IsZero() bool { return h == Hash{} }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
// An empty string decodes to the zero address.
func (a *Address) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*a = Address{}
		return nil
	}

	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}

	*h = parsed

	return nil
}

// ShortRef abbreviates a reference for display as first6...last6.
// References of 12 characters or fewer are returned unchanged.
func ShortRef(ref string) string {
	if len(ref) <= 12 {
		return ref
	}

	return ref[:6] + "..." + ref[len(ref)-6:]
}

// decode58 decodes s into dst, requiring an exact length match.
func decode58(s string, dst []byte) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return err
	}

	if len(raw) != len(dst) {
		return fmt.Errorf("got %d bytes, want %d", len(raw), len(dst))
	}

	copy(dst, raw)

	return nil
}
