package asset

import "fmt"

// Kind is the requested state transition for a leaf.
type Kind uint8

const (
	// KindBurn removes the leaf. Requires tree authority.
	KindBurn Kind = 1

	// KindTransferToSink moves the leaf to the sink address.
	KindTransferToSink Kind = 2
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBurn:
		return "burn"
	case KindTransferToSink:
		return "transfer"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindBurn || k == KindTransferToSink
}

// ParseKind accepts "burn" and "transfer".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "burn":
		return KindBurn, nil
	case "transfer", "transfer-to-sink":
		return KindTransferToSink, nil
	default:
		return 0, fmt.Errorf("unknown transition kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}

	*k = parsed

	return nil
}
