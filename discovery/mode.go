package discovery

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownMode indicates a discovery mode string that is not recognized.
	ErrUnknownMode = errors.New("unknown discovery mode")

	// ErrInvalidAddress indicates an address that is not a valid multiaddr.
	ErrInvalidAddress = errors.New("invalid discovery address")
)

// ModeKind enumerates the discovery choices.
type ModeKind uint8

const (
	// ModeShuttle uses the relay shuttle list. It is the zero value.
	ModeShuttle ModeKind = iota
	// ModeFull enables full DHT discovery.
	ModeFull
	// ModeFixedPoint restricts discovery to one address.
	ModeFixedPoint
	// ModeDisabled disables discovery.
	ModeDisabled
)

// Mode is a discovery choice. Address is only meaningful for ModeFixedPoint.
type Mode struct {
	Kind    ModeKind
	Address string
}

// Full returns the full discovery mode.
func Full() Mode { return Mode{Kind: ModeFull} }

// Shuttle returns the default shuttle mode.
func Shuttle() Mode { return Mode{Kind: ModeShuttle} }

// FixedPoint returns a mode restricted to address.
func FixedPoint(address string) Mode { return Mode{Kind: ModeFixedPoint, Address: address} }

// Disabled returns the mode that performs no discovery.
func Disabled() Mode { return Mode{Kind: ModeDisabled} }

// String returns the name accepted by ParseMode, or "fixed:<address>".
func (m Mode) String() string {
	switch m.Kind {
	case ModeFull:
		return "full"
	case ModeShuttle:
		return "shuttle"
	case ModeFixedPoint:
		return "fixed:" + m.Address
	case ModeDisabled:
		return "disable"
	default:
		return "unknown"
	}
}

// ParseMode parses a case-insensitive mode name. An empty string selects the
// default shuttle mode. "fixed:<multiaddr>" selects a fixed point; the
// address itself is validated by Resolve.
func ParseMode(s string) (Mode, error) {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	switch {
	case lower == "":
		return Shuttle(), nil
	case lower == "full":
		return Full(), nil
	case lower == "shuttle":
		return Shuttle(), nil
	case lower == "disable", lower == "disabled", lower == "none":
		return Disabled(), nil
	case strings.HasPrefix(lower, "fixed:"):
		addr := strings.TrimSpace(trimmed[len("fixed:"):])
		if addr == "" {
			return Mode{}, fmt.Errorf("%w: fixed point without address", ErrInvalidAddress)
		}
		return FixedPoint(addr), nil
	default:
		return Mode{}, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// UnmarshalText lets Mode be decoded from configuration files.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
