package discovery

import (
	"fmt"
	"strings"

	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

// ShuttleOverrideEnv names the variable that replaces the default shuttle list.
const ShuttleOverrideEnv = "SHUTTLE_ADDR_POINT"

// DefaultShuttleAddresses is the versioned list of shuttle relays.
var DefaultShuttleAddresses = []string{
	"/ip4/159.65.41.31/tcp/8848/p2p/12D3KooWRF2bz3KDRPvBs1FASRDRk7BfdYc1RUcfwKsz7UBEu7mL",
}

// Kind is the resolved discovery strategy.
type Kind uint8

const (
	// KindNone performs no discovery.
	KindNone Kind = iota
	// KindDHT performs namespace-free DHT discovery.
	KindDHT
	// KindRendezvous restricts discovery to Addresses.
	KindRendezvous
	// KindShuttle connects to the shuttle relays in Addresses.
	KindShuttle
)

// String returns a short name for logs.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDHT:
		return "dht"
	case KindRendezvous:
		return "rendezvous"
	case KindShuttle:
		return "shuttle"
	default:
		return "unknown"
	}
}

// Config is the network discovery configuration.
type Config struct {
	Kind      Kind
	Addresses []multiaddr.Multiaddr
}

// AddressStrings returns the addresses in string form.
func (c Config) AddressStrings() []string {
	out := make([]string, 0, len(c.Addresses))
	for _, a := range c.Addresses {
		out = append(out, a.String())
	}
	return out
}

// LookupFunc reads an optional variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Resolve maps mode to a discovery configuration. lookup may be nil, in which
// case no override is consulted.
func Resolve(mode Mode, lookup LookupFunc) (Config, error) {
	switch mode.Kind {
	case ModeFull:
		return Config{Kind: KindDHT}, nil

	case ModeFixedPoint:
		addr, err := multiaddr.NewMultiaddr(strings.TrimSpace(mode.Address))
		if err != nil {
			return Config{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, mode.Address, err)
		}
		return Config{Kind: KindRendezvous, Addresses: []multiaddr.Multiaddr{addr}}, nil

	case ModeShuttle:
		addrs := shuttleOverride(lookup)
		if len(addrs) == 0 {
			addrs = defaultShuttle()
		}
		logrus.WithFields(logrus.Fields{
			"function":  "Resolve",
			"addresses": len(addrs),
		}).Debug("Resolved shuttle addresses")
		return Config{Kind: KindShuttle, Addresses: addrs}, nil

	case ModeDisabled:
		return Config{Kind: KindNone}, nil

	default:
		return Config{}, fmt.Errorf("%w: kind %d", ErrUnknownMode, mode.Kind)
	}
}

// shuttleOverride parses the override list, silently dropping bad entries.
func shuttleOverride(lookup LookupFunc) []multiaddr.Multiaddr {
	if lookup == nil {
		return nil
	}
	value, ok := lookup(ShuttleOverrideEnv)
	if !ok {
		return nil
	}

	var addrs []multiaddr.Multiaddr
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addr, err := multiaddr.NewMultiaddr(entry)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "shuttleOverride",
				"entry":    entry,
				"error":    err.Error(),
			}).Debug("Dropping unparseable shuttle address")
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

func defaultShuttle() []multiaddr.Multiaddr {
	addrs := make([]multiaddr.Multiaddr, 0, len(DefaultShuttleAddresses))
	for _, s := range DefaultShuttleAddresses {
		addrs = append(addrs, multiaddr.StringCast(s))
	}
	return addrs
}
