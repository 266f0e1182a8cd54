package backend

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/opd-ai/accountd/discovery"
)

// BootstrapPolicy selects the peers the DHT is seeded with.
type BootstrapPolicy uint8

const (
	// BootstrapNone seeds the DHT only from the discovery addresses.
	BootstrapNone BootstrapPolicy = iota
	// BootstrapDefault additionally uses the public IPFS bootstrap peers.
	BootstrapDefault
)

// String returns the policy name.
func (p BootstrapPolicy) String() string {
	if p == BootstrapDefault {
		return "default"
	}
	return "none"
}

// ParseBootstrapPolicy parses "none" or "default".
func ParseBootstrapPolicy(s string) (BootstrapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return BootstrapNone, nil
	case "default":
		return BootstrapDefault, nil
	default:
		return BootstrapNone, fmt.Errorf("%w: bootstrap policy %q", ErrInvalidConfig, s)
	}
}

// Size is a width and height in pixels.
type Size struct {
	Width  int
	Height int
}

// AvatarFunc renders the default profile picture for a DID as PNG bytes.
type AvatarFunc func(did string, size int) ([]byte, error)

// Default values applied by Config.withDefaults.
const (
	DefaultThumbnailEdge = 500
	DefaultAvatarSize    = 512
)

// Config is the construction-time configuration shared by every generation.
// It is copied into the Bundle and never mutated afterwards.
type Config struct {
	StorageRoot     string
	Discovery       discovery.Config
	Bootstrap       BootstrapPolicy
	EnableQUIC      bool
	PortMapping     bool
	AgentVersion    string
	ListenAddrs     []string
	ThumbnailSize   Size
	AvatarSize      int
	DefaultAvatar   AvatarFunc
	ICEServers      []string
	SavePhrase      bool
	EmitOnlineEvent bool
}

// Validate reports whether the configuration can be used to build handles.
func (c Config) Validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("%w: storage root is empty", ErrInvalidConfig)
	}
	if !filepath.IsAbs(c.StorageRoot) {
		return fmt.Errorf("%w: storage root %q is not absolute", ErrInvalidConfig, c.StorageRoot)
	}
	if c.ThumbnailSize.Width < 0 || c.ThumbnailSize.Height < 0 {
		return fmt.Errorf("%w: negative thumbnail size", ErrInvalidConfig)
	}
	if (c.Discovery.Kind == discovery.KindRendezvous || c.Discovery.Kind == discovery.KindShuttle) &&
		len(c.Discovery.Addresses) == 0 {
		return fmt.Errorf("%w: %s discovery without addresses", ErrInvalidConfig, c.Discovery.Kind)
	}
	return nil
}

// NodeDir is where the networking runtime keeps its data.
func (c Config) NodeDir() string { return filepath.Join(c.StorageRoot, "node") }

// FilesDir is where stored file contents live.
func (c Config) FilesDir() string { return filepath.Join(c.StorageRoot, "files") }

// FilesIndex is the path of the file metadata database.
func (c Config) FilesIndex() string { return filepath.Join(c.StorageRoot, "files.db") }

// withDefaults fills zero values and detaches slices from the caller.
func (c Config) withDefaults() Config {
	if c.ThumbnailSize.Width == 0 && c.ThumbnailSize.Height == 0 {
		c.ThumbnailSize = Size{Width: DefaultThumbnailEdge, Height: DefaultThumbnailEdge}
	}
	if c.AvatarSize == 0 {
		c.AvatarSize = DefaultAvatarSize
	}
	c.ListenAddrs = append([]string(nil), c.ListenAddrs...)
	c.ICEServers = append([]string(nil), c.ICEServers...)
	c.Discovery.Addresses = append(c.Discovery.Addresses[:0:0], c.Discovery.Addresses...)
	return c
}
