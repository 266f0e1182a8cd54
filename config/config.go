package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/accountd/account"
	"github.com/opd-ai/accountd/avatar"
	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/discovery"
)

// Version is reported in the networking agent version. Overridden at link
// time.
var Version = "0.1.0"

// DefaultListen is the request surface address.
const DefaultListen = "localhost:23818"

// ErrInvalid indicates a configuration value that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Flag names.
const (
	FlagPath             = "path"
	FlagDiscovery        = "discovery"
	FlagDiscoveryPoint   = "discovery-point"
	FlagEnableQUIC       = "enable-quic"
	FlagListen           = "listen"
	FlagConfig           = "config"
	FlagLogLevel         = "log-level"
	FlagLogToFile        = "log-to-file"
	FlagLogFormat        = "log-format"
	FlagProductionMode   = "production-mode"
	FlagPollInterval     = "poll-interval"
	FlagReadinessTimeout = "readiness-timeout"
	FlagMaxPollAttempts  = "max-poll-attempts"
)

// Config is the resolved process configuration.
type Config struct {
	Path             string        `yaml:"path"`
	Discovery        string        `yaml:"discovery"`
	DiscoveryPoint   string        `yaml:"discovery_point"`
	EnableQUIC       bool          `yaml:"enable_quic"`
	Listen           string        `yaml:"listen"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	LogToFile        bool          `yaml:"log_to_file"`
	ProductionMode   bool          `yaml:"production_mode"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	ReadinessTimeout time.Duration `yaml:"readiness_timeout"`
	MaxPollAttempts  int           `yaml:"max_poll_attempts"`
	ICEServers       []string      `yaml:"ice_servers"`

	// File is the YAML file the configuration was read from, if any.
	File string `yaml:"-"`
}

// fileConfig mirrors Config with pointers so unset keys can be told apart
// from zero values.
type fileConfig struct {
	Path             *string        `yaml:"path"`
	Discovery        *string        `yaml:"discovery"`
	DiscoveryPoint   *string        `yaml:"discovery_point"`
	EnableQUIC       *bool          `yaml:"enable_quic"`
	Listen           *string        `yaml:"listen"`
	LogLevel         *string        `yaml:"log_level"`
	LogFormat        *string        `yaml:"log_format"`
	LogToFile        *bool          `yaml:"log_to_file"`
	ProductionMode   *bool          `yaml:"production_mode"`
	PollInterval     *time.Duration `yaml:"poll_interval"`
	ReadinessTimeout *time.Duration `yaml:"readiness_timeout"`
	MaxPollAttempts  *int           `yaml:"max_poll_attempts"`
	ICEServers       []string       `yaml:"ice_servers"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Discovery:        discovery.Shuttle().String(),
		Listen:           DefaultListen,
		LogLevel:         "info",
		LogFormat:        "text",
		PollInterval:     account.DefaultPollInterval,
		ReadinessTimeout: 2 * time.Minute,
	}
}

// BindFlags registers the configuration flags on cmd with c's current values
// as defaults.
func (c *Config) BindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&c.Path, FlagPath, c.Path, "data root (default ~/"+DirName+")")
	f.StringVar(&c.Discovery, FlagDiscovery, c.Discovery, "discovery mode: full, shuttle, disable or fixed:<multiaddr>")
	f.StringVar(&c.DiscoveryPoint, FlagDiscoveryPoint, c.DiscoveryPoint, "multiaddr of a fixed discovery point; overrides --discovery")
	f.BoolVar(&c.EnableQUIC, FlagEnableQUIC, c.EnableQUIC, "enable the QUIC transport")
	f.StringVar(&c.Listen, FlagListen, c.Listen, "address of the HTTP request surface")
	f.StringVar(&c.File, FlagConfig, c.File, "optional YAML configuration file")
	f.StringVar(&c.LogLevel, FlagLogLevel, c.LogLevel, "log level (trace, debug, info, warn, error)")
	f.BoolVar(&c.LogToFile, FlagLogToFile, c.LogToFile, "also write logs to .user/debug.log")
	f.StringVar(&c.LogFormat, FlagLogFormat, c.LogFormat, "log format: text or json")
	f.BoolVar(&c.ProductionMode, FlagProductionMode, c.ProductionMode, "disable features not ready for release")
	f.DurationVar(&c.PollInterval, FlagPollInterval, c.PollInterval, "delay between identity readiness polls")
	f.DurationVar(&c.ReadinessTimeout, FlagReadinessTimeout, c.ReadinessTimeout, "give up waiting for the identity after this long (0 waits forever)")
	f.IntVar(&c.MaxPollAttempts, FlagMaxPollAttempts, c.MaxPollAttempts, "give up after this many readiness polls (0 is unbounded)")
}

// Load merges the file named by --config under the flags explicitly set on
// cmd. It must be called after flag parsing.
func (c *Config) Load(cmd *cobra.Command) error {
	if c.File == "" {
		return c.Validate()
	}

	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalid, c.File, err)
	}

	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	mergeString(&c.Path, fc.Path, changed(FlagPath))
	mergeString(&c.Discovery, fc.Discovery, changed(FlagDiscovery))
	mergeString(&c.DiscoveryPoint, fc.DiscoveryPoint, changed(FlagDiscoveryPoint))
	mergeBool(&c.EnableQUIC, fc.EnableQUIC, changed(FlagEnableQUIC))
	mergeString(&c.Listen, fc.Listen, changed(FlagListen))
	mergeString(&c.LogLevel, fc.LogLevel, changed(FlagLogLevel))
	mergeString(&c.LogFormat, fc.LogFormat, changed(FlagLogFormat))
	mergeBool(&c.LogToFile, fc.LogToFile, changed(FlagLogToFile))
	mergeBool(&c.ProductionMode, fc.ProductionMode, changed(FlagProductionMode))
	if fc.PollInterval != nil && !changed(FlagPollInterval) {
		c.PollInterval = *fc.PollInterval
	}
	if fc.ReadinessTimeout != nil && !changed(FlagReadinessTimeout) {
		c.ReadinessTimeout = *fc.ReadinessTimeout
	}
	if fc.MaxPollAttempts != nil && !changed(FlagMaxPollAttempts) {
		c.MaxPollAttempts = *fc.MaxPollAttempts
	}
	if fc.ICEServers != nil {
		c.ICEServers = append([]string(nil), fc.ICEServers...)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"file":     c.File,
	}).Debug("Configuration file merged")
	return c.Validate()
}

func mergeString(dst, src *string, flagSet bool) {
	if src != nil && !flagSet {
		*dst = *src
	}
}

func mergeBool(dst, src *bool, flagSet bool) {
	if src != nil && !flagSet {
		*dst = *src
	}
}

// Validate checks every value that can be checked without touching the
// network or the filesystem.
func (c Config) Validate() error {
	if _, err := c.Mode(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("%w: empty listen address", ErrInvalid)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.LogFormat)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalid)
	}
	if c.ReadinessTimeout < 0 {
		return fmt.Errorf("%w: negative readiness timeout", ErrInvalid)
	}
	if c.MaxPollAttempts < 0 {
		return fmt.Errorf("%w: negative max poll attempts", ErrInvalid)
	}
	return nil
}

// Mode returns the discovery mode. A discovery point selects a fixed point
// regardless of --discovery.
func (c Config) Mode() (discovery.Mode, error) {
	if point := strings.TrimSpace(c.DiscoveryPoint); point != "" {
		return discovery.FixedPoint(point), nil
	}
	return discovery.ParseMode(c.Discovery)
}

// Paths returns the directory layout, defaulting the root to ~/.accountd.
func (c Config) Paths() (Paths, error) {
	root := c.Path
	if root == "" {
		var err error
		if root, err = DefaultRoot(); err != nil {
			return Paths{}, err
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Paths{}, fmt.Errorf("%w: path %q: %v", ErrInvalid, root, err)
	}
	return NewPaths(abs), nil
}

// BackendConfig builds the backend configuration. Discovery is resolved once
// here, with lookup consulted for the shuttle override.
func (c Config) BackendConfig(paths Paths, lookup discovery.LookupFunc) (backend.Config, error) {
	mode, err := c.Mode()
	if err != nil {
		return backend.Config{}, err
	}
	disc, err := discovery.Resolve(mode, lookup)
	if err != nil {
		return backend.Config{}, err
	}

	cfg := backend.Config{
		StorageRoot:     paths.StorageRoot,
		Discovery:       disc,
		Bootstrap:       backend.BootstrapNone,
		EnableQUIC:      c.EnableQUIC,
		PortMapping:     true,
		AgentVersion:    "accountd/" + Version,
		ThumbnailSize:   backend.Size{Width: backend.DefaultThumbnailEdge, Height: backend.DefaultThumbnailEdge},
		AvatarSize:      backend.DefaultAvatarSize,
		DefaultAvatar:   avatar.Generate,
		ICEServers:      append([]string(nil), c.ICEServers...),
		SavePhrase:      !c.ProductionMode,
		EmitOnlineEvent: true,
	}
	if err := cfg.Validate(); err != nil {
		return backend.Config{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "BackendConfig",
		"storage_root": cfg.StorageRoot,
		"discovery":    disc.Kind.String(),
		"addresses":    disc.AddressStrings(),
		"enable_quic":  cfg.EnableQUIC,
	}).Info("Backend configuration resolved")
	return cfg, nil
}

// ManagerOptions returns the account manager settings that come from the
// configuration. Bundle, Store and the hooks are filled in by the caller.
func (c Config) ManagerOptions(paths Paths) account.Options {
	return account.Options{
		AccountRoot:      paths.AccountRoot,
		StorageRoot:      paths.StorageRoot,
		StoreFilename:    account.DefaultStoreFilename,
		PollInterval:     c.PollInterval,
		MaxPollAttempts:  c.MaxPollAttempts,
		ReadinessTimeout: c.ReadinessTimeout,
	}
}
