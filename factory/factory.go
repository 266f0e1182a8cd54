package factory

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/opd-ai/accountd/av"
	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/crypto"
	"github.com/opd-ai/accountd/file"
	"github.com/opd-ai/accountd/identity"
	"github.com/opd-ai/accountd/limits"
	"github.com/opd-ai/accountd/messaging"
	"github.com/opd-ai/accountd/node"
)

// Validation constants for configuration bounds checking.
const (
	// MinMessageHistory is the smallest accepted in-memory message history.
	MinMessageHistory = 1
	// MaxMessageHistory is the largest accepted in-memory message history.
	MaxMessageHistory = 1 << 20
	// MinFileSize is the smallest accepted file size limit in bytes.
	MinFileSize = 1
	// MaxFileSize is the largest accepted file size limit in bytes.
	MaxFileSize = limits.MaxFileSize
)

// Environment variables read by NewBackendFactory.
const (
	EnvMessageHistory = "ACCOUNTD_MESSAGE_HISTORY"
	EnvMaxFileSize    = "ACCOUNTD_MAX_FILE_SIZE"
	EnvLoopbackICE    = "ACCOUNTD_LOOPBACK_ICE"
)

// Settings tunes the handles a BackendFactory builds.
type Settings struct {
	MessageHistory int
	MaxFileSize    int64
	LoopbackICE    bool
}

// BackendFactory creates production backend handles. It is safe for
// concurrent use.
type BackendFactory struct {
	mu       sync.RWMutex
	settings Settings
}

var _ backend.Builder = (*BackendFactory)(nil)

// NewBackendFactory creates a factory with default settings and environment
// overrides applied.
func NewBackendFactory() *BackendFactory {
	settings := DefaultSettings()
	applyEnvironmentOverrides(&settings)
	logSettings(settings)
	return &BackendFactory{settings: settings}
}

// NewBackendFactoryWithSettings creates a factory that ignores the
// environment.
func NewBackendFactoryWithSettings(settings Settings) *BackendFactory {
	return &BackendFactory{settings: settings}
}

// DefaultSettings returns the settings used when nothing is overridden.
func DefaultSettings() Settings {
	return Settings{
		MessageHistory: messaging.DefaultHistorySize,
		MaxFileSize:    limits.MaxFileSize,
	}
}

// Settings returns a copy of the current settings.
func (f *BackendFactory) Settings() Settings {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.settings
}

// UpdateSettings replaces the settings used by later builds.
func (f *BackendFactory) UpdateSettings(settings Settings) {
	f.mu.Lock()
	f.settings = settings
	f.mu.Unlock()
}

// BuildCore builds identity, messaging and storage around a fresh node.
func (f *BackendFactory) BuildCore(ctx context.Context, store *crypto.SecretStore, cfg backend.Config) (backend.IdentityBackend, backend.MessagingBackend, backend.StorageBackend, error) {
	settings := f.Settings()

	n := node.New(node.ConfigFrom(cfg))
	id, err := identity.New(ctx, store, n, cfg)
	if err != nil {
		return nil, nil, nil, multierr.Append(fmt.Errorf("identity backend: %w", err), n.Close())
	}

	msg := messaging.New(n, id, messaging.WithHistorySize(settings.MessageHistory))

	files, err := file.New(cfg, file.WithMaxSize(settings.MaxFileSize))
	if err != nil {
		err = fmt.Errorf("storage backend: %w", err)
		return nil, nil, nil, multierr.Combine(err, msg.Close(), id.Close())
	}

	logrus.WithFields(logrus.Fields{
		"function":        "BuildCore",
		"storage_root":    cfg.StorageRoot,
		"discovery":       cfg.Discovery.Kind.String(),
		"message_history": settings.MessageHistory,
	}).Debug("Built core backends")
	return id, msg, files, nil
}

// BuildCalling builds the calling backend for identity.
func (f *BackendFactory) BuildCalling(ctx context.Context, id backend.IdentityBackend, cfg backend.Config) (backend.CallingBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts []av.Option
	if f.Settings().LoopbackICE {
		opts = append(opts, av.WithLoopbackCandidates())
	}
	calls, err := av.New(id, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("calling backend: %w", err)
	}
	return calls, nil
}

// applyEnvironmentOverrides updates settings from ACCOUNTD_* variables.
func applyEnvironmentOverrides(settings *Settings) {
	parseHistorySetting(settings)
	parseFileSizeSetting(settings)
	parseLoopbackSetting(settings)
}

// parseHistorySetting reads ACCOUNTD_MESSAGE_HISTORY within
// [MinMessageHistory, MaxMessageHistory].
func parseHistorySetting(settings *Settings) {
	raw := os.Getenv(EnvMessageHistory)
	if raw == "" {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseHistorySetting",
			"env_var":     EnvMessageHistory,
			"value":       raw,
			"error":       err.Error(),
			"using_value": settings.MessageHistory,
		}).Warn("Failed to parse ACCOUNTD_MESSAGE_HISTORY environment variable, using default")
		return
	}
	if n < MinMessageHistory || n > MaxMessageHistory {
		logrus.WithFields(logrus.Fields{
			"function":    "parseHistorySetting",
			"env_var":     EnvMessageHistory,
			"value":       n,
			"min":         MinMessageHistory,
			"max":         MaxMessageHistory,
			"using_value": settings.MessageHistory,
		}).Warn("ACCOUNTD_MESSAGE_HISTORY value out of bounds, using default")
		return
	}
	settings.MessageHistory = n
}

// parseFileSizeSetting reads ACCOUNTD_MAX_FILE_SIZE within
// [MinFileSize, MaxFileSize].
func parseFileSizeSetting(settings *Settings) {
	raw := os.Getenv(EnvMaxFileSize)
	if raw == "" {
		return
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseFileSizeSetting",
			"env_var":     EnvMaxFileSize,
			"value":       raw,
			"error":       err.Error(),
			"using_value": settings.MaxFileSize,
		}).Warn("Failed to parse ACCOUNTD_MAX_FILE_SIZE environment variable, using default")
		return
	}
	if n < MinFileSize || n > MaxFileSize {
		logrus.WithFields(logrus.Fields{
			"function":    "parseFileSizeSetting",
			"env_var":     EnvMaxFileSize,
			"value":       n,
			"min":         MinFileSize,
			"max":         MaxFileSize,
			"using_value": settings.MaxFileSize,
		}).Warn("ACCOUNTD_MAX_FILE_SIZE value out of bounds, using default")
		return
	}
	settings.MaxFileSize = n
}

func parseLoopbackSetting(settings *Settings) {
	raw := os.Getenv(EnvLoopbackICE)
	if raw == "" {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseLoopbackSetting",
			"env_var":     EnvLoopbackICE,
			"value":       raw,
			"error":       err.Error(),
			"using_value": settings.LoopbackICE,
		}).Warn("Failed to parse ACCOUNTD_LOOPBACK_ICE environment variable, using default")
		return
	}
	settings.LoopbackICE = v
}

func logSettings(settings Settings) {
	logrus.WithFields(logrus.Fields{
		"function":        "NewBackendFactory",
		"message_history": settings.MessageHistory,
		"max_file_size":   settings.MaxFileSize,
		"loopback_ice":    settings.LoopbackICE,
	}).Info("Created backend factory with settings")
}
