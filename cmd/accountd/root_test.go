package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/accountd/account"
	"github.com/opd-ai/accountd/api"
	"github.com/opd-ai/accountd/config"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "accountd "+config.Version, strings.TrimSpace(out.String()))
}

func TestRootCommandRejectsInvalidDiscovery(t *testing.T) {
	cmd := newRootCommand()
	var errOut bytes.Buffer
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--path", t.TempDir(), "--discovery", "carrier-pigeon"})

	assert.Error(t, cmd.Execute())
	assert.Contains(t, errOut.String(), "accountd:")
}

func TestSetupLoggingToFile(t *testing.T) {
	defer func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	}()

	paths := config.NewPaths(t.TempDir())
	require.NoError(t, paths.Ensure())

	cfg := config.Default()
	cfg.LogToFile = true
	cfg.LogLevel = "debug"
	cfg.LogFormat = "json"

	closer, err := setupLogging(cfg, paths)
	require.NoError(t, err)
	logrus.WithField("function", "test").Info("hello file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(paths.AccountRoot, "debug.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello file"`)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestDebugLogReopensAfterAccountReset(t *testing.T) {
	defer func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	}()

	paths := config.NewPaths(t.TempDir())
	require.NoError(t, paths.Ensure())

	cfg := config.Default()
	cfg.LogToFile = true
	cfg.LogFormat = "json"

	log, err := setupLogging(cfg, paths)
	require.NoError(t, err)
	defer log.Close()
	logrus.WithField("function", "test").Info("before reset")

	var observer account.Observer = resetObserver{Metrics: api.NewMetrics(), log: log}
	ro, ok := observer.(account.ResetObserver)
	require.True(t, ok, "observer must receive account resets")

	require.NoError(t, os.RemoveAll(paths.AccountRoot))
	require.NoError(t, os.MkdirAll(paths.StorageRoot, 0o700))
	ro.AccountReset()
	logrus.WithField("function", "test").Info("after reset")

	data, err := os.ReadFile(paths.DebugLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"after reset"`)
	assert.NotContains(t, string(data), `"msg":"before reset"`)
}

func TestDisabledDebugLogIgnoresReopen(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)

	paths := config.NewPaths(t.TempDir())
	require.NoError(t, paths.Ensure())

	log, err := setupLogging(config.Default(), paths)
	require.NoError(t, err)
	require.NoError(t, log.Reopen())
	require.NoError(t, log.Close())

	_, err = os.Stat(paths.DebugLog)
	assert.True(t, os.IsNotExist(err))
}
