package backend

import (
	"path/filepath"
	"testing"

	"github.com/multiformats/go-multiaddr"
	"github.com/opd-ai/accountd/discovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	root := t.TempDir()
	addr := multiaddr.StringCast("/ip4/127.0.0.1/tcp/4001")

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"minimal", Config{StorageRoot: root}, false},
		{"empty root", Config{}, true},
		{"relative root", Config{StorageRoot: "warp"}, true},
		{"negative thumbnail", Config{StorageRoot: root, ThumbnailSize: Size{Width: -1}}, true},
		{"shuttle without addresses", Config{StorageRoot: root, Discovery: discovery.Config{Kind: discovery.KindShuttle}}, true},
		{
			"rendezvous with address",
			Config{StorageRoot: root, Discovery: discovery.Config{Kind: discovery.KindRendezvous, Addresses: []multiaddr.Multiaddr{addr}}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigPaths(t *testing.T) {
	cfg := Config{StorageRoot: "/data/.user/warp"}
	assert.Equal(t, filepath.Join("/data/.user/warp", "node"), cfg.NodeDir())
	assert.Equal(t, filepath.Join("/data/.user/warp", "files"), cfg.FilesDir())
	assert.Equal(t, filepath.Join("/data/.user/warp", "files.db"), cfg.FilesIndex())
}

func TestParseBootstrapPolicy(t *testing.T) {
	p, err := ParseBootstrapPolicy("none")
	require.NoError(t, err)
	assert.Equal(t, BootstrapNone, p)

	p, err = ParseBootstrapPolicy("Default")
	require.NoError(t, err)
	assert.Equal(t, BootstrapDefault, p)
	assert.Equal(t, "default", p.String())

	_, err = ParseBootstrapPolicy("everything")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
