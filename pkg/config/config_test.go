package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.False(t, cfg.Server.Dev)
	assert.Equal(t, 0.75, cfg.Fetch.ShrinkFactor)
	assert.Equal(t, Duration(5*time.Minute), cfg.Fetch.PayloadTTL)
	assert.True(t, cfg.Fetch.Prefetch)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverridesDefaults(t *testing.T) {
	doc := `
[server]
dev = true
rate_limit = 0.5
rate_burst = 2

[auth]
client_id = "my-app"

[fetch]
half_size = 0.005
payload_ttl = "30s"
prefetch = false

[data]
dir = "/var/lib/osmedit"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Server.Dev)
	assert.Equal(t, 0.5, cfg.Server.RateLimit)
	assert.Equal(t, "my-app", cfg.Auth.ClientID)
	assert.Equal(t, 0.005, cfg.Fetch.HalfSize)
	assert.Equal(t, Duration(30*time.Second), cfg.Fetch.PayloadTTL)
	assert.False(t, cfg.Fetch.Prefetch)
	// Untouched settings keep their defaults.
	assert.Equal(t, 0.75, cfg.Fetch.ShrinkFactor)

	assert.Equal(t, filepath.Join("/var/lib/osmedit", "edits.db"), cfg.LedgerPath())
	assert.Equal(t, filepath.Join("/var/lib/osmedit", "token.json"), cfg.TokenPath())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"shrink factor over 1", "[fetch]\nshrink_factor = 1.5\n"},
		{"negative half size", "[fetch]\nhalf_size = -1.0\n"},
		{"zero rate limit", "[server]\nrate_limit = 0.0\n"},
		{"malformed toml", "[fetch\n"},
		{"unparseable duration", "[fetch]\npayload_ttl = \"soon\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.doc), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
