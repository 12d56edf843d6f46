package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHost(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		url      string
		expected string
	}{
		"http url":         {url: "http://192.168.1.10:2000", expected: "192.168.1.10:2000"},
		"https no port":    {url: "https://hub.local", expected: "hub.local"},
		"bare host passes": {url: "hub.local:2000", expected: "hub.local:2000"},
	}
	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := &HubConfig{URL: tc.url}
			assert.Equal(t, tc.expected, cfg.Host())
		})
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:2000", cfg.HubCfg.URL)
	assert.Equal(t, ".hub-token", cfg.HubCfg.TokenFile)
	assert.Equal(t, 5*time.Minute, cfg.HubCfg.RefreshInterval)
	assert.Equal(t, "migrations", cfg.DatabaseCfg.MigrationsFolder)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("HUB_URL", "https://hub.example:9000")
	t.Setenv("HUB_SSL", "true")
	t.Setenv("REFRESH_INTERVAL", "30s")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://hub.example:9000", cfg.HubCfg.URL)
	assert.True(t, cfg.HubCfg.Ssl)
	assert.Equal(t, 30*time.Second, cfg.HubCfg.RefreshInterval)
}
