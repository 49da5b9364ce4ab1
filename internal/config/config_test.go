package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbvault/nzbvault/internal/domain"
)

func TestToProviders_AssignsPriorityByBackupFlag(t *testing.T) {
	cfg := Default()
	cfg.Providers = []ProviderConfig{
		{ID: "p1", Host: "news.example.com", Port: 563, MaxConnections: 10, TLS: true},
		{ID: "p2", Host: "backup.example.com", Port: 119, MaxConnections: 5, IsBackup: true},
	}

	out := cfg.ToProviders()
	require.Len(t, out, 2)

	assert.Equal(t, domain.PriorityPrimary, out[0].Priority)
	assert.Equal(t, "news.example.com", out[0].Host)
	assert.True(t, out[0].TLS)

	assert.Equal(t, domain.PriorityBackup, out[1].Priority)
	assert.Equal(t, "backup.example.com", out[1].Host)
}

func TestEnvOverridePort(t *testing.T) {
	cfg := Default()
	cfg.WebDAV.Addr = ":8780"

	t.Setenv("PORT", "9999")
	cfg.EnvOverridePort()
	assert.Equal(t, ":9999", cfg.WebDAV.Addr)
}

func TestEnvOverridePort_NoEnvLeavesAddrUnchanged(t *testing.T) {
	os.Unsetenv("PORT")
	cfg := Default()
	cfg.WebDAV.Addr = ":8780"
	cfg.EnvOverridePort()
	assert.Equal(t, ":8780", cfg.WebDAV.Addr)
}

func TestValidate_RequiresAtLeastOneProvider(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	assert.ErrorContains(t, err, "at least one provider")
}

func TestValidate_RejectsProviderWithoutHost(t *testing.T) {
	cfg := Default()
	cfg.Providers = []ProviderConfig{{MaxConnections: 1}}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "host is required")
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	cfg := Default()
	cfg.Providers = []ProviderConfig{{Host: "news.example.com", MaxConnections: 10}}
	assert.NoError(t, cfg.Validate())
}

func TestMarshal_RendersYAMLKeys(t *testing.T) {
	cfg := Default()
	cfg.Providers = []ProviderConfig{{Host: "news.example.com", MaxConnections: 10}}

	out, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), "max_conns")
}
