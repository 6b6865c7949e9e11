package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "data/channels.db", cfg.DBPath)
	require.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 4, cfg.EnrichWorkers)
	require.Equal(t, 10000, cfg.MaxCSVRows)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("YTHARVEST_ADDR", ":9090")
	t.Setenv("YTHARVEST_ENRICH_WORKERS", "8")
	t.Setenv("YTHARVEST_HTTP_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Addr)
	require.Equal(t, 8, cfg.EnrichWorkers)
	require.Equal(t, 30*time.Second, cfg.HTTPTimeout)
}
