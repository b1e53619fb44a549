package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfigValid verifies that the defaults pass validation
func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Estimation.Fibers.MaxComps)
	assert.Equal(t, 0.99, cfg.Estimation.Fibers.Lambda)
	assert.Equal(t, 300, cfg.Cluster.MaxIters)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Cluster, cfg.Cluster)
}

// TestSaveLoadRoundTrip verifies that a saved configuration loads back unchanged
func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "qitkit.yaml")

	cfg := DefaultConfig()
	cfg.Cluster.Method = "watson"
	cfg.Cluster.K = 4
	cfg.Estimation.Noddi = "WeightedScatterSplineC2"
	cfg.Kernel.Interp = "gaussian"
	cfg.Kernel.HVal = 0.5
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

// TestLoadPartialFile verifies that unspecified settings keep their defaults
func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cluster:\n  k: 5\nkernel:\n  interp: nearest\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Cluster.K)
	assert.Equal(t, "nearest", cfg.Kernel.Interp)
	assert.Equal(t, 300, cfg.Cluster.MaxIters)
	assert.Equal(t, "match", cfg.Estimation.Fibers.Estimation)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cluster: [1, 2"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"k", func(c *Config) { c.Cluster.K = 0 }},
		{"method", func(c *Config) { c.Cluster.Method = "dbscan" }},
		{"covariance", func(c *Config) { c.Cluster.Covariance = "banded" }},
		{"mix", func(c *Config) { c.Cluster.Mix = 2 }},
		{"selection", func(c *Config) { c.Estimation.Fibers.Selection = "best" }},
		{"interp", func(c *Config) { c.Kernel.Interp = "cubic" }},
		{"hpos", func(c *Config) { c.Kernel.HPos = 0 }},
		{"cores", func(c *Config) { c.Processing.NumCores = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
