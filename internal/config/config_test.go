package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ".gao-dev/documents.db", cfg.Database.Path)
	assert.Equal(t, "migration/hybrid-architecture", cfg.Migration.Branch)
	assert.True(t, cfg.Migration.AutoMerge)
	assert.Equal(t, 256, cfg.Cache.MaxSize)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 90, cfg.Retention.UsageDays)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".gao-dev"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, File), []byte(`
database:
  path: state/db.sqlite
cache:
  max_size: 32
  ttl: 5m
paths:
  prd_location: documents/{{feature_name}}/prd.md
`), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "state/db.sqlite", cfg.Database.Path)
	assert.Equal(t, 32, cfg.Cache.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)

	templates := cfg.Templates()
	assert.Equal(t, "documents/{{feature_name}}/prd.md", templates.PRDLocation)
	// Unconfigured templates keep their defaults.
	assert.Equal(t, "docs/CODING_STANDARDS.md", templates.CodingStandards)
}

func TestEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".gao-dev"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, File),
		[]byte("logging:\n  level: warn\n"), 0o644))

	t.Setenv("GAO_LOGGING_LEVEL", "debug")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".gao-dev"), 0o755))

	cases := []struct {
		name string
		yaml string
	}{
		{"bad cache size", "cache:\n  max_size: 0\n"},
		{"bad log level", "logging:\n  level: verbose\n"},
		{"bad retention", "retention:\n  usage_days: 9999\n"},
		{"unknown path key", "paths:\n  nonsense_location: x\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(filepath.Join(root, File), []byte(tc.yaml), 0o644))
			_, err := Load(root)
			assert.Error(t, err)
		})
	}
}

func TestPathResolution(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/proj", ".gao-dev/documents.db"), cfg.DatabasePath("/proj"))
	assert.Equal(t, "/proj", cfg.DocsRoot("/proj"))

	cfg.Database.Path = "/abs/db.sqlite"
	assert.Equal(t, "/abs/db.sqlite", cfg.DatabasePath("/proj"))
}
