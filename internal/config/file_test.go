package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func Test_parseFile_SourcesAndPrecedence(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		path := writeTemp(t, "cfg.json", `{
			"pipeline_addr": "www.example:9000",
			"domain": "example.com",
			"entity_lifespan": "48h",
			"list_groups_timeout": 5000000000
		}`)

		cfg := &Config{}
		cfg.LoadDefaults()
		require.NoError(t, parseFile(cfg, []string{"-config", path}))

		assert.Equal(t, "www.example:9000", cfg.PipelineAddr)
		assert.Equal(t, "example.com", cfg.Domain)
		assert.Equal(t, 48*time.Hour, cfg.EntityLifespan)
		assert.Equal(t, 5*time.Second, cfg.ListGroupsTimeout)
		assert.Equal(t, "directory.db", cfg.DatabasePath, "absent fields keep their value")
	})

	t.Run("yaml", func(t *testing.T) {
		path := writeTemp(t, "cfg.yaml", "domain: example.org\nstorage_secret: s3cret\nsign_in_timeout: 20s\n")

		cfg := &Config{}
		require.NoError(t, parseFile(cfg, []string{"-c", path}))

		assert.Equal(t, "example.org", cfg.Domain)
		assert.Equal(t, "s3cret", cfg.StorageSecret)
		assert.Equal(t, 20*time.Second, cfg.SignInTimeout)
	})

	t.Run("no config flag, no changes", func(t *testing.T) {
		cfg := &Config{PipelineAddr: "defaults:1234", RequestTimeout: 42 * time.Second}
		require.NoError(t, parseFile(cfg, []string{"groups"}))

		assert.Equal(t, "defaults:1234", cfg.PipelineAddr)
		assert.Equal(t, 42*time.Second, cfg.RequestTimeout)
	})

	t.Run("invalid json", func(t *testing.T) {
		path := writeTemp(t, "bad.json", `{ this is not valid json`)
		assert.Error(t, parseFile(&Config{}, []string{"-config", path}))
	})

	t.Run("invalid duration", func(t *testing.T) {
		path := writeTemp(t, "bad.yml", "request_timeout: soon\n")
		assert.Error(t, parseFile(&Config{}, []string{"-c", path}))
	})
}
