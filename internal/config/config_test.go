package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:50051", c.PipelineAddr)
	assert.Equal(t, "directory.db", c.DatabasePath)
	assert.Equal(t, 7*24*time.Hour, c.EntityLifespan)
	assert.Equal(t, 10*time.Second, c.ListGroupsTimeout)
	assert.Equal(t, 15*time.Second, c.SignInTimeout)
}

func TestLoadConfig_DefaultsWithoutArgs(t *testing.T) {
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	var want Config
	want.LoadDefaults()
	assert.Equal(t, want, *cfg)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{"pipeline_addr": "file:1", "domain": "file.example", "request_timeout": "3s"}`)

	cfg, err := LoadConfig([]string{"-c", path, "-a", "flag:2", "groups"})
	require.NoError(t, err)

	assert.Equal(t, "flag:2", cfg.PipelineAddr)
	assert.Equal(t, "file.example", cfg.Domain)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig([]string{"-config", "/does/not/exist.json"})
	assert.Error(t, err)
}
