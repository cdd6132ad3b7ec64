package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/flagx"
	"github.com/dmitrijs2005/gophdirectory/internal/timex"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape of the configuration. Durations use
// timex.Duration so files can write "10s".
type fileConfig struct {
	PipelineAddr  string `json:"pipeline_addr" yaml:"pipeline_addr"`
	Domain        string `json:"domain" yaml:"domain"`
	DatabasePath  string `json:"database_path" yaml:"database_path"`
	StorageSecret string `json:"storage_secret" yaml:"storage_secret"`
	LogLevel      string `json:"log_level" yaml:"log_level"`

	EntityLifespan     timex.Duration `json:"entity_lifespan" yaml:"entity_lifespan"`
	InspectInterval    timex.Duration `json:"inspect_interval" yaml:"inspect_interval"`
	ListGroupsTimeout  timex.Duration `json:"list_groups_timeout" yaml:"list_groups_timeout"`
	SignInTimeout      timex.Duration `json:"sign_in_timeout" yaml:"sign_in_timeout"`
	RecentGroupsWindow timex.Duration `json:"recent_groups_window" yaml:"recent_groups_window"`
	RequestTimeout     timex.Duration `json:"request_timeout" yaml:"request_timeout"`
}

// parseFile overlays cfg with the values of the config file named by -c or
// -config in args. Fields the file leaves out keep their current value.
func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func (fc *fileConfig) apply(cfg *Config) {
	setString(&cfg.PipelineAddr, fc.PipelineAddr)
	setString(&cfg.Domain, fc.Domain)
	setString(&cfg.DatabasePath, fc.DatabasePath)
	setString(&cfg.StorageSecret, fc.StorageSecret)
	setString(&cfg.LogLevel, fc.LogLevel)

	setDuration(&cfg.EntityLifespan, fc.EntityLifespan)
	setDuration(&cfg.InspectInterval, fc.InspectInterval)
	setDuration(&cfg.ListGroupsTimeout, fc.ListGroupsTimeout)
	setDuration(&cfg.SignInTimeout, fc.SignInTimeout)
	setDuration(&cfg.RecentGroupsWindow, fc.RecentGroupsWindow)
	setDuration(&cfg.RequestTimeout, fc.RequestTimeout)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
