package config

import (
	"time"
)

// Config holds runtime settings for the directory CLI.
//
// The durations mirror directory.Config; zero values there fall back to the
// engine defaults, so only PipelineAddr and Domain are strictly required.
type Config struct {
	PipelineAddr  string
	Domain        string
	DatabasePath  string
	StorageSecret string
	LogLevel      string

	EntityLifespan     time.Duration
	InspectInterval    time.Duration
	ListGroupsTimeout  time.Duration
	SignInTimeout      time.Duration
	RecentGroupsWindow time.Duration
	RequestTimeout     time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.PipelineAddr = "127.0.0.1:50051"
	c.DatabasePath = "directory.db"
	c.LogLevel = "info"
	c.EntityLifespan = 7 * 24 * time.Hour
	c.InspectInterval = 10 * time.Second
	c.ListGroupsTimeout = 10 * time.Second
	c.SignInTimeout = 15 * time.Second
	c.RecentGroupsWindow = 30 * 24 * time.Hour
	c.RequestTimeout = 12 * time.Second
}

// LoadConfig builds a Config from defaults, then the config file named in
// args (if any), then the flags in args. Later sources take precedence.
// args are the program arguments without the program name; flags this
// package does not know are ignored.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}
