package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/gophdirectory/internal/flagx"
)

// Flags lists every flag LoadConfig consumes, config file flags included.
// The command tree receives the arguments with these stripped.
var Flags = []string{"-a", "-d", "-db", "-l", "-c", "-config"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the pipeline endpoint
//	-d string   directory domain
//	-db string  local cache database path
//	-l string   log level
//
// Only the flags listed above are looked at (see flagx.FilterArgs), so the
// command tree can parse the rest.
func parseFlags(cfg *Config, args []string) error {
	filtered := flagx.FilterArgs(args, []string{"-a", "-d", "-db", "-l"})

	fs := flag.NewFlagSet("directory", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.PipelineAddr, "a", cfg.PipelineAddr, "address and port of the pipeline endpoint")
	fs.StringVar(&cfg.Domain, "d", cfg.Domain, "directory domain")
	fs.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "local cache database path")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	return fs.Parse(filtered)
}
