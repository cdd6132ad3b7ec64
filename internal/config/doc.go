// Package config loads runtime configuration for the directory CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected with -c or -config. Files ending in
//     .yaml or .yml are read as YAML, anything else as JSON.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string    address:port of the pipeline gRPC endpoint
//	-d string    directory domain
//	-db string   path of the local SQLite cache
//	-l string    log level (debug, info, warn, error)
//
// # File schema
//
// Intervals use timex.Duration, so values can be strings like "10s" or
// integer nanoseconds:
//
//	{
//	  "pipeline_addr": "127.0.0.1:50051",
//	  "domain": "example.com",
//	  "database_path": "directory.db",
//	  "storage_secret": "...",
//	  "entity_lifespan": "168h",
//	  "list_groups_timeout": "10s"
//	}
//
// The package does not read environment variables.
package config
