// Package cli is the command-line front end of the directory engine.
//
// Every command signs in first (with --token or an interactive prompt) and
// runs against one Engine backed by the local SQLite cache and the gRPC
// pipeline. The shell command starts a small REPL over the same commands.
package cli
