package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs returns the arguments that belong to the named flags, values
// included, in their original order. Everything else is dropped.
//
// A flag is recognised as "-name value" or "-name=value"; a following
// argument that starts with "-" is never taken as a value.
//
//	FilterArgs([]string{"-a", "host:1", "groups", "-l=debug"}, []string{"-a", "-l"})
//	// []string{"-a", "host:1", "-l=debug"}
func FilterArgs(args []string, flags []string) []string {
	return splitArgs(args, flags, true)
}

// StripArgs is the complement of FilterArgs: it returns args without the
// named flags and their values, so the remainder can go to another parser.
func StripArgs(args []string, flags []string) []string {
	return splitArgs(args, flags, false)
}

func splitArgs(args []string, flags []string, keepNamed bool) []string {
	named := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		named[f] = struct{}{}
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		name, _, inline := strings.Cut(arg, "=")
		if !strings.HasPrefix(arg, "-") {
			inline = false
			name = arg
		}
		_, isNamed := named[name]

		take := []string{arg}
		if isNamed && !inline && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			take = append(take, args[i+1])
			i++
		}

		if isNamed == keepNamed {
			out = append(out, take...)
		}
	}

	return out
}

// ConfigFileFlag extracts the config file path given with -c or -config.
//
// Only these flags are parsed; other arguments are ignored, so the caller
// can parse its own flags independently. An empty string means no config
// file was requested. When the flag is repeated the last value wins.
func ConfigFileFlag(args []string) string {
	var config string

	filtered := FilterArgs(args, []string{"-c", "-config"})

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(filtered)

	return config
}
