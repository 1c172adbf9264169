// Package flagx lets several parsers share one argument list. Each parser
// filters out the flags it owns before handing them to a flag.FlagSet, and
// the command dispatcher reads what is left as positional arguments.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// Spec maps flag names (with their dashes, e.g. "-c") to whether the flag
// takes a separate value. Boolean flags map to false.
type Spec map[string]bool

// Merge returns a Spec holding every entry of the given specs.
func Merge(specs ...Spec) Spec {
	out := Spec{}
	for _, s := range specs {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

func flagName(arg string) string {
	name, _, _ := strings.Cut(arg, "=")
	return name
}

// FilterArgs keeps the flags named in spec together with their values.
//
// Supported forms:
//
//	-c conf.json
//	-c=conf.json
//	--config=conf.json
//
// A value flag followed by a token that starts with "-" is kept without a
// value. Everything after "--" is ignored.
func FilterArgs(args []string, spec Spec) []string {
	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		takesValue, ok := spec[flagName(arg)]
		if !ok {
			continue
		}
		filtered = append(filtered, arg)
		if strings.Contains(arg, "=") || !takesValue {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}
	return filtered
}

// Positional returns the arguments that are neither flags known to spec nor
// their values. Unknown flags are dropped. Everything after "--" is
// positional.
func Positional(args []string, spec Spec) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i+1:]...)
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			out = append(out, arg)
			continue
		}
		if strings.Contains(arg, "=") {
			continue
		}
		if spec[arg] && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
		}
	}
	return out
}

// ConfigSpec names the flags that select a JSON config file.
var ConfigSpec = Spec{"-c": true, "-config": true, "--config": true}

// ConfigPath returns the JSON config file selected with -c or -config, or
// "" when neither is present. When both appear the last one wins.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, ConfigSpec))

	return path
}
