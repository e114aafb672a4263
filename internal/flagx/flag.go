// Package flagx extracts the flags a component owns from a shared argument
// list, so configuration can be parsed without tripping over flags that belong
// to the CLI framework or to other components.
package flagx

import (
	"flag"
	"strings"
)

// Spec names one flag. Bool flags never consume the following argument.
type Spec struct {
	Name string
	Bool bool
}

// Names builds value-taking specs from flag names such as "-u" or "--config".
func Names(names ...string) []Spec {
	specs := make([]Spec, 0, len(names))
	for _, n := range names {
		specs = append(specs, Spec{Name: n})
	}
	return specs
}

// FilterArgs returns only the allowed flags (and their values) from args.
//
// Supported formats:
//  1. Flag and value as separate arguments:  -c conf.json
//  2. Flag and value combined with '=':      --config=conf.json
//  3. Bare bool flags:                       -delta
func FilterArgs(args []string, allowed []Spec) []string {
	own, _ := split(args, allowed)
	return own
}

// StripArgs is the complement of FilterArgs: it returns args without the
// allowed flags and their values.
func StripArgs(args []string, allowed []Spec) []string {
	_, rest := split(args, allowed)
	return rest
}

func split(args []string, allowed []Spec) (own, rest []string) {
	known := make(map[string]Spec, len(allowed))
	for _, s := range allowed {
		known[s.Name] = s
	}

	own = make([]string, 0, len(args))
	rest = make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := known[name]; ok {
				own = append(own, arg)
			} else {
				rest = append(rest, arg)
			}
			continue
		}

		spec, ok := known[arg]
		if !ok {
			rest = append(rest, arg)
			continue
		}
		own = append(own, arg)
		if spec.Bool {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			own = append(own, args[i+1])
			i++
		}
	}

	return own, rest
}

// ConfigPath returns the JSON config file named by -c or -config in args,
// or "" when neither is present. The last occurrence wins.
func ConfigPath(args []string) string {
	var path string

	filtered := FilterArgs(args, Names("-c", "-config", "--config"))

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = fs.Parse(filtered)

	return path
}
