package config

import (
	"flag"

	"github.com/dmitrijs2005/synckit/internal/flagx"
)

var knownFlags = append(
	flagx.Names("-u", "-k", "-s", "-d", "-g",
		"-timeout", "--timeout", "-page-size", "--page-size", "-conns", "--conns",
		"-log-file", "--log-file", "-log-level", "--log-level"),
	flagx.Spec{Name: "-delta", Bool: true}, flagx.Spec{Name: "--delta", Bool: true},
	flagx.Spec{Name: "-autopaginate", Bool: true}, flagx.Spec{Name: "--autopaginate", Bool: true},
	flagx.Spec{Name: "-prune", Bool: true}, flagx.Spec{Name: "--prune", Bool: true},
)

// OwnedFlags lists every flag LoadConfig consumes, including the config file
// flags. A CLI strips them before parsing its own flags.
func OwnedFlags() []flagx.Spec {
	owned := append([]flagx.Spec(nil), knownFlags...)
	return append(owned, flagx.Names("-c", "-config", "--config")...)
}

// parseFlags populates Config fields from command-line flags. Only the flags
// listed in the package documentation are considered; everything else in args
// is left for the CLI framework. Panics on malformed values.
func parseFlags(cfg *Config, args []string) {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.BaseURL, "u", cfg.BaseURL, "backend base URL")
	fs.StringVar(&cfg.AppKey, "k", cfg.AppKey, "application key")
	fs.StringVar(&cfg.AppSecret, "s", cfg.AppSecret, "application secret")
	fs.StringVar(&cfg.StoreDir, "d", cfg.StoreDir, "directory of the local store")
	fs.StringVar(&cfg.Tag, "g", cfg.Tag, "store tag")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	fs.IntVar(&cfg.MaxPageSize, "page-size", cfg.MaxPageSize, "maximum page size")
	fs.IntVar(&cfg.MaxConcurrentConnections, "conns", cfg.MaxConcurrentConnections, "maximum concurrent page requests")
	fs.BoolVar(&cfg.DeltaSet, "delta", cfg.DeltaSet, "enable delta-set fetches")
	fs.BoolVar(&cfg.AutoPagination, "autopaginate", cfg.AutoPagination, "enable auto-pagination")
	fs.BoolVar(&cfg.CachePruning, "prune", cfg.CachePruning, "prune cache after full fetches")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "JSON log file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
