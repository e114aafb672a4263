package config

import (
	"time"

	"github.com/dmitrijs2005/synckit/internal/common"
)

// Config holds the settings of one SDK client instance.
//
// Units: Timeout is a time.Duration applied to every network request.
type Config struct {
	BaseURL   string
	AppKey    string
	AppSecret string

	// StoreDir is where the per-app SQLite file lives; "" means the working directory.
	StoreDir string
	// Tag selects a separate store file for the same app key.
	Tag string

	Timeout                  time.Duration
	MaxPageSize              int
	MaxConcurrentConnections int
	RetryMax                 int

	DeltaSet       bool
	AutoPagination bool
	CachePruning   bool

	SchemaVersion int

	LogFile  string
	LogLevel string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.BaseURL = "https://baas.kinvey.com"
	c.Timeout = 60 * time.Second
	c.MaxPageSize = common.DefaultMaxPageSize
	c.MaxConcurrentConnections = common.DefaultMaxConcurrentConnections
	c.RetryMax = 3
	c.DeltaSet = false
	c.AutoPagination = false
	c.CachePruning = false
	c.LogLevel = "info"
}

// Validate reports settings the client cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.AppKey == "":
		return common.NewError(common.KindClientNotInitialized, "app key is required")
	case c.BaseURL == "":
		return common.NewError(common.KindClientNotInitialized, "base url is required")
	case c.MaxPageSize <= 0:
		return common.NewError(common.KindInvalidOperation, "max page size must be positive")
	case c.MaxConcurrentConnections <= 0:
		return common.NewError(common.KindInvalidOperation, "max concurrent connections must be positive")
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig(args []string) *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, args)
	parseFlags(cfg, args)
	return cfg
}
