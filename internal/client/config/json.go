package config

import (
	"os"

	"github.com/dmitrijs2005/synckit/internal/flagx"
	"github.com/dmitrijs2005/synckit/internal/timex"
	"github.com/goccy/go-json"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer fields
// distinguish "absent" from the zero value.
type JsonConfig struct {
	BaseURL                  *string         `json:"base_url"`
	AppKey                   *string         `json:"app_key"`
	AppSecret                *string         `json:"app_secret"`
	StoreDir                 *string         `json:"store_dir"`
	Tag                      *string         `json:"tag"`
	Timeout                  *timex.Duration `json:"timeout"`
	MaxPageSize              *int            `json:"max_page_size"`
	MaxConcurrentConnections *int            `json:"max_concurrent_connections"`
	RetryMax                 *int            `json:"retry_max"`
	DeltaSet                 *bool           `json:"delta_set"`
	AutoPagination           *bool           `json:"auto_pagination"`
	CachePruning             *bool           `json:"cache_pruning"`
	SchemaVersion            *int            `json:"schema_version"`
	LogFile                  *string         `json:"log_file"`
	LogLevel                 *string         `json:"log_level"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Panics on read or unmarshal errors.
func parseJson(cfg *Config, args []string) {
	jsonConfigFile := flagx.ConfigPath(args)
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	jc.apply(cfg)
}

func (jc *JsonConfig) apply(cfg *Config) {
	setIf(&cfg.BaseURL, jc.BaseURL)
	setIf(&cfg.AppKey, jc.AppKey)
	setIf(&cfg.AppSecret, jc.AppSecret)
	setIf(&cfg.StoreDir, jc.StoreDir)
	setIf(&cfg.Tag, jc.Tag)
	if jc.Timeout != nil {
		cfg.Timeout = jc.Timeout.Duration
	}
	setIf(&cfg.MaxPageSize, jc.MaxPageSize)
	setIf(&cfg.MaxConcurrentConnections, jc.MaxConcurrentConnections)
	setIf(&cfg.RetryMax, jc.RetryMax)
	setIf(&cfg.DeltaSet, jc.DeltaSet)
	setIf(&cfg.AutoPagination, jc.AutoPagination)
	setIf(&cfg.CachePruning, jc.CachePruning)
	setIf(&cfg.SchemaVersion, jc.SchemaVersion)
	setIf(&cfg.LogFile, jc.LogFile)
	setIf(&cfg.LogLevel, jc.LogLevel)
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
