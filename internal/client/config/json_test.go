package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"base_url":        "http://www.example:9000",
		"app_key":         "kid_json",
		"timeout":         "10s",
		"delta_set":       true,
		"max_page_size":   2500,
		"auto_pagination": true,
	})

	t.Run("loads from flags", func(t *testing.T) {
		cfg := &Config{LogLevel: "warn"}
		parseJson(cfg, []string{"-config", pathFlag})

		assert.Equal(t, "http://www.example:9000", cfg.BaseURL)
		assert.Equal(t, "kid_json", cfg.AppKey)
		assert.Equal(t, 10*time.Second, cfg.Timeout)
		assert.True(t, cfg.DeltaSet)
		assert.True(t, cfg.AutoPagination)
		assert.Equal(t, 2500, cfg.MaxPageSize)
		assert.Equal(t, "warn", cfg.LogLevel, "absent fields keep their value")
	})

	t.Run("no config flag → no changes", func(t *testing.T) {
		cfg := &Config{BaseURL: "defaults:1234", Timeout: 42 * time.Second}
		parseJson(cfg, []string{"pull", "books"})

		assert.Equal(t, "defaults:1234", cfg.BaseURL)
		assert.Equal(t, 42*time.Second, cfg.Timeout)
	})

	t.Run("flags override json", func(t *testing.T) {
		cfg := LoadConfig([]string{"-c", pathFlag, "-k", "kid_flag"})

		assert.Equal(t, "kid_flag", cfg.AppKey)
		assert.Equal(t, "http://www.example:9000", cfg.BaseURL)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg, []string{"-config", bad}) })
	})
}
