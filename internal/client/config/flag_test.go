package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "Test1 OK",
			args: []string{"find", "books", "-u", "http://localhost:9000", "-k", "kid_1", "--timeout", "5s", "--delta", "--page-size=500"},
			expected: &Config{
				BaseURL: "http://localhost:9000", AppKey: "kid_1", Timeout: 5 * time.Second,
				DeltaSet: true, MaxPageSize: 500,
			},
		},
		{
			name:     "Test2 unknown flags ignored",
			args:     []string{"--limit", "10", "-g", "work"},
			expected: &Config{Tag: "work"},
		},
		{
			name:        "Test3 incorrect timeout",
			args:        []string{"--timeout", "abc"},
			expectPanic: true,
			expected:    &Config{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config, tt.args) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config, tt.args) })
			}
		})
	}
}
