// Package config loads runtime configuration for the sync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-u string          backend base URL
//	-k string          application key
//	-s string          application secret
//	-d string          directory of the local store
//	-g string          store tag
//	--timeout duration per-request timeout
//	--page-size int    maximum page size of auto-paginated fetches
//	--conns int        maximum concurrent page requests
//	--delta            enable delta-set fetches
//	--autopaginate     enable auto-pagination
//	--prune            enable cache pruning after full fetches
//	--log-file string  JSON log file (rotated)
//	--log-level string debug, info, warn or error
//
// # JSON schema
//
// The JSON loader uses timex.Duration for the timeout, so values can be either
// strings like "30s" or integer nanoseconds:
//
//	{
//	  "base_url": "https://baas.kinvey.com",
//	  "app_key": "kid_xyz",
//	  "timeout": "30s",
//	  "delta_set": true
//	}
//
// Fields absent from the JSON keep their previous value.
package config
