// Package common contains shared constants and the error taxonomy used across
// the sync engine.
package common

const (
	// AuthorizationHeaderName carries the credential produced by auth.Provider.
	AuthorizationHeaderName = "Authorization"

	// RequestStartHeaderName is the server's authoritative request-start time.
	// Delta-set checkpoints are taken from it, never from the device clock.
	RequestStartHeaderName = "X-Request-Start"

	// TempIDPrefix marks identifiers assigned on the device before the create
	// request has been acknowledged by the server.
	TempIDPrefix = "tmp_"

	// DefaultMaxPageSize bounds a single page of an auto-paginated fetch.
	DefaultMaxPageSize = 10_000

	// DefaultMaxConcurrentConnections bounds parallel page and push requests.
	DefaultMaxConcurrentConnections = 4
)

// Wire field names of the entity envelope.
const (
	FieldID       = "_id"
	FieldACL      = "_acl"
	FieldMetadata = "_kmd"
	FieldGeoLoc   = "_geoloc"
)
