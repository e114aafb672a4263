package models

// Checkpoint records the last successful unpaginated sync of one query shape.
// LastRequest is the server's request-start timestamp, never the device clock.
type Checkpoint struct {
	Collection  string
	Query       string
	Fields      string
	LastRequest string
}

// DeltaSet is the server's answer to a "changes since" request.
type DeltaSet struct {
	Changed      []Entity
	Deleted      []Entity
	RequestStart string
}
