package models

import (
	"net/http"
	"time"
)

// PendingOperation is a local mutation waiting to be replayed against the
// backend. The request is stored exactly as it would have been sent.
type PendingOperation struct {
	RequestID  string
	CreatedAt  time.Time
	Collection string
	// EntityID is empty for query-based (bulk) deletes.
	EntityID string
	Method   string
	URL      string
	Headers  map[string]string
	Body     []byte
}

// IsCreate reports whether the operation creates an entity the server has
// never seen.
func (p PendingOperation) IsCreate() bool {
	return p.Method == http.MethodPost
}

// IsDelete reports whether the operation removes data.
func (p PendingOperation) IsDelete() bool {
	return p.Method == http.MethodDelete
}
