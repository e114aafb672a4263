package common

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error. Callers branch on Kind, not on message text.
type Kind int

const (
	KindUnknown Kind = iota

	// configuration
	KindClientNotInitialized
	KindInvalidStoreType
	KindInvalidOperation
	KindNotSupportedLocally
	KindMigrationFailed

	// validation
	KindInvalidQuery

	// network / server
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindMethodNotAllowed
	KindResultSetSizeExceeded
	KindRateLimited
	KindBusinessLogic
	KindServer
	KindRequestTimeout
	KindCancelled
	KindNetwork

	// sync state
	KindPushPending
	KindCheckpointStale
	KindMissingConfiguration
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindClientNotInitialized:  "client not initialized",
	KindInvalidStoreType:      "invalid store type",
	KindInvalidOperation:      "invalid operation",
	KindNotSupportedLocally:   "not supported locally",
	KindMigrationFailed:       "migration failed",
	KindInvalidQuery:          "invalid query",
	KindUnauthorized:          "unauthorized",
	KindForbidden:             "forbidden",
	KindNotFound:              "not found",
	KindMethodNotAllowed:      "method not allowed",
	KindResultSetSizeExceeded: "result set size exceeded",
	KindRateLimited:           "rate limited",
	KindBusinessLogic:         "business logic error",
	KindServer:                "server error",
	KindRequestTimeout:        "request timeout",
	KindCancelled:             "cancelled",
	KindNetwork:               "network error",
	KindPushPending:           "push pending",
	KindCheckpointStale:       "checkpoint stale",
	KindMissingConfiguration:  "missing configuration",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the typed error surfaced through every completion path.
// Network errors carry the HTTP status, the server error name and the raw body.
type Error struct {
	Kind        Kind
	Status      int
	Name        string
	Description string
	Body        []byte
	Err         error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Name != "" {
		msg += " (" + e.Name + ")"
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, description string) *Error {
	return &Error{Kind: kind, Description: description}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, description string, err error) *Error {
	return &Error{Kind: kind, Description: description, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain. Context errors
// map to KindCancelled and KindRequestTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindRequestTimeout
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromContext converts a context error into the matching typed error.
// Other errors are returned unchanged.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(KindCancelled, "request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindRequestTimeout, "request timed out", err)
	}
	return err
}

var (
	ErrClientNotInitialized = NewError(KindClientNotInitialized, "client not initialized")
	ErrInvalidStoreType     = NewError(KindInvalidStoreType, "operation not available for this store type")
	ErrIDRequired           = NewError(KindInvalidOperation, "id required")
	ErrNotSupportedLocally  = NewError(KindNotSupportedLocally, "operation not supported locally")
	ErrPushPending          = NewError(KindPushPending, "push pending items first")
	ErrCheckpointStale      = NewError(KindCheckpointStale, "checkpoint too old")
	ErrMissingConfiguration = NewError(KindMissingConfiguration, "delta set not configured on server")
	ErrCancelled            = NewError(KindCancelled, "request cancelled")

	// ErrorNotFound is returned by repositories when a row does not exist.
	ErrorNotFound = errors.New("not found")
)
