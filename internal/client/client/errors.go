package client

import (
	"net/http"
	"strings"

	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/goccy/go-json"
)

// Server error names with a dedicated meaning for the sync engine.
const (
	ErrNameParameterValueOutOfRange = "ParameterValueOutOfRange"
	ErrNameMissingConfiguration     = "MissingConfiguration"
	ErrNameFeatureUnavailable       = "FeatureUnavailable"
	ErrNameResultSetSizeExceeded    = "ResultSetSizeExceeded"
	ErrNameInvalidCredentials       = "InvalidCredentials"
	ErrNameInsufficientCredentials  = "InsufficientCredentials"
	ErrNameInvalidQuerySyntax       = "InvalidQuerySyntax"
)

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"description"`
	Debug       string `json:"debug"`
}

// MapError converts an error response into a *common.Error. The server's
// error name decides the kind; the status is the fallback.
func MapError(status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	desc := eb.Description
	if desc == "" {
		desc = http.StatusText(status)
	}
	if eb.Debug != "" {
		desc += " (" + eb.Debug + ")"
	}

	return &common.Error{
		Kind:        kindFor(status, eb.Error),
		Status:      status,
		Name:        eb.Error,
		Description: desc,
		Body:        body,
	}
}

func kindFor(status int, name string) common.Kind {
	switch {
	case name == ErrNameParameterValueOutOfRange:
		return common.KindCheckpointStale
	case name == ErrNameMissingConfiguration, name == ErrNameFeatureUnavailable:
		return common.KindMissingConfiguration
	case name == ErrNameResultSetSizeExceeded:
		return common.KindResultSetSizeExceeded
	case name == ErrNameInvalidCredentials:
		return common.KindUnauthorized
	case name == ErrNameInsufficientCredentials:
		return common.KindForbidden
	case name == ErrNameInvalidQuerySyntax:
		return common.KindInvalidQuery
	case strings.HasSuffix(name, "NotFound"):
		return common.KindNotFound
	case strings.HasPrefix(name, "BL"):
		return common.KindBusinessLogic
	case strings.HasPrefix(name, "KinveyInternalError"):
		return common.KindServer
	}

	switch {
	case status == http.StatusBadRequest:
		return common.KindInvalidOperation
	case status == http.StatusUnauthorized:
		return common.KindUnauthorized
	case status == http.StatusForbidden:
		return common.KindForbidden
	case status == http.StatusNotFound:
		return common.KindNotFound
	case status == http.StatusMethodNotAllowed:
		return common.KindMethodNotAllowed
	case status == http.StatusRequestTimeout:
		return common.KindRequestTimeout
	case status == http.StatusTooManyRequests:
		return common.KindRateLimited
	case status >= 500:
		return common.KindServer
	}
	return common.KindUnknown
}
