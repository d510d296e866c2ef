// Package connection holds the types shared by clients of remote services:
// the ingestion record model and the error returned for non-2xx answers.
package connection

import (
	"fmt"
	"net/http"
)

// TypeNuke names the hosted ingestion endpoint in logs.
const TypeNuke = "nuke"

// StatusError reports a non-success HTTP response from a remote service.
// Body is the start of the response body, trimmed.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// CredentialRejected reports whether the service refused the API key.
func (e *StatusError) CredentialRejected() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
