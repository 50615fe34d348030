package platform

import (
	"fmt"
	"strings"
)

// APIError is a non-2xx response from the management API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("management API HTTP %d: %s", e.Status, e.Body)
}

// AlreadyExists reports the recoverable sub-case where the database
// resource is already present; callers resolve it by fetching the existing
// descriptor.
func (e *APIError) AlreadyExists() bool {
	return e.Status == 409 || strings.Contains(e.Body, "already exists")
}

// TokenError is a failed credential mint for a database resource.
type TokenError struct {
	Database string
	Err      error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("minting token for %s: %v", e.Database, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }
