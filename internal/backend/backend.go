// Package backend defines the interface and implementations for the storage
// cluster's management REST API client.
package backend

import (
	"context"
	"fmt"
)

// Params is a JSON request body for a management call.
type Params map[string]any

// Response is a decoded JSON response from the management API.
type Response map[string]any

// String returns the string value stored under key, or "" if the key is
// absent or not a string.
func (r Response) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Map returns the object value stored under key, or nil if the key is absent
// or not an object.
func (r Response) Map(key string) map[string]any {
	m, _ := r[key].(map[string]any)
	return m
}

// Client defines the narrow capability interface for reaching the storage
// cluster's management API. Implementations provide the underlying transport
// (HTTP, or an in-process emulation for development and tests). All methods
// must be safe for concurrent use.
type Client interface {
	// Get issues a GET against the given API path.
	Get(ctx context.Context, path string) (Response, error)

	// Put issues a PUT with the given JSON body.
	Put(ctx context.Context, path string, body Params) (Response, error)

	// Post issues a POST with the given JSON body.
	Post(ctx context.Context, path string, body Params) (Response, error)

	// Delete issues a DELETE with the given JSON body. The management API
	// accepts request bodies on DELETE (the LUN delete call addresses the
	// backing object that way); body may be nil.
	Delete(ctx context.Context, path string, body Params) (Response, error)

	// URL returns the base URL of the management API for reporting.
	URL() string
}

// Error represents a management API failure: either a transport error
// (StatusCode 0) or a non-2xx HTTP response.
type Error struct {
	// Method is the HTTP method of the failed call.
	Method string
	// Path is the API path of the failed call.
	Path string
	// StatusCode is the HTTP status code, or 0 for transport failures.
	StatusCode int
	// Message is the error detail from the response body or transport.
	Message string
}

// Error implements the error interface for Error.
func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("backend %s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("backend %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsConflict reports whether the failure is a precondition conflict, which
// the name-map store maps to a stale-write error.
func (e *Error) IsConflict() bool {
	return e.StatusCode == 409 || e.StatusCode == 412
}

// IsNotFound reports whether the failure is a missing-resource response.
func (e *Error) IsNotFound() bool {
	return e.StatusCode == 404
}
