// Package errors defines the API error values returned by the chunkstore
// HTTP surface.
package errors

import "fmt"

// APIError represents an error response with a machine-readable code, a
// human-readable message and the HTTP status to return.
type APIError struct {
	// Code is the error code (e.g., "NoSuchObject", "UploadInProgress").
	Code string
	// Message is the human-readable body sent to the client.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 404, 409).
	HTTPStatus int
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("APIError %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Pre-defined errors for common conditions.
var (
	// ErrNoSuchObject is returned when a read, stat or delete names an object
	// that does not exist.
	ErrNoSuchObject = &APIError{
		Code:       "NoSuchObject",
		Message:    "Object not found",
		HTTPStatus: 404,
	}

	// ErrUploadInProgress is returned when a write targets a name whose
	// previous upload has not finished.
	ErrUploadInProgress = &APIError{
		Code:       "UploadInProgress",
		Message:    "Another upload in progress for this path",
		HTTPStatus: 409,
	}

	// ErrObjectRemoved is returned to a writer whose object was deleted
	// before the upload completed.
	ErrObjectRemoved = &APIError{
		Code:       "ObjectRemoved",
		Message:    "Object was deleted during upload",
		HTTPStatus: 409,
	}

	// ErrIncompleteBody is returned when the request body could not be read
	// to the end.
	ErrIncompleteBody = &APIError{
		Code:       "IncompleteBody",
		Message:    "Failed to read body",
		HTTPStatus: 400,
	}

	// ErrInvalidObjectName is returned for an empty object name.
	ErrInvalidObjectName = &APIError{
		Code:       "InvalidObjectName",
		Message:    "Invalid object name",
		HTTPStatus: 400,
	}

	// ErrNameTooLong is returned when the object name exceeds the maximum length.
	ErrNameTooLong = &APIError{
		Code:       "NameTooLong",
		Message:    "Object name is too long",
		HTTPStatus: 400,
	}

	// ErrReservedName is returned for names that a server route answers
	// instead of the object store.
	ErrReservedName = &APIError{
		Code:       "ReservedName",
		Message:    "Object name is reserved",
		HTTPStatus: 400,
	}

	// ErrMethodNotAllowed is returned when the HTTP method is not supported.
	ErrMethodNotAllowed = &APIError{
		Code:       "MethodNotAllowed",
		Message:    "The specified method is not allowed against this resource",
		HTTPStatus: 405,
	}

	// ErrInternalError is returned for unexpected internal failures.
	ErrInternalError = &APIError{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: 500,
	}
)
