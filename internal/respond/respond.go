// Package respond renders chunkstore HTTP responses.
package respond

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	apierr "github.com/bleepstore/chunkstore/internal/errors"
)

// RequestIDHeader carries the per-request identifier set by the server
// middleware.
const RequestIDHeader = "X-Request-Id"

// ErrorCodeHeader carries the machine-readable error code on error responses.
const ErrorCodeHeader = "X-Error-Code"

// ErrorResponse is the JSON structure for error responses.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Resource  string `json:"resource,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RenderError writes an error response. Clients that accept JSON get an
// ErrorResponse document; everyone else gets the message as a line of
// plain text.
func RenderError(w http.ResponseWriter, r *http.Request, e *apierr.APIError, resource string) {
	w.Header().Set(ErrorCodeHeader, e.Code)
	w.Header().Set("Cache-Control", "no-store")

	if r != nil && wantsJSON(r) {
		resp := ErrorResponse{
			Code:      e.Code,
			Message:   e.Message,
			Resource:  resource,
			RequestID: w.Header().Get(RequestIDHeader),
		}
		writeJSON(w, e.HTTPStatus, resp)
		return
	}
	Text(w, e.HTTPStatus, e.Message)
}

// WriteErrorResponse renders e using the request path as the resource.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, e *apierr.APIError) {
	RenderError(w, r, e, r.URL.Path)
}

// Text writes msg followed by a newline as a text/plain body.
func Text(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	io.WriteString(w, msg+"\n")
}

// FormatTimeHTTP formats a time.Time as an HTTP date per RFC 7231
// (e.g., "Mon, 02 Jan 2006 15:04:05 GMT").
func FormatTimeHTTP(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
