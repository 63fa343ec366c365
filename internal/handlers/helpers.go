package handlers

import (
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	apierr "github.com/bleepstore/chunkstore/internal/errors"
	"github.com/bleepstore/chunkstore/internal/respond"
)

// DefaultMaxNameLength caps object names, in bytes.
const DefaultMaxNameLength = 1024

// contentTypes maps name suffixes to the Content-Type served for them.
var contentTypes = map[string]string{
	".mpd":  "application/dash+xml",
	".m4s":  "video/mp4",
	".mp4":  "video/mp4",
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".m4a":  "audio/mp4",
	".vtt":  "text/vtt",
}

// contentTypeFor returns the Content-Type for an object name. Matching is
// case-sensitive; unknown suffixes are served as application/octet-stream.
func contentTypeFor(name string) string {
	if ct, ok := contentTypes[path.Ext(name)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// extractObjectName returns the request path without its leading slash.
// Every path maps to an object; there are no buckets or sub-resources.
func extractObjectName(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, "/")
}

// validateObjectName returns the API error for names the store will not
// accept, or nil.
func validateObjectName(name string, maxLen int) *apierr.APIError {
	if name == "" {
		return apierr.ErrInvalidObjectName
	}
	if len(name) > maxLen {
		return apierr.ErrNameTooLong
	}
	return nil
}

// isReserved reports whether name matches one of reserved. Entries ending
// in "/" match every name under that prefix.
func isReserved(name string, reserved []string) bool {
	for _, r := range reserved {
		if name == r || (strings.HasSuffix(r, "/") && strings.HasPrefix(name, r)) {
			return true
		}
	}
	return false
}

// setObjectHeaders sets the headers shared by GET and HEAD responses.
func setObjectHeaders(w http.ResponseWriter, name string) {
	h := w.Header()
	h.Set("Content-Type", contentTypeFor(name))
	h.Set("Cache-Control", "no-store")
}

// setObjectStatus sets X-Object-Status and, for complete objects, the
// Content-Length and Last-Modified headers.
func setObjectStatus(w http.ResponseWriter, complete bool, size int64, finished time.Time) {
	h := w.Header()
	if !complete {
		h.Set(ObjectStatusHeader, "in-progress")
		return
	}
	h.Set(ObjectStatusHeader, "complete")
	h.Set("Content-Length", strconv.FormatInt(size, 10))
	if !finished.IsZero() {
		h.Set("Last-Modified", respond.FormatTimeHTTP(finished))
	}
}
