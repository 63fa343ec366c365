// Package uid provides request identifiers for chunkstore.
package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a 32-character hex identifier derived from a random UUID.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether s looks like a client-supplied request ID worth
// propagating: non-empty, at most 128 bytes, printable ASCII only.
func Valid(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
