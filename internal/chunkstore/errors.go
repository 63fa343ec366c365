package chunkstore

import "errors"

var (
	// ErrConflict is returned when a write is started for a name that already
	// has an upload in progress.
	ErrConflict = errors.New("another upload is in progress for this name")

	// ErrNotFound is returned when no object exists for a name.
	ErrNotFound = errors.New("object not found")

	// ErrRemoved is returned when an upload's object was deleted before the
	// upload finished.
	ErrRemoved = errors.New("object was removed during upload")

	// ErrBodyRead wraps a failure reading the producer's input.
	ErrBodyRead = errors.New("failed to read body")
)
