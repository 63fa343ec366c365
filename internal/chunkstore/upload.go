package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultReadChunkSize is the largest single read Ingest makes from a
// producer body unless configured otherwise.
const DefaultReadChunkSize = 64 << 10

// IngestResult describes a completed upload.
type IngestResult struct {
	Name   string
	Chunks [][]byte
	Size   int64
}

// Ingest streams body into a new object named name. Every read result becomes
// one chunk visible to readers immediately. On io.EOF the object is marked
// complete. Any other read error, or cancellation of ctx, aborts the upload
// and removes the object; nothing partial is left behind.
//
// Ingest returns ErrConflict without reading body if another upload for name
// is in progress, and ErrRemoved if the object was deleted mid-upload.
func (s *Store) Ingest(ctx context.Context, name string, body io.Reader) (*IngestResult, error) {
	up, err := s.TryBeginWrite(name)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, s.readSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			up.AbortAndRemove()
			return nil, fmt.Errorf("%w: %w", ErrBodyRead, err)
		}

		n, rerr := body.Read(buf)
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			up.AbortAndRemove()
			return nil, fmt.Errorf("%w: %w", ErrBodyRead, rerr)
		}

		// A zero-length read with no error is still appended as a chunk.
		if n > 0 || rerr == nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !up.Append(chunk) {
				return nil, ErrRemoved
			}
			total += int64(n)
		}

		if rerr != nil {
			break
		}
	}

	chunks, ok := up.Finish()
	if !ok {
		return nil, ErrRemoved
	}
	return &IngestResult{Name: name, Chunks: chunks, Size: total}, nil
}
