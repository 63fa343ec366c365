package chunkstore

import (
	"context"
	"io"
)

// Outcome records why a Reader stopped producing chunks.
type Outcome string

const (
	// OutcomeStreaming means the reader has not ended yet.
	OutcomeStreaming Outcome = ""
	// OutcomeComplete means a complete object was delivered in full.
	OutcomeComplete Outcome = "complete"
	// OutcomeDone means the live feed ended with the upload finishing.
	OutcomeDone Outcome = "done"
	// OutcomeAborted means the upload failed or the object was deleted.
	OutcomeAborted Outcome = "aborted"
	// OutcomeLagged means the reader fell behind and was severed from the
	// live feed. The bytes delivered are a valid prefix of the object.
	OutcomeLagged Outcome = "lagged"
	// OutcomeCancelled means the caller's context ended while waiting.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeClosed means the consumer closed the reader early.
	OutcomeClosed Outcome = "closed"
)

// Reader delivers one object to one consumer. For a complete object it
// yields the stored chunks and ends. For an open object it replays the chunks
// captured when it was opened and then follows the live feed until the
// upload ends. A Reader is consumed once, forward only.
type Reader struct {
	name     string
	chunks   [][]byte
	pos      int
	complete bool
	size     int64
	sub      *Subscription
	outcome  Outcome
}

// Open looks up name and returns a Reader positioned at its first chunk. It
// returns ErrNotFound if there is no such object.
func (s *Store) Open(name string) (*Reader, error) {
	snap, ok := s.SnapshotAndSubscribe(name)
	if !ok {
		return nil, ErrNotFound
	}

	r := &Reader{
		name:     name,
		chunks:   snap.Chunks,
		complete: snap.Complete,
		sub:      snap.Subscription,
	}
	for _, c := range snap.Chunks {
		r.size += int64(len(c))
	}
	return r, nil
}

// Name returns the object name.
func (r *Reader) Name() string {
	return r.name
}

// Complete reports whether the object was complete when the reader was
// opened. Only then is the body length known in advance.
func (r *Reader) Complete() bool {
	return r.complete
}

// Size returns the number of bytes captured when the reader was opened. For
// a complete object this is the full body length.
func (r *Reader) Size() int64 {
	return r.size
}

// Outcome reports why the reader ended, or OutcomeStreaming while it is
// still producing.
func (r *Reader) Outcome() Outcome {
	return r.outcome
}

// Next returns the next chunk. It blocks while an open object has no new
// data. At the end of the object it returns io.EOF; if ctx ends first it
// returns ctx.Err(). Chunks may be empty.
func (r *Reader) Next(ctx context.Context) ([]byte, error) {
	if r.outcome != OutcomeStreaming {
		return nil, io.EOF
	}

	if r.pos < len(r.chunks) {
		c := r.chunks[r.pos]
		r.pos++
		return c, nil
	}

	if r.sub == nil {
		r.outcome = OutcomeComplete
		return nil, io.EOF
	}

	select {
	case ev, ok := <-r.sub.Events():
		if !ok {
			r.endFeed()
			return nil, io.EOF
		}
		switch ev.Kind {
		case EventData:
			return ev.Data, nil
		case EventDone:
			r.finish(OutcomeDone)
		default:
			r.finish(OutcomeAborted)
		}
		return nil, io.EOF
	case <-ctx.Done():
		r.finish(OutcomeCancelled)
		return nil, ctx.Err()
	}
}

// endFeed classifies a feed that closed without delivering a terminal event.
func (r *Reader) endFeed() {
	if r.sub.Lagged() {
		r.finish(OutcomeLagged)
		return
	}
	if kind, ok := r.sub.Terminal(); ok && kind == EventDone {
		r.finish(OutcomeDone)
		return
	}
	r.finish(OutcomeAborted)
}

func (r *Reader) finish(o Outcome) {
	r.outcome = o
	r.sub.Close()
}

// Close releases the live subscription, if any. It is safe to call at any
// point and more than once.
func (r *Reader) Close() error {
	if r.outcome == OutcomeStreaming {
		r.outcome = OutcomeClosed
	}
	if r.sub != nil {
		r.sub.Close()
	}
	return nil
}
