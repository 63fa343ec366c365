// Package chunkstore implements an ephemeral in-memory blob store whose
// objects can be read while they are still being written.
//
// An object is an append-only list of chunks. One writer appends to it; any
// number of readers attach at any time, receive every chunk written so far
// and then follow the live feed until the writer finishes, aborts, or the
// object is deleted.
//
// A single mutex guards the name to object mapping. It is only held for
// in-memory steps (lookup, insert, append, publish), never across I/O.
package chunkstore

import (
	"sync"
	"time"
)

// Store maps object names to chunked objects.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*object
	open     int
	bytes    int64
	capacity int
	readSize int
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithBroadcastCapacity sets the per-subscriber live event buffer.
func WithBroadcastCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithReadChunkSize sets the maximum size of a single read from a producer
// body during Ingest.
func WithReadChunkSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.readSize = n
		}
	}
}

// WithClock overrides the time source used for object timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:  make(map[string]*object),
		capacity: DefaultBroadcastCapacity,
		readSize: DefaultReadChunkSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload is the write handle returned by TryBeginWrite. It is bound to the
// exact object that was created: once that object is removed from the store,
// the handle no longer affects whatever is stored under the same name.
type Upload struct {
	s    *Store
	name string
	obj  *object
}

// Name returns the object name the upload writes to.
func (u *Upload) Name() string {
	return u.name
}

// TryBeginWrite creates a fresh empty object for name, replacing a completed
// object if one exists. It returns ErrConflict without touching the store if
// an upload for name is still in progress.
func (s *Store) TryBeginWrite(name string) (*Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[name]; ok {
		if !existing.complete {
			return nil, ErrConflict
		}
		// Replacing detaches the completed object. It has no live
		// subscribers left, and readers already hold its chunks.
		s.bytes -= existing.size
	}

	obj := newObject(s.capacity, s.now())
	s.entries[name] = obj
	s.open++
	return &Upload{s: s, name: name, obj: obj}, nil
}

// attachedLocked reports whether the upload's object is still the one stored
// under its name. The caller must hold s.mu.
func (u *Upload) attachedLocked() bool {
	return u.s.entries[u.name] == u.obj
}

// Append appends chunk to the object and broadcasts it to live readers. It
// returns false if the object has been removed from the store. The chunk must
// not be modified after the call.
func (u *Upload) Append(chunk []byte) bool {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	if !u.attachedLocked() || u.obj.complete {
		return false
	}
	u.obj.append(chunk)
	u.s.bytes += int64(len(chunk))
	return true
}

// Finish marks the object complete and broadcasts Done. It returns the final
// chunk list, or false if the object has been removed from the store.
func (u *Upload) Finish() ([][]byte, bool) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	if !u.attachedLocked() || u.obj.complete {
		return nil, false
	}
	u.obj.finish(u.s.now())
	u.s.open--
	return u.obj.snapshot(), true
}

// AbortAndRemove broadcasts Abort and removes the object. It returns false if
// the object had already been removed.
func (u *Upload) AbortAndRemove() bool {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	if !u.attachedLocked() {
		return false
	}
	u.obj.abort()
	u.s.removeLocked(u.name, u.obj)
	return true
}

// removeLocked drops the entry and its accounting. The caller must hold s.mu.
func (s *Store) removeLocked(name string, obj *object) {
	delete(s.entries, name)
	s.bytes -= obj.size
	if !obj.complete {
		s.open--
	}
}

// Snapshot is the state captured by SnapshotAndSubscribe.
type Snapshot struct {
	// Chunks is the chunk list at the moment of capture.
	Chunks [][]byte
	// Complete reports whether the object was complete at capture.
	Complete bool
	// Subscription follows chunks appended after the capture. It is nil for
	// complete objects.
	Subscription *Subscription
}

// SnapshotAndSubscribe captures the current chunk list of name and, if the
// object is still open, subscribes to its live feed in the same locked step,
// so that every chunk is seen exactly once across snapshot and feed.
func (s *Store) SnapshotAndSubscribe(name string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.entries[name]
	if !ok {
		return Snapshot{}, false
	}
	snap := Snapshot{
		Chunks:   obj.snapshot(),
		Complete: obj.complete,
	}
	if !obj.complete {
		snap.Subscription = obj.notifier.subscribe()
	}
	return snap, true
}

// Remove deletes name unconditionally. Live readers are sent Abort first so
// they stop waiting. It returns the removed object's info, or false if there
// was no entry.
func (s *Store) Remove(name string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.entries[name]
	if !ok {
		return Info{}, false
	}
	obj.abort()
	s.removeLocked(name, obj)
	return obj.info(name), true
}

// Stat returns the current state of name without its data.
func (s *Store) Stat(name string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.entries[name]
	if !ok {
		return Info{}, false
	}
	return obj.info(name), true
}

// Stats summarizes the store's contents.
type Stats struct {
	Objects     int
	OpenUploads int
	Bytes       int64
	Subscribers int
}

// Stats returns current totals. Counting subscribers walks the open objects,
// so this is meant for periodic scrapes rather than request paths.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Objects:     len(s.entries),
		OpenUploads: s.open,
		Bytes:       s.bytes,
	}
	for _, obj := range s.entries {
		if !obj.complete {
			st.Subscribers += obj.notifier.count()
		}
	}
	return st
}
