package chunkstore

import "time"

// object is one named, growable sequence of immutable chunks plus its
// completion state and live feed. All fields are guarded by the owning
// Store's lock.
type object struct {
	chunks     [][]byte
	size       int64
	complete   bool
	createdAt  time.Time
	finishedAt time.Time
	notifier   *notifier
}

func newObject(capacity int, now time.Time) *object {
	return &object{
		createdAt: now,
		notifier:  newNotifier(capacity),
	}
}

// append stores the chunk and broadcasts it. The chunk must not be modified
// afterwards.
func (o *object) append(chunk []byte) {
	o.chunks = append(o.chunks, chunk)
	o.size += int64(len(chunk))
	o.notifier.publishData(chunk)
}

func (o *object) finish(now time.Time) {
	o.complete = true
	o.finishedAt = now
	o.notifier.publishTerminal(EventDone)
}

func (o *object) abort() {
	o.notifier.publishTerminal(EventAbort)
}

// snapshot returns a copy of the chunk list. The chunk byte slices are
// shared; they are never written after being appended.
func (o *object) snapshot() [][]byte {
	out := make([][]byte, len(o.chunks))
	copy(out, o.chunks)
	return out
}

func (o *object) info(name string) Info {
	return Info{
		Name:       name,
		Size:       o.size,
		Chunks:     len(o.chunks),
		Complete:   o.complete,
		CreatedAt:  o.createdAt,
		FinishedAt: o.finishedAt,
	}
}

// Info describes an object's current state without its data.
type Info struct {
	Name       string
	Size       int64
	Chunks     int
	Complete   bool
	CreatedAt  time.Time
	FinishedAt time.Time
}
