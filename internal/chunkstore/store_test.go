package chunkstore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryBeginWriteConflict(t *testing.T) {
	s := New()
	up, err := s.TryBeginWrite("b")
	require.NoError(t, err)
	require.True(t, up.Append([]byte("first")))

	_, err = s.TryBeginWrite("b")
	assert.ErrorIs(t, err, ErrConflict)

	// The open object is untouched by the rejected write.
	info, ok := s.Stat("b")
	require.True(t, ok)
	assert.False(t, info.Complete)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, 1, info.Chunks)
}

func TestTryBeginWriteReplacesCompleteObject(t *testing.T) {
	s := New()
	up, err := s.TryBeginWrite("seg.m4s")
	require.NoError(t, err)
	up.Append([]byte("old"))
	_, ok := up.Finish()
	require.True(t, ok)

	old, err := s.Open("seg.m4s")
	require.NoError(t, err)

	up2, err := s.TryBeginWrite("seg.m4s")
	require.NoError(t, err)
	up2.Append([]byte("new-data"))
	_, ok = up2.Finish()
	require.True(t, ok)

	// A reader of the replaced object keeps its detached copy.
	assert.Equal(t, []byte("old"), readAll(t, testContext(t), old))

	r, err := s.Open("seg.m4s")
	require.NoError(t, err)
	assert.Equal(t, []byte("new-data"), readAll(t, testContext(t), r))

	st := s.Stats()
	assert.Equal(t, 1, st.Objects)
	assert.Equal(t, int64(8), st.Bytes)
	assert.Equal(t, 0, st.OpenUploads)
}

func TestUploadDetachedAfterRemove(t *testing.T) {
	s := New()
	up, err := s.TryBeginWrite("d")
	require.NoError(t, err)
	require.True(t, up.Append([]byte("a")))

	_, ok := s.Remove("d")
	require.True(t, ok)

	// A new writer claims the name.
	up2, err := s.TryBeginWrite("d")
	require.NoError(t, err)

	// The stale handle must not leak into the new object.
	assert.False(t, up.Append([]byte("stale")))
	_, ok = up.Finish()
	assert.False(t, ok)
	assert.False(t, up.AbortAndRemove())

	require.True(t, up2.Append([]byte("fresh")))
	_, ok = up2.Finish()
	require.True(t, ok)

	r, err := s.Open("d")
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), readAll(t, testContext(t), r))
}

func TestAppendAfterFinishRejected(t *testing.T) {
	s := New()
	up, err := s.TryBeginWrite("x")
	require.NoError(t, err)
	_, ok := up.Finish()
	require.True(t, ok)

	assert.False(t, up.Append([]byte("late")))
	_, ok = up.Finish()
	assert.False(t, ok)
}

func TestAbortAndRemove(t *testing.T) {
	s := New()
	up, err := s.TryBeginWrite("gone")
	require.NoError(t, err)
	up.Append([]byte("partial"))

	snap, ok := s.SnapshotAndSubscribe("gone")
	require.True(t, ok)
	require.NotNil(t, snap.Subscription)

	assert.True(t, up.AbortAndRemove())
	_, ok = s.Stat("gone")
	assert.False(t, ok)

	ev, open := <-snap.Subscription.Events()
	require.True(t, open)
	assert.Equal(t, EventAbort, ev.Kind)

	// A retry starts over with a fresh object.
	up2, err := s.TryBeginWrite("gone")
	require.NoError(t, err)
	assert.Equal(t, "gone", up2.Name())
	info, _ := s.Stat("gone")
	assert.Equal(t, int64(0), info.Size)
}

func TestSnapshotAndSubscribe(t *testing.T) {
	s := New()
	_, ok := s.SnapshotAndSubscribe("missing")
	assert.False(t, ok)

	up, err := s.TryBeginWrite("live")
	require.NoError(t, err)
	up.Append([]byte("one-"))

	snap, ok := s.SnapshotAndSubscribe("live")
	require.True(t, ok)
	assert.False(t, snap.Complete)
	assert.Equal(t, [][]byte{[]byte("one-")}, snap.Chunks)
	require.NotNil(t, snap.Subscription)
	defer snap.Subscription.Close()

	up.Append([]byte("two-"))
	ev := <-snap.Subscription.Events()
	assert.Equal(t, []byte("two-"), ev.Data)

	// The captured list is a copy.
	up.Append([]byte("three"))
	assert.Len(t, snap.Chunks, 1)

	_, ok = up.Finish()
	require.True(t, ok)
	done, ok := s.SnapshotAndSubscribe("live")
	require.True(t, ok)
	assert.True(t, done.Complete)
	assert.Nil(t, done.Subscription)
	assert.Len(t, done.Chunks, 3)
}

func TestRemove(t *testing.T) {
	s := New()
	_, ok := s.Remove("e")
	assert.False(t, ok)

	_, err := s.Ingest(testContext(t), "e", bytesReader("hello"))
	require.NoError(t, err)

	info, ok := s.Remove("e")
	require.True(t, ok)
	assert.Equal(t, "e", info.Name)
	assert.Equal(t, int64(5), info.Size)
	assert.True(t, info.Complete)

	_, ok = s.Stat("e")
	assert.False(t, ok)
	assert.Equal(t, Stats{}, s.Stats())
}

func TestStatTimestamps(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	now := created
	s := New(WithClock(func() time.Time { return now }))

	up, err := s.TryBeginWrite("ts")
	require.NoError(t, err)
	now = created.Add(time.Second)
	up.Finish()

	info, ok := s.Stat("ts")
	require.True(t, ok)
	assert.Equal(t, created, info.CreatedAt)
	assert.Equal(t, created.Add(time.Second), info.FinishedAt)
}

func TestStatsCountsSubscribers(t *testing.T) {
	s := New()
	up, err := s.TryBeginWrite("a")
	require.NoError(t, err)
	up.Append([]byte("abc"))

	r1, err := s.Open("a")
	require.NoError(t, err)
	r2, err := s.Open("a")
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, 1, st.Objects)
	assert.Equal(t, 1, st.OpenUploads)
	assert.Equal(t, int64(3), st.Bytes)
	assert.Equal(t, 2, st.Subscribers)

	r1.Close()
	assert.Equal(t, 1, s.Stats().Subscribers)
	r2.Close()
	assert.Equal(t, 0, s.Stats().Subscribers)
}

func TestOptionsIgnoreNonPositive(t *testing.T) {
	s := New(WithBroadcastCapacity(0), WithReadChunkSize(-1), WithClock(nil))
	assert.Equal(t, DefaultBroadcastCapacity, s.capacity)
	assert.Equal(t, DefaultReadChunkSize, s.readSize)
	assert.NotNil(t, s.now)

	s = New(WithBroadcastCapacity(3), WithReadChunkSize(7))
	assert.Equal(t, 3, s.capacity)
	assert.Equal(t, 7, s.readSize)
}

func TestConcurrentWritersOneWins(t *testing.T) {
	s := New()
	const writers = 32

	var wg sync.WaitGroup
	var mu sync.Mutex
	var won, conflicts int
	for n := 0; n < writers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TryBeginWrite("race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, writers-1, conflicts)
}
