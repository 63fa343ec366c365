package archive

import (
	"bytes"
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/bleepstore/chunkstore/internal/config"
	"github.com/bleepstore/chunkstore/internal/metrics"
)

// ErrClosed is returned by Close when called more than once.
var ErrClosed = errors.New("archiver closed")

type jobOp string

const (
	opPut    jobOp = "put"
	opDelete jobOp = "delete"
)

type job struct {
	op     jobOp
	name   string
	chunks [][]byte
	size   int64
}

// Options configures an Archiver.
type Options struct {
	// Prefix is prepended to every object name to form the sink key.
	Prefix string
	// IncludeSuffixes limits archiving to matching names. Empty matches all.
	IncludeSuffixes []string
	// QueueSize bounds the number of pending jobs, split evenly across
	// workers.
	QueueSize int
	// Workers is the number of goroutines draining the queues. Jobs for one
	// name always go to the same worker, so they run in submission order.
	Workers int
	// Compression is "none" or "zstd".
	Compression string
	// PropagateDeletes queues a sink delete for every store delete.
	PropagateDeletes bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// OptionsFromConfig maps the archive configuration section onto Options.
func OptionsFromConfig(cfg config.ArchiveConfig) Options {
	return Options{
		Prefix:           cfg.Prefix,
		IncludeSuffixes:  cfg.IncludeSuffixes,
		QueueSize:        cfg.QueueSize,
		Workers:          cfg.Workers,
		Compression:      cfg.Compression,
		PropagateDeletes: cfg.PropagateDeletes,
	}
}

// Archiver copies completed objects to a Sink in the background. Submit
// calls never block: when a queue is full the job is dropped and logged.
type Archiver struct {
	sink   Sink
	opts   Options
	comp   compressor
	logger *slog.Logger

	// ctx is handed to sink calls and cancelled when a drain times out.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	queues []chan job
	wg     sync.WaitGroup
}

// New starts an Archiver writing to sink.
func New(sink Sink, opts Options) (*Archiver, error) {
	comp, err := newCompressor(opts.Compression)
	if err != nil {
		return nil, err
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	perWorker := max(opts.QueueSize/opts.Workers, 1)

	ctx, cancel := context.WithCancel(context.Background())
	a := &Archiver{
		sink:   sink,
		opts:   opts,
		comp:   comp,
		logger: logger.With("sink", sink.Name()),
		ctx:    ctx,
		cancel: cancel,
		queues: make([]chan job, opts.Workers),
	}
	for i := range a.queues {
		a.queues[i] = make(chan job, perWorker)
		a.wg.Add(1)
		go a.worker(a.queues[i])
	}
	return a, nil
}

// Matches reports whether name passes the suffix filter.
func (a *Archiver) Matches(name string) bool {
	if len(a.opts.IncludeSuffixes) == 0 {
		return true
	}
	for _, suf := range a.opts.IncludeSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

// Key returns the sink key for an object name.
func (a *Archiver) Key(name string) string {
	key := a.opts.Prefix + name
	if a.comp != nil {
		key += a.comp.Suffix()
	}
	return key
}

// SubmitPut queues a copy of a completed object. chunks must not be modified
// afterwards. It reports whether the job was queued.
func (a *Archiver) SubmitPut(name string, chunks [][]byte, size int64) bool {
	if !a.Matches(name) {
		return false
	}
	return a.enqueue(job{op: opPut, name: name, chunks: chunks, size: size})
}

// SubmitDelete queues removal of an archived copy when delete propagation
// is on. It reports whether the job was queued.
func (a *Archiver) SubmitDelete(name string) bool {
	if !a.opts.PropagateDeletes || !a.Matches(name) {
		return false
	}
	return a.enqueue(job{op: opDelete, name: name})
}

func (a *Archiver) enqueue(j job) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		metrics.ArchiveJobsTotal.WithLabelValues(string(j.op), "dropped").Inc()
		return false
	}
	select {
	case a.queues[a.shard(j.name)] <- j:
		return true
	default:
		metrics.ArchiveJobsTotal.WithLabelValues(string(j.op), "dropped").Inc()
		a.logger.Warn("archive queue full, dropping job", "op", j.op, "name", j.name)
		return false
	}
}

// shard picks the worker queue for name.
func (a *Archiver) shard(name string) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int(h.Sum32() % uint32(len(a.queues)))
}

// pending returns the number of queued jobs across all workers.
func (a *Archiver) pending() int {
	n := 0
	for _, q := range a.queues {
		n += len(q)
	}
	return n
}

// HealthCheck reports the sink's health.
func (a *Archiver) HealthCheck(ctx context.Context) error {
	return a.sink.HealthCheck(ctx)
}

// Close stops accepting jobs and waits for queued jobs to finish. If ctx
// ends first, in-flight sink calls are cancelled and the remaining jobs are
// dropped. The sink is released only after every worker has returned.
func (a *Archiver) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	for _, q := range a.queues {
		close(q)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		a.logger.Warn("archive drain interrupted", "pending", a.pending())
		a.cancel()
		<-done
	}
	a.cancel()
	if cerr := closeSink(a.sink); err == nil {
		err = cerr
	}
	return err
}

func (a *Archiver) worker(q <-chan job) {
	defer a.wg.Done()
	for j := range q {
		if a.ctx.Err() != nil {
			metrics.ArchiveJobsTotal.WithLabelValues(string(j.op), "dropped").Inc()
			continue
		}
		a.run(a.ctx, j)
	}
}

func (a *Archiver) run(ctx context.Context, j job) {
	key := a.Key(j.name)

	var err error
	switch j.op {
	case opPut:
		body, size := a.body(j)
		err = a.sink.Put(ctx, key, body, size)
	case opDelete:
		err = a.sink.Delete(ctx, key)
	}

	if err != nil {
		metrics.ArchiveJobsTotal.WithLabelValues(string(j.op), "error").Inc()
		a.logger.Error("archive job failed", "op", j.op, "name", j.name, "key", key, "error", err)
		return
	}
	metrics.ArchiveJobsTotal.WithLabelValues(string(j.op), "success").Inc()
	a.logger.Debug("archive job done", "op", j.op, "name", j.name, "key", key)
}

// body returns the bytes to hand to the sink and their length.
func (a *Archiver) body(j job) (io.Reader, int64) {
	if a.comp == nil {
		readers := make([]io.Reader, 0, len(j.chunks))
		for _, c := range j.chunks {
			readers = append(readers, bytes.NewReader(c))
		}
		return io.MultiReader(readers...), j.size
	}
	encoded := a.comp.Compress(bytes.Join(j.chunks, nil))
	return bytes.NewReader(encoded), int64(len(encoded))
}
