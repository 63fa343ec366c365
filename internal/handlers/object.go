// Package handlers implements the HTTP handlers for chunkstore objects.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/bleepstore/chunkstore/internal/chunkstore"
	apierr "github.com/bleepstore/chunkstore/internal/errors"
	"github.com/bleepstore/chunkstore/internal/logging"
	"github.com/bleepstore/chunkstore/internal/metrics"
	"github.com/bleepstore/chunkstore/internal/respond"
)

// ObjectStatusHeader reports whether an object is complete or still being
// uploaded.
const ObjectStatusHeader = "X-Object-Status"

// Archiver receives completed objects and deletions. It must not block.
type Archiver interface {
	SubmitPut(name string, chunks [][]byte, size int64) bool
	SubmitDelete(name string) bool
}

// ObjectHandler contains handlers for object operations.
type ObjectHandler struct {
	store         *chunkstore.Store
	archiver      Archiver
	maxNameLength int
	reserved      []string
}

// HandlerOption configures an ObjectHandler.
type HandlerOption func(*ObjectHandler)

// WithArchiver copies completed uploads (and, if the archiver is configured
// for it, deletions) to a.
func WithArchiver(a Archiver) HandlerOption {
	return func(h *ObjectHandler) {
		h.archiver = a
	}
}

// WithMaxNameLength overrides DefaultMaxNameLength. Non-positive values are
// ignored.
func WithMaxNameLength(n int) HandlerOption {
	return func(h *ObjectHandler) {
		if n > 0 {
			h.maxNameLength = n
		}
	}
}

// WithReservedNames rejects the given names with 400 ReservedName. Entries
// ending in "/" reserve a whole prefix.
func WithReservedNames(names ...string) HandlerOption {
	return func(h *ObjectHandler) {
		h.reserved = append(h.reserved, names...)
	}
}

// NewObjectHandler creates a new ObjectHandler over store.
func NewObjectHandler(store *chunkstore.Store, opts ...HandlerOption) *ObjectHandler {
	h := &ObjectHandler{
		store:         store,
		maxNameLength: DefaultMaxNameLength,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP dispatches on the request method.
func (h *ObjectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		h.PutObject(w, r)
	case http.MethodGet:
		h.GetObject(w, r)
	case http.MethodHead:
		h.HeadObject(w, r)
	case http.MethodDelete:
		h.DeleteObject(w, r)
	case http.MethodOptions:
		h.Options(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, PUT, DELETE, OPTIONS")
		respond.WriteErrorResponse(w, r, apierr.ErrMethodNotAllowed)
	}
}

// name extracts and validates the object name, writing the error response
// when it is unusable.
func (h *ObjectHandler) name(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := extractObjectName(r)
	if e := validateObjectName(name, h.maxNameLength); e != nil {
		respond.WriteErrorResponse(w, r, e)
		return "", false
	}
	if isReserved(name, h.reserved) {
		respond.WriteErrorResponse(w, r, apierr.ErrReservedName)
		return "", false
	}
	return name, true
}

// PutObject handles PUT /{name}. The body is appended chunk by chunk as it
// arrives, so GET requests issued during the upload tail it live. The
// response is only sent once the body has been read to the end.
func (h *ObjectHandler) PutObject(w http.ResponseWriter, r *http.Request) {
	name, ok := h.name(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := logging.FromContext(ctx).With("name", name)
	logger.Debug("PUT: start", "content_length", r.ContentLength)

	res, err := h.store.Ingest(ctx, name, r.Body)
	if err != nil {
		var e *apierr.APIError
		status := "error"
		switch {
		case errors.Is(err, chunkstore.ErrConflict):
			e, status = apierr.ErrUploadInProgress, "conflict"
			logger.Info("PUT: rejected, upload in progress")
		case errors.Is(err, chunkstore.ErrRemoved):
			e, status = apierr.ErrObjectRemoved, "removed"
			logger.Info("PUT: object deleted during upload")
		case errors.Is(err, chunkstore.ErrBodyRead):
			e = apierr.ErrIncompleteBody
			logger.Warn("PUT: body read failed", "error", err)
		default:
			e = apierr.ErrInternalError
			logger.Error("PUT: unexpected error", "error", err)
		}
		metrics.OperationsTotal.WithLabelValues("PutObject", status).Inc()
		respond.WriteErrorResponse(w, r, e)
		return
	}

	metrics.OperationsTotal.WithLabelValues("PutObject", "success").Inc()
	metrics.ChunksAppendedTotal.Add(float64(len(res.Chunks)))
	metrics.BytesReceivedTotal.Add(float64(res.Size))
	logger.Info("PUT: complete", "bytes", res.Size, "chunks", len(res.Chunks))

	if h.archiver != nil && h.archiver.SubmitPut(res.Name, res.Chunks, res.Size) {
		logger.Debug("PUT: queued for archive")
	}

	w.Header().Set("Cache-Control", "no-store")
	respond.Text(w, http.StatusCreated, "Object stored successfully")
}

// GetObject handles GET /{name}. A complete object is sent with a
// Content-Length. An object still being uploaded is sent without one: the
// stored chunks first, then each new chunk as the writer appends it, until
// the upload finishes, is aborted or deleted, the reader falls too far
// behind, or the client goes away.
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	name, ok := h.name(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := logging.FromContext(ctx).With("name", name)

	reader, err := h.store.Open(name)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("GetObject", "not_found").Inc()
		respond.WriteErrorResponse(w, r, apierr.ErrNoSuchObject)
		return
	}
	defer reader.Close()

	setObjectHeaders(w, name)
	var finished time.Time
	if reader.Complete() {
		if info, ok := h.store.Stat(name); ok && info.Complete {
			finished = info.FinishedAt
		}
		logger.Debug("GET: serving complete object", "bytes", reader.Size())
	} else {
		logger.Debug("GET: streaming (in-progress)", "replay_bytes", reader.Size())
	}
	setObjectStatus(w, reader.Complete(), reader.Size(), finished)
	w.WriteHeader(http.StatusOK)
	metrics.OperationsTotal.WithLabelValues("GetObject", "success").Inc()

	flusher, _ := w.(http.Flusher)
	streaming := !reader.Complete()
	if streaming && flusher != nil {
		flusher.Flush()
	}

	var sent int64
	for {
		chunk, err := reader.Next(ctx)
		if err != nil {
			break
		}
		if len(chunk) == 0 {
			continue
		}
		n, werr := w.Write(chunk)
		sent += int64(n)
		if werr != nil {
			reader.Close()
			break
		}
		if streaming && flusher != nil {
			flusher.Flush()
		}
	}
	metrics.BytesSentTotal.Add(float64(sent))

	outcome := reader.Outcome()
	metrics.StreamEndingsTotal.WithLabelValues(string(outcome)).Inc()
	switch outcome {
	case chunkstore.OutcomeLagged:
		logger.Warn("GET: reader fell behind, stream truncated", "bytes", sent)
	case chunkstore.OutcomeAborted:
		logger.Info("GET: upload aborted, stream ended", "bytes", sent)
	default:
		logger.Debug("GET: done", "outcome", outcome, "bytes", sent)
	}
}

// HeadObject handles HEAD /{name}. It reports the same headers as GET; for
// an object still being uploaded no Content-Length is sent.
func (h *ObjectHandler) HeadObject(w http.ResponseWriter, r *http.Request) {
	name, ok := h.name(w, r)
	if !ok {
		return
	}
	info, ok := h.store.Stat(name)
	if !ok {
		metrics.OperationsTotal.WithLabelValues("HeadObject", "not_found").Inc()
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusNotFound)
		return
	}
	setObjectHeaders(w, name)
	setObjectStatus(w, info.Complete, info.Size, info.FinishedAt)
	w.WriteHeader(http.StatusOK)
	metrics.OperationsTotal.WithLabelValues("HeadObject", "success").Inc()
}

// DeleteObject handles DELETE /{name}. Readers tailing the object are ended
// and an in-flight upload of it fails.
func (h *ObjectHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	name, ok := h.name(w, r)
	if !ok {
		return
	}
	logger := logging.FromContext(r.Context()).With("name", name)

	info, ok := h.store.Remove(name)
	if !ok {
		metrics.OperationsTotal.WithLabelValues("DeleteObject", "not_found").Inc()
		respond.WriteErrorResponse(w, r, apierr.ErrNoSuchObject)
		return
	}
	metrics.OperationsTotal.WithLabelValues("DeleteObject", "success").Inc()
	logger.Info("DELETE: removed", "bytes", info.Size, "complete", info.Complete)

	if h.archiver != nil && h.archiver.SubmitDelete(name) {
		logger.Debug("DELETE: queued archive delete")
	}
	w.WriteHeader(http.StatusNoContent)
}

// Options handles OPTIONS /{name}. CORS headers are added by the server
// middleware.
func (h *ObjectHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, HEAD, PUT, DELETE, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}
