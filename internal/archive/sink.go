// Package archive copies completed chunkstore objects to an external sink.
//
// Archived copies are write-only from chunkstore's point of view: nothing in
// the server reads them back, so the in-memory store stays the only source
// for GET. Sinks receive an object key (configured prefix + object name, with
// ".zst" appended when compression is on) and the full body.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bleepstore/chunkstore/internal/config"
)

// ErrInvalidKey is returned by sinks for keys they cannot store safely.
var ErrInvalidKey = errors.New("invalid archive key")

// Sink defines the interface for writing archived object data. All methods
// must be safe for concurrent use.
type Sink interface {
	// Name returns a short identifier for logs and metrics (e.g., "aws").
	Name() string

	// Put stores size bytes read from r under key, replacing any previous
	// copy.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Delete removes the copy stored under key. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// HealthCheck verifies that the sink is operational.
	HealthCheck(ctx context.Context) error
}

// NewSink builds the sink selected by cfg.Backend.
func NewSink(ctx context.Context, cfg config.ArchiveConfig) (Sink, error) {
	switch strings.ToLower(cfg.Backend) {
	case "local":
		return NewLocalSink(cfg.Local.RootDir)
	case "sqlite":
		return NewSQLiteSink(cfg.SQLite.Path)
	case "aws":
		a := cfg.AWS
		return NewS3Sink(ctx, a.Bucket, a.Region, a.EndpointURL, a.UsePathStyle, a.AccessKeyID, a.SecretAccessKey)
	case "gcp":
		g := cfg.GCP
		return NewGCSSink(ctx, g.Bucket, g.Project, g.CredentialsFile, g.EndpointURL)
	case "azure":
		z := cfg.Azure
		return NewAzureSink(ctx, z.Container, z.AccountURL, z.ConnectionString, z.UseManagedIdentity)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// closeSink releases sink resources when the sink holds any.
func closeSink(s Sink) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
