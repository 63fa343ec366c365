package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCSAPI defines the subset of the GCS client interface that the sink uses.
// This allows mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given GCS object.
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
	// ListObjects lists up to limit object names with the given prefix.
	ListObjects(ctx context.Context, bucket, prefix string, limit int) ([]string, error)
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	return c.client.Bucket(bucket).Object(object).NewWriter(ctx)
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Close() error {
	return c.client.Close()
}

func (c *realGCSClient) ListObjects(ctx context.Context, bucket, prefix string, limit int) ([]string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var names []string
	for len(names) < limit {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// GCSSink archives objects into a Google Cloud Storage bucket.
//
// Credentials are resolved via Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS, gcloud auth, metadata server) unless a
// credentials file is configured.
type GCSSink struct {
	// Bucket is the destination GCS bucket name.
	Bucket string
	// Project is the GCP project ID.
	Project string
	client  GCSAPI
}

// NewGCSSink creates a GCSSink for bucket. endpointURL, when set, points the
// client at an emulator without authentication.
func NewGCSSink(ctx context.Context, bucket, project, credentialsFile, endpointURL string) (*GCSSink, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	if endpointURL != "" {
		opts = append(opts, option.WithEndpoint(endpointURL), option.WithoutAuthentication())
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	s := NewGCSSinkWithClient(bucket, project, &realGCSClient{client: client})
	if err := s.HealthCheck(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("cannot access archive GCS bucket %q: %w", bucket, err)
	}

	slog.Info("GCS archive sink initialized", "bucket", bucket, "project", project)
	return s, nil
}

// NewGCSSinkWithClient creates a GCSSink with a pre-configured client. This
// is primarily used for testing with mock clients.
func NewGCSSinkWithClient(bucket, project string, client GCSAPI) *GCSSink {
	return &GCSSink{Bucket: bucket, Project: project, client: client}
}

// Name implements Sink.
func (s *GCSSink) Name() string { return "gcp" }

// Put streams the body into a GCS object writer. The object is only
// committed when the writer closes cleanly.
func (s *GCSSink) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	w := s.client.NewWriter(ctx, s.Bucket, key)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing GCS upload: %w", err)
	}
	return nil
}

// Close releases the GCS client when it holds connections.
func (s *GCSSink) Close() error {
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Delete removes the object. GCS errors on a missing object, unlike S3; that
// case is treated as success.
func (s *GCSSink) Delete(ctx context.Context, key string) error {
	if err := s.client.Delete(ctx, s.Bucket, key); err != nil && !isGCSNotFound(err) {
		return fmt.Errorf("deleting object from GCS: %w", err)
	}
	return nil
}

// HealthCheck lists at most one object to verify bucket access.
func (s *GCSSink) HealthCheck(ctx context.Context) error {
	_, err := s.client.ListObjects(ctx, s.Bucket, "", 1)
	return err
}

// isGCSNotFound checks if a GCS error is a not-found error, from either the
// JSON or the gRPC transport.
func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.NotFound {
		return true
	}
	return false
}

var _ Sink = (*GCSSink)(nil)
