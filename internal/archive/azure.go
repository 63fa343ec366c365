package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
)

// azureBufferLimit is the largest body sent with a single UploadBuffer call.
// Bigger or unsized bodies go through the SDK's block streaming upload.
const azureBufferLimit = 4 << 20

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the sink uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadBlob uploads data to a blob, overwriting if it already exists.
	UploadBlob(ctx context.Context, containerName, blobName string, data []byte) error
	// UploadStream uploads r to a blob in staged blocks.
	UploadStream(ctx context.Context, containerName, blobName string, r io.Reader) error
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// ContainerExists returns nil when the container is reachable.
	ContainerExists(ctx context.Context, containerName string) error
}

// AzureSink archives objects into an Azure Blob Storage container.
//
// Credentials are resolved via a connection string, managed identity or
// DefaultAzureCredential (env vars, Azure CLI, etc.), in that order.
type AzureSink struct {
	// Container is the destination container name.
	Container string
	// AccountURL is the storage account URL (e.g. https://account.blob.core.windows.net).
	AccountURL string
	client     AzureBlobAPI
}

// NewAzureSink creates an AzureSink for container. The container must be
// reachable.
func NewAzureSink(ctx context.Context, container, accountURL, connectionString string, useManagedIdentity bool) (*AzureSink, error) {
	client, err := newRealAzureClient(accountURL, connectionString, useManagedIdentity)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	s := NewAzureSinkWithClient(container, accountURL, client)
	if err := s.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("cannot access archive Azure container %q: %w", container, err)
	}

	slog.Info("Azure archive sink initialized", "container", container, "account", accountURL)
	return s, nil
}

// NewAzureSinkWithClient creates an AzureSink with a pre-configured client.
// This is primarily used for testing with mock clients.
func NewAzureSinkWithClient(container, accountURL string, client AzureBlobAPI) *AzureSink {
	return &AzureSink{Container: container, AccountURL: accountURL, client: client}
}

// Name implements Sink.
func (s *AzureSink) Name() string { return "azure" }

// Put uploads small sized bodies in one request and streams the rest.
func (s *AzureSink) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if size >= 0 && size <= azureBufferLimit {
		var buf bytes.Buffer
		buf.Grow(int(size))
		if _, err := io.Copy(&buf, r); err != nil {
			return fmt.Errorf("reading object data: %w", err)
		}
		if err := s.client.UploadBlob(ctx, s.Container, key, buf.Bytes()); err != nil {
			return fmt.Errorf("uploading to Azure: %w", err)
		}
		return nil
	}
	if err := s.client.UploadStream(ctx, s.Container, key, r); err != nil {
		return fmt.Errorf("streaming upload to Azure: %w", err)
	}
	return nil
}

// Delete removes the blob. A missing blob is treated as success.
func (s *AzureSink) Delete(ctx context.Context, key string) error {
	if err := s.client.DeleteBlob(ctx, s.Container, key); err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("deleting blob from Azure: %w", err)
	}
	return nil
}

// HealthCheck verifies that the container is accessible.
func (s *AzureSink) HealthCheck(ctx context.Context) error {
	return s.client.ContainerExists(ctx, s.Container)
}

var _ Sink = (*AzureSink)(nil)
