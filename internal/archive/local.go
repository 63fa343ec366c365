package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bleepstore/chunkstore/internal/uid"
)

// LocalSink archives objects as files under a root directory. Object names
// containing "/" become nested directories.
type LocalSink struct {
	// RootDir is the base directory for archived files.
	RootDir string
}

// NewLocalSink creates a LocalSink rooted at rootDir, creating the root and
// its .tmp directory if needed. Stale temp files from an earlier run are
// removed.
func NewLocalSink(rootDir string) (*LocalSink, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive root directory %q: %w", rootDir, err)
	}
	tmpDir := filepath.Join(rootDir, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	s := &LocalSink{RootDir: rootDir}
	if err := s.cleanTempFiles(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name implements Sink.
func (s *LocalSink) Name() string { return "local" }

func (s *LocalSink) cleanTempFiles() error {
	tmpDir := filepath.Join(s.RootDir, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// path maps key to a file below RootDir. Keys that would escape the root or
// land in the temp directory are rejected.
func (s *LocalSink) path(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	rel := strings.TrimPrefix(clean, string(filepath.Separator))
	if rel == "" || rel == "." || rel == ".tmp" || strings.HasPrefix(rel, ".tmp"+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.RootDir, rel), nil
}

// Put writes the object with the temp file, fsync, rename pattern so a
// reader of the archive never sees a partial file.
func (s *LocalSink) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating parent directories for %q: %w", key, err)
	}

	tmpPath := filepath.Join(s.RootDir, ".tmp", "tmp-"+uid.New())
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	n, err := io.Copy(f, r)
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("short write: %d of %d bytes", n, size)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing archive file %q: %w", key, err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file to final path: %w", err)
	}
	return nil
}

// Delete removes the archived file. Missing files are ignored.
func (s *LocalSink) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting archive file %q: %w", key, err)
	}
	return nil
}

// HealthCheck verifies the root directory still exists and is a directory.
func (s *LocalSink) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.RootDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.RootDir)
	}
	return nil
}

var _ Sink = (*LocalSink)(nil)
