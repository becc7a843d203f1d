package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/keboola/platform-libraries-sub003/internal/core"
	"github.com/keboola/platform-libraries-sub003/internal/logging"
)

var (
	_ core.ManifestWriter = (*FileWriter)(nil)
	_ core.ManifestWriter = (*ObjectWriter)(nil)
	_ ObjectStore         = (*S3Store)(nil)
)

// ErrInvalidDestination is returned for destinations that are not a plain file name.
var ErrInvalidDestination = errors.New("invalid manifest destination")

// checkDestination rejects names that would leave the manifest directory or prefix.
func checkDestination(destination string) error {
	if destination == "" || destination == "." || strings.Contains(destination, "..") ||
		strings.ContainsAny(destination, `/\`) || filepath.Base(destination) != destination {
		return fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}
	return nil
}

// FileWriter writes manifests to {dir}/{destination}.manifest.
type FileWriter struct {
	dir     string
	format  Format
	uriBase string
}

// NewFileWriter creates the directory if needed.
func NewFileWriter(dir string, format Format, uriBase string) (*FileWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("manifest directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}
	return &FileWriter{dir: dir, format: format, uriBase: uriBase}, nil
}

// Path returns the manifest path for a destination table. The path always
// lies directly inside the writer's directory.
func (w *FileWriter) Path(destination string) (string, error) {
	if err := checkDestination(destination); err != nil {
		return "", err
	}
	target := filepath.Join(w.dir, destination+FileSuffix)
	if filepath.Dir(target) != filepath.Clean(w.dir) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}
	return target, nil
}

// WriteManifest writes the manifest through a temp file and rename so readers
// never see a partial document.
func (w *FileWriter) WriteManifest(ctx context.Context, res core.StagingResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := w.Path(res.Destination)
	if err != nil {
		return err
	}
	data, err := Encode(FromResult(res, w.uriBase), w.format)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(w.dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}

	logging.FromContext(ctx).Debug("manifest written", "destination", res.Destination, "path", target)
	return nil
}

// ObjectStore is the subset of an object store the ObjectWriter needs.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// ObjectWriter writes manifests to {prefix}/{destination}.manifest in a bucket.
type ObjectWriter struct {
	store   ObjectStore
	bucket  string
	prefix  string
	format  Format
	uriBase string
}

// NewObjectWriter creates an ObjectWriter.
func NewObjectWriter(store ObjectStore, bucket, prefix string, format Format, uriBase string) *ObjectWriter {
	return &ObjectWriter{store: store, bucket: bucket, prefix: prefix, format: format, uriBase: uriBase}
}

// Key returns the object key for a destination table.
func (w *ObjectWriter) Key(destination string) (string, error) {
	if err := checkDestination(destination); err != nil {
		return "", err
	}
	return path.Join(w.prefix, destination+FileSuffix), nil
}

// WriteManifest uploads the manifest of res.
func (w *ObjectWriter) WriteManifest(ctx context.Context, res core.StagingResult) error {
	key, err := w.Key(res.Destination)
	if err != nil {
		return err
	}
	data, err := Encode(FromResult(res, w.uriBase), w.format)
	if err != nil {
		return err
	}
	contentType := "application/json"
	if w.format == FormatYAML {
		contentType = "application/yaml"
	}
	if err := w.store.PutObject(ctx, w.bucket, key, data, contentType); err != nil {
		return fmt.Errorf("upload manifest %s: %w", key, err)
	}
	logging.FromContext(ctx).Debug("manifest uploaded", "destination", res.Destination, "bucket", w.bucket, "key", key)
	return nil
}
