package gcsuploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// DefaultPrefix is the object prefix under which statements are archived.
const DefaultPrefix = "statements"

// GCSStorageService keeps raw statement files in a GCS bucket.
// It assumes Application Default Credentials are configured (gcloud auth application-default login).
type GCSStorageService struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStorageService creates a storage client for bucket.
func NewGCSStorageService(ctx context.Context, bucket string) (*GCSStorageService, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCSStorageService: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStorageService{client: client, bucket: bucket, prefix: DefaultPrefix}, nil
}

func (s *GCSStorageService) Close() error {
	return s.client.Close()
}

// objectName is <prefix>/<importID>/<filename>, with the filename reduced to its base name.
func objectName(prefix, importID, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "statement"
	}
	return path.Join(prefix, importID, base)
}

// Archive uploads content and returns its gs:// URI.
func (s *GCSStorageService) Archive(ctx context.Context, importID, filename string, content []byte) (string, error) {
	name := objectName(s.prefix, importID, filename)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.ContentType = ct
	}
	w.Metadata = map[string]string{"import_id": importID}

	if _, err := io.Copy(w, bytes.NewReader(content)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy statement to GCS writer: %w", err)
	}
	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	return "gs://" + s.bucket + "/" + name, nil
}

// Delete removes an archived object. A missing object is not an error.
func (s *GCSStorageService) Delete(ctx context.Context, uri string) error {
	bucket, name, err := parseGCSURI(uri)
	if err != nil {
		return err
	}
	err = s.client.Bucket(bucket).Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", uri, err)
	}
	return nil
}
