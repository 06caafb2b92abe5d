package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrPreconditionFailed reports a conditional write that lost a race with
// another writer.
var ErrPreconditionFailed = errors.New("object precondition failed")

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// IsGCSURI reports whether uri uses the gs:// scheme.
func IsGCSURI(uri string) bool {
	return strings.HasPrefix(uri, "gs://")
}

// ParseGCSURI splits gs://bucket/object into its bucket and object names.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !IsGCSURI(uri) {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(uri, "gs://"), "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// URI must name a bucket and an object: %q", uri)
	}
	return bucket, object, nil
}

// GCSStore moves gradesheets and record stores in and out of Cloud Storage.
// Missing objects are reported as fs.ErrNotExist.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a Cloud Storage client with default credentials.
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) object(uri string) (*storage.ObjectHandle, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(bucket).Object(object), nil
}

// Download streams the object at uri into destPath.
func (s *GCSStore) Download(ctx context.Context, uri, destPath string) error {
	obj, err := s.object(uri)
	if err != nil {
		return err
	}
	gcsReader, err := obj.NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for %s: %w", uri, mapNotExist(err))
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

// Read returns the object's content and the generation it was read at.
func (s *GCSStore) Read(ctx context.Context, uri string) ([]byte, int64, error) {
	obj, err := s.object(uri)
	if err != nil {
		return nil, 0, err
	}
	gcsReader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get GCS object reader for %s: %w", uri, mapNotExist(err))
	}
	defer gcsReader.Close()
	content, err := io.ReadAll(gcsReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read GCS object %s: %w", uri, err)
	}
	return content, gcsReader.Attrs.Generation, nil
}

// Write replaces the object at uri. With generation > 0 the write only
// succeeds if the object is still at that generation; generation 0 requires
// that the object does not exist yet; a negative generation writes
// unconditionally.
func (s *GCSStore) Write(ctx context.Context, uri string, content []byte, generation int64) error {
	obj, err := s.object(uri)
	if err != nil {
		return err
	}
	switch {
	case generation > 0:
		obj = obj.If(storage.Conditions{GenerationMatch: generation})
	case generation == 0:
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}

	writer := obj.NewWriter(ctx)
	writer.ContentType = "text/javascript; charset=utf-8"
	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", mapPrecondition(err))
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS write: %w", mapPrecondition(err))
	}
	return nil
}

func mapNotExist(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
	}
	return err
}

func mapPrecondition(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: %v", ErrPreconditionFailed, err)
	}
	return err
}
