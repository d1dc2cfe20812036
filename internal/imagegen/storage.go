package imagegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	gcsapi "google.golang.org/api/storage/v1"
)

// ObjectStore is where finished covers live permanently.
type ObjectStore interface {
	PutObject(ctx context.Context, objectPath, contentType string, data []byte) error
	PublicURL(objectPath string) string
}

type gcsObjectStore struct {
	bucketName string
	service    *gcsapi.Service
}

func NewGCSObjectStore(ctx context.Context, bucketName string) (ObjectStore, error) {
	trimmedBucket := strings.TrimSpace(bucketName)
	if trimmedBucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	service, err := gcsapi.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs service: %w", err)
	}

	if _, err := service.Buckets.Get(trimmedBucket).Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("read gcs bucket attrs: %w", err)
	}

	return &gcsObjectStore{bucketName: trimmedBucket, service: service}, nil
}

func (s *gcsObjectStore) PutObject(ctx context.Context, objectPath, contentType string, data []byte) error {
	cleanPath := strings.Trim(strings.TrimSpace(objectPath), "/")
	if cleanPath == "" {
		return errors.New("object path is required")
	}

	trimmedType := strings.TrimSpace(contentType)
	if trimmedType == "" {
		trimmedType = "application/octet-stream"
	}

	object := &gcsapi.Object{
		Name:        cleanPath,
		ContentType: trimmedType,
	}

	if _, err := s.service.Objects.Insert(s.bucketName, object).Media(bytes.NewReader(data)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("write gcs object %q: %w", cleanPath, err)
	}
	return nil
}

func (s *gcsObjectStore) PublicURL(objectPath string) string {
	cleanPath := strings.Trim(strings.TrimSpace(objectPath), "/")
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, cleanPath)
}
