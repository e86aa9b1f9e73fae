package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
	supabase "github.com/supabase-community/supabase-go"
)

// Bucket stores picture objects under the keys the signer later exposes.
// Put streams size bytes from body.
type Bucket interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

type storageClient interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	RemoveFile(bucketID string, paths []string) ([]storage_go.FileUploadResponse, error)
}

type SupabaseBucket struct {
	storage storageClient
	bucket  string
}

func NewSupabaseBucket(projectURL, serviceKey, bucket string) (*SupabaseBucket, error) {
	projectURL = strings.TrimRight(projectURL, "/")
	if projectURL == "" || serviceKey == "" || bucket == "" {
		return nil, fmt.Errorf("supabase bucket settings missing")
	}

	client, err := supabase.NewClient(projectURL, serviceKey, nil)
	if err != nil {
		return nil, err
	}

	return &SupabaseBucket{
		storage: client.Storage,
		bucket:  bucket,
	}, nil
}

func (b *SupabaseBucket) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	key = cleanKey(key)
	if key == "" {
		return fmt.Errorf("empty object key")
	}

	upsert := true
	opts := storage_go.FileOptions{Upsert: &upsert}
	if trimmedType := strings.TrimSpace(contentType); trimmedType != "" {
		opts.ContentType = &trimmedType
	}

	_, err := b.storage.UploadFile(b.bucket, key, body, opts)
	return err
}

func (b *SupabaseBucket) Delete(_ context.Context, key string) error {
	key = cleanKey(key)
	if key == "" {
		return fmt.Errorf("empty object key")
	}
	_, err := b.storage.RemoveFile(b.bucket, []string{key})
	return err
}
