package server

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// objectStore wraps the S3-compatible client with the two operations the
// rest of the backend needs: put an object and get back a durable URL,
// and delete an object by key.
type objectStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

func newObjectStore(client *minio.Client, bucket, publicBaseURL string) *objectStore {
	return &objectStore{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// objectKey derives the storage key for a file. Files are namespaced under
// the owner's username so unrelated users cannot clobber each other's names.
func (s *objectStore) objectKey(username, fileName string) string {
	if username == "" {
		return fileName
	}
	return username + "/" + fileName
}

// timestampName produces a YYYYMMDD-HHMMSS name keeping the original
// extension, used when the caller supplies no custom name.
func timestampName(originalName string) string {
	return time.Now().Format("20060102-150405") + path.Ext(originalName)
}

// Put streams an object to durable storage and returns the URL clients can
// fetch it from. When no public base URL is configured, a 24h presigned
// URL is issued instead.
func (s *objectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", key, err)
	}

	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("presign object %q: %w", key, err)
	}
	return u.String(), nil
}

// Remove deletes an object by key. Accepts a full URL for compatibility
// with records that stored the public URL instead of the raw key.
func (s *objectStore) Remove(ctx context.Context, key string) error {
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		if s.publicBaseURL != "" && strings.HasPrefix(key, s.publicBaseURL+"/") {
			key = strings.TrimPrefix(key, s.publicBaseURL+"/")
		} else {
			key = key[strings.LastIndex(key, "/")+1:]
		}
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %q: %w", key, err)
	}
	return nil
}
