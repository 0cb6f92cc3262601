package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ============================================================================
// OBJECT STORE — s3://bucket/key dataset locations
// ============================================================================

// ObjectFetcher downloads one object.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// ObjectStoreOptions configures NewObjectStore.
type ObjectStoreOptions struct {
	Endpoint  string // host:port or URL
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
}

// ObjectStore fetches dataset files from S3-compatible storage.
type ObjectStore struct {
	client *minio.Client
}

// NewObjectStore creates a minio-go client.
func NewObjectStore(opts ObjectStoreOptions) (*ObjectStore, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("object store endpoint is required")
	}

	endpoint := opts.Endpoint
	secure := opts.Secure
	if u, err := url.Parse(opts.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			secure = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &ObjectStore{client: client}, nil
}

// Fetch implements ObjectFetcher.
func (s *ObjectStore) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyObjectError(bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyObjectError(bucket, key, err)
	}
	return data, nil
}

func classifyObjectError(bucket, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchBucket", "NoSuchKey":
		return fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, bucket, key)
	}
	return fmt.Errorf("fetch s3://%s/%s: %w", bucket, key, err)
}

// ParseObjectLocation splits "s3://bucket/key". ok is false for plain paths.
func ParseObjectLocation(location string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(location, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
