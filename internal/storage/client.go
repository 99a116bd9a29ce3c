package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dunamismax/cloudmagick/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrTransient      = errors.New("object store unavailable")
)

// TransientError wraps an object store failure that a caller may retry.
type TransientError struct {
	Op  string
	Key string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

type Client struct {
	minio  *minio.Client
	bucket string
}

func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	return &Client{
		minio:  mc,
		bucket: cfg.Bucket,
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := c.minio.BucketExists(ctx, c.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}

	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.minio.BucketExists(ctx, c.bucket); err != nil {
		return &TransientError{Op: "bucket exists", Key: c.bucket, Err: err}
	}
	return nil
}

// Fetch reads the object stored under key along with its content type and
// modification time. A missing object yields ErrObjectNotFound; any other
// failure is a *TransientError.
func (c *Client) Fetch(ctx context.Context, key string) (domain.Blob, error) {
	obj, err := c.minio.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return domain.Blob{}, classify("get object", key, err)
	}
	defer obj.Close()

	// GetObject is lazy; Stat performs the request and surfaces NoSuchKey.
	info, err := obj.Stat()
	if err != nil {
		return domain.Blob{}, classify("stat object", key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return domain.Blob{}, classify("read object", key, err)
	}

	return domain.Blob{
		Data:         data,
		ContentType:  info.ContentType,
		LastModified: info.LastModified.UTC(),
	}, nil
}

func (c *Client) Store(ctx context.Context, key string, blob domain.Blob, cacheControl string) error {
	_, err := c.minio.PutObject(
		ctx,
		c.bucket,
		key,
		bytes.NewReader(blob.Data),
		int64(len(blob.Data)),
		minio.PutObjectOptions{
			ContentType:  blob.ContentType,
			CacheControl: cacheControl,
		},
	)
	if err != nil {
		return &TransientError{Op: "put object", Key: key, Err: err}
	}
	return nil
}

func (c *Client) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := c.minio.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	if err := classify("stat object", key, err); !errors.Is(err, ErrObjectNotFound) {
		return false, err
	}
	return false, nil
}

func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, key, ErrObjectNotFound)
	}
	return &TransientError{Op: op, Key: key, Err: err}
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return true
	default:
		return false
	}
}
