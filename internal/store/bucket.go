package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// BucketStore is a Store backed by a gocloud.dev/blob.Bucket, so assets can
// be scanned directly from object storage (s3://, file://, mem://, ...).
type BucketStore struct {
	bucket *blob.Bucket
}

var _ Store = (*BucketStore)(nil)

// OpenBucketStore opens the bucket identified by uri.
// Callers must Close the returned store.
func OpenBucketStore(ctx context.Context, uri string) (*BucketStore, error) {
	b, err := blob.OpenBucket(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", uri, err)
	}
	return &BucketStore{bucket: b}, nil
}

// NewBucketStore wraps an open bucket. The caller retains ownership of b.
func NewBucketStore(b *blob.Bucket) *BucketStore {
	return &BucketStore{bucket: b}
}

func (s *BucketStore) Close() error {
	return s.bucket.Close()
}

func bucketPrefix(dir string) string {
	dir = strings.Trim(path.Clean("/"+dir), "/")
	if dir == "" {
		return ""
	}
	return dir + "/"
}

// ListFiles walks the bucket one "directory" level at a time.
func (s *BucketStore) ListFiles(ctx context.Context, dir string) ([]string, error) {
	var files []string

	var list func(prefix string) error
	list = func(prefix string) error {
		iter := s.bucket.List(&blob.ListOptions{
			Delimiter: "/",
			Prefix:    prefix,
		})
		for {
			obj, err := iter.Next(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if obj.IsDir {
				if err := list(obj.Key); err != nil {
					return err
				}
				continue
			}
			files = append(files, obj.Key)
		}
	}

	if err := list(bucketPrefix(dir)); err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", dir, err)
	}
	return files, nil
}

func (s *BucketStore) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return s.bucket.ReadAll(ctx, path)
}

func (s *BucketStore) FileSize(ctx context.Context, path string) (int64, error) {
	attrs, err := s.bucket.Attributes(ctx, path)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

func (s *BucketStore) WriteFile(ctx context.Context, path string, contents []byte) error {
	return s.bucket.WriteAll(ctx, path, contents, nil)
}
