// Package output writes generated documents to stdout, local files or
// object storage buckets.
package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// Stdout is the destination that selects standard output.
const Stdout = "-"

type Writer struct {
	stdout io.Writer
	bucket *blob.Bucket
}

type Option func(*Writer)

// WithStdout replaces os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(o *Writer) {
		o.stdout = w
	}
}

// WithBucket makes the writer use b for bucket destinations instead of
// opening the bucket named in the URL. Only the URL's path is used as key.
func WithBucket(b *blob.Bucket) Option {
	return func(o *Writer) {
		o.bucket = b
	}
}

func New(opts ...Option) *Writer {
	w := &Writer{stdout: os.Stdout}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IsBucketURL reports whether dest names an object in a bucket, e.g.
// "s3://bucket/path/record.json". Windows drive letters are not URLs.
func IsBucketURL(dest string) bool {
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	return len(u.Scheme) > 1 && u.Scheme != "file" && u.Host != ""
}

// Write stores data at dest. An empty dest or "-" writes to stdout, a
// bucket URL writes the object at the URL's path, anything else (including
// file:// URLs) is a local file that is replaced atomically.
func (w *Writer) Write(ctx context.Context, dest string, data []byte) error {
	switch {
	case dest == "" || dest == Stdout:
		_, err := w.stdout.Write(data)
		return err
	case IsBucketURL(dest):
		return w.writeBucket(ctx, dest, data)
	case strings.HasPrefix(dest, "file://"):
		u, err := url.Parse(dest)
		if err != nil {
			return fmt.Errorf("invalid output URL %q: %w", dest, err)
		}
		dest = filepath.FromSlash(u.Path)
	}
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory: %w", err)
		}
	}
	if err := atomic.WriteFile(dest, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}

// splitBucketURL splits "s3://bucket/a/b.json?region=x" into the bucket
// URL "s3://bucket?region=x" and the key "a/b.json".
func splitBucketURL(dest string) (bucketURL, key string, err error) {
	u, err := url.Parse(dest)
	if err != nil {
		return "", "", err
	}
	key = strings.TrimPrefix(path.Clean("/"+u.Path), "/")
	if key == "" {
		return "", "", fmt.Errorf("output URL %q has no object path", dest)
	}
	u.Path = ""
	u.RawPath = ""
	return u.String(), key, nil
}

func (w *Writer) writeBucket(ctx context.Context, dest string, data []byte) error {
	bucketURL, key, err := splitBucketURL(dest)
	if err != nil {
		return err
	}
	b := w.bucket
	if b == nil {
		b, err = blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
		}
		defer b.Close()
	}
	opts := &blob.WriterOptions{ContentType: "application/ld+json"}
	if err := b.WriteAll(ctx, key, data, opts); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}

// Write is shorthand for New().Write.
func Write(ctx context.Context, dest string, data []byte) error {
	return New().Write(ctx, dest, data)
}
