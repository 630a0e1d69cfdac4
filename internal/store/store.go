// Package store gives uniform access to dataset files on local disk, in a
// git repository or in an object storage bucket.
package store

import (
	"context"
	"errors"
)

var (
	ErrReadOnly  = errors.New("store is read-only")
	ErrNoSuchRef = errors.New("no such ref")
)

// Source hands out stores for the revisions it knows about.
// Local directories and buckets only have the empty revision "".
type Source interface {
	// Refresh reloads revisions from the backing storage, e.g. by fetching
	// from a git remote.
	Refresh() error
	Store(ref string) (Store, error)
}

// Store lists, reads and writes files. All paths are slash-separated and
// relative to the store's root.
type Store interface {
	// ListFiles returns all files below dir, recursively. The returned
	// paths include dir and can be passed to ReadFile as is.
	ListFiles(ctx context.Context, dir string) ([]string, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// FileSize returns the size of path in bytes without reading it.
	FileSize(ctx context.Context, path string) (int64, error)
	// WriteFile returns ErrReadOnly for stores that cannot be written.
	WriteFile(ctx context.Context, path string, contents []byte) error
}
