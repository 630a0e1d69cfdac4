package store

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// DiskStore reads and writes files below a local directory.
type DiskStore struct {
	rootDir string
}

var (
	_ Source = (*DiskStore)(nil)
	_ Store  = (*DiskStore)(nil)
)

func NewDiskStore(rootDir string) *DiskStore {
	return &DiskStore{rootDir: rootDir}
}

func (d *DiskStore) Refresh() error {
	return nil
}

func (d *DiskStore) Store(ref string) (Store, error) {
	if ref != "" {
		return nil, fmt.Errorf("%w: local directories are not versioned (ref %q)", ErrNoSuchRef, ref)
	}
	return d, nil
}

// localPath maps a store path to a file system path below the root.
func (d *DiskStore) localPath(p string) (string, error) {
	full := filepath.Join(d.rootDir, filepath.FromSlash(p))
	rel, err := filepath.Rel(d.rootDir, full)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", p, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside of %s", p, d.rootDir)
	}
	return full, nil
}

// ListFiles walks dir. Hidden directories such as .git are not entered.
func (d *DiskStore) ListFiles(ctx context.Context, dir string) ([]string, error) {
	start, err := d.localPath(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(start, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			if p != start && strings.HasPrefix(e.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(d.rootDir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (d *DiskStore) ReadFile(ctx context.Context, p string) ([]byte, error) {
	full, err := d.localPath(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (d *DiskStore) FileSize(ctx context.Context, p string) (int64, error) {
	full, err := d.localPath(p)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%s is a directory", p)
	}
	return fi.Size(), nil
}

// WriteFile replaces p atomically, creating parent directories as needed.
func (d *DiskStore) WriteFile(ctx context.Context, p string, contents []byte) error {
	full, err := d.localPath(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	return atomic.WriteFile(full, bytes.NewReader(contents))
}
