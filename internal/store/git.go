package store

import (
	"context"
	"fmt"
	"path"
	"slices"

	"github.com/dnswlt/geocr/internal/gitclient"
)

// GitSource serves the branches and tags of a cloned repository.
// Stores obtained from it are read-only.
type GitSource struct {
	client     *gitclient.Client
	defaultRef string
	refs       []string // sorted; nil until first listed
}

var _ Source = (*GitSource)(nil)

func NewGitSource(client *gitclient.Client, defaultRef string) *GitSource {
	return &GitSource{
		client:     client,
		defaultRef: defaultRef,
	}
}

// DefaultRef is the ref used for Store("").
func (g *GitSource) DefaultRef() string {
	return g.defaultRef
}

func (g *GitSource) Refresh() error {
	g.refs = nil
	return g.client.Update()
}

func (g *GitSource) ListReferences() ([]string, error) {
	if g.refs == nil {
		refs, err := g.client.ListReferences()
		if err != nil {
			return nil, err
		}
		slices.Sort(refs)
		g.refs = refs
	}
	return g.refs, nil
}

func (g *GitSource) Store(ref string) (Store, error) {
	if ref == "" {
		ref = g.defaultRef
	}
	refs, err := g.ListReferences()
	if err != nil {
		return nil, fmt.Errorf("cannot list references: %v", err)
	}
	if _, found := slices.BinarySearch(refs, ref); !found {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchRef, ref)
	}
	return &gitStore{client: g.client, ref: ref}, nil
}

// gitStore reads files at one revision.
type gitStore struct {
	client *gitclient.Client
	ref    string
}

var _ Store = (*gitStore)(nil)

func (g *gitStore) ListFiles(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := g.client.ListFilesRecursive(g.ref, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %q at %s: %v", dir, g.ref, err)
	}
	files := make([]string, len(names))
	for i, n := range names {
		files[i] = path.Join(dir, n)
	}
	return files, nil
}

func (g *gitStore) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.client.ReadFile(g.ref, p)
}

func (g *gitStore) FileSize(ctx context.Context, p string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return g.client.FileSize(g.ref, p)
}

func (g *gitStore) WriteFile(ctx context.Context, p string, contents []byte) error {
	return ErrReadOnly
}
