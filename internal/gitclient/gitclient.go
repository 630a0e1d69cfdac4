package gitclient

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Auth holds Basic Auth credentials.
// For token-based access (GitHub, Bitbucket Cloud), use any non-empty
// Username and the token as Password.
type Auth struct {
	Username string
	Password string // or Token
}

// Client holds a clone of a dataset repository in memory.
// Only the object database is kept, no worktree is checked out, so
// large raster files are never inflated on disk.
type Client struct {
	url  string
	auth *Auth

	mu   sync.Mutex
	repo *git.Repository
}

func (a *Auth) basicAuth() *http.BasicAuth {
	if a == nil {
		return nil
	}
	return &http.BasicAuth{
		Username: a.Username,
		Password: a.Password,
	}
}

// New clones the repository at url into memory.
func New(url string, auth *Auth) (*Client, error) {
	cloneOpts := &git.CloneOptions{
		URL:        url,
		NoCheckout: true,
		Depth:      0, // Full history, refs may point to old revisions.
	}
	if ba := auth.basicAuth(); ba != nil {
		cloneOpts.Auth = ba
	}

	repo, err := git.Clone(memory.NewStorage(), nil, cloneOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", url, err)
	}

	return &Client{url: url, auth: auth, repo: repo}, nil
}

// Update fetches new objects and refs from the remote.
func (c *Client) Update() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := &git.FetchOptions{
		RefSpecs: []config.RefSpec{"+refs/heads/*:refs/remotes/origin/*", "+refs/tags/*:refs/tags/*"},
		Force:    true,
	}
	if ba := c.auth.basicAuth(); ba != nil {
		opts.Auth = ba
	}
	err := c.repo.Fetch(opts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch failed: %w", err)
	}
	return nil
}

// DefaultBranch returns the short name of the branch HEAD points to.
func (c *Client) DefaultBranch() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	head, err := c.repo.Head()
	if err != nil {
		return "", fmt.Errorf("cannot resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is not a branch: %s", head.Name())
	}
	return head.Name().Short(), nil
}

// ListReferences returns the short names of all branches and tags.
// Remote branches are returned without their remote prefix.
func (c *Client) ListReferences() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	refMap := make(map[string]bool)

	refs, err := c.repo.References()
	if err != nil {
		return nil, err
	}

	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		if name.IsTag() || name.IsBranch() {
			refMap[name.Short()] = true
		} else if name.IsRemote() {
			// e.g. refs/remotes/origin/main -> "main"
			short := name.Short()
			if slashIdx := strings.Index(short, "/"); slashIdx != -1 {
				refMap[short[slashIdx+1:]] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var references []string
	for v := range refMap {
		references = append(references, v)
	}
	return references, nil
}

func (c *Client) resolveRevision(revision string) (*plumbing.Hash, error) {
	hash, err := c.repo.ResolveRevision(plumbing.Revision(revision))
	if err == nil {
		return hash, nil
	}

	// Clones only have remote branches for anything but the default branch.
	if !strings.HasPrefix(revision, "refs/") {
		if hash, err := c.repo.ResolveRevision(plumbing.Revision("origin/" + revision)); err == nil {
			return hash, nil
		}
	}

	return nil, fmt.Errorf("revision %q not found: %w", revision, err)
}

func (c *Client) tree(revision string) (*object.Tree, error) {
	hash, err := c.resolveRevision(revision)
	if err != nil {
		return nil, err
	}
	commit, err := c.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("commit lookup failed: %w", err)
	}
	return commit.Tree()
}

// ReadFile returns the contents of filePath at the given revision.
func (c *Client) ReadFile(revision, filePath string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tree, err := c.tree(revision)
	if err != nil {
		return nil, err
	}

	file, err := tree.File(filePath)
	if err != nil {
		return nil, err // object.ErrFileNotFound if missing
	}

	reader, err := file.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// FileSize returns the size in bytes of filePath at the given revision.
func (c *Client) FileSize(revision, filePath string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tree, err := c.tree(revision)
	if err != nil {
		return 0, err
	}
	file, err := tree.File(filePath)
	if err != nil {
		return 0, err
	}
	return file.Size, nil
}

// ListFilesRecursive lists all files below dirPath at the given revision.
// The returned paths are relative to dirPath.
func (c *Client) ListFilesRecursive(revision, dirPath string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rootTree, err := c.tree(revision)
	if err != nil {
		return nil, err
	}

	targetTree := rootTree
	if dirPath != "" && dirPath != "." && dirPath != "/" {
		targetTree, err = rootTree.Tree(dirPath)
		if err != nil {
			return nil, fmt.Errorf("directory %q not found or invalid: %w", dirPath, err)
		}
	}

	var filePaths []string
	filesIter := targetTree.Files()
	defer filesIter.Close()

	err = filesIter.ForEach(func(f *object.File) error {
		filePaths = append(filePaths, f.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iteration failed: %w", err)
	}

	return filePaths, nil
}
