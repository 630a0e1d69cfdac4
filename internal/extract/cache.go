package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/dnswlt/geocr/internal/store"
)

// CacheFile is the name of the extraction cache written next to the assets.
const CacheFile = "metadata_cache.json"

// SaveCache writes res as JSON to CacheFile in the scanned directory.
// Read-only stores return store.ErrReadOnly.
func SaveCache(ctx context.Context, st store.Store, res *Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata cache: %w", err)
	}
	p := path.Join(res.Dir, CacheFile)
	if err := st.WriteFile(ctx, p, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

// Fresh reports whether every asset of r still exists in st with its
// recorded size.
func (r *Result) Fresh(ctx context.Context, st store.Store) bool {
	if len(r.Assets) == 0 {
		return false
	}
	for _, a := range r.Assets {
		n, err := st.FileSize(ctx, a.Path)
		if err != nil || n != a.Size {
			return false
		}
	}
	return true
}

// LoadCache reads a result previously written by SaveCache.
func LoadCache(ctx context.Context, st store.Store, dir string) (*Result, error) {
	data, err := st.ReadFile(ctx, path.Join(dir, CacheFile))
	if err != nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("invalid metadata cache: %w", err)
	}
	return &res, nil
}
