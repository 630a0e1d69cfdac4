// Command geocr-inspect lists the GeoTIFF assets of a dataset directory,
// either on disk or at a revision of a git repository.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dnswlt/geocr/internal/extract"
	"github.com/dnswlt/geocr/internal/filter"
	"github.com/dnswlt/geocr/internal/gitclient"
	"github.com/dnswlt/geocr/internal/store"
)

func main() {
	var (
		url      string
		username string
		password string
		ref      string
		expr     string
		watch    time.Duration
	)

	flag.StringVar(&url, "url", "", "Repository URL; if empty, the directory is read from disk")
	flag.StringVar(&username, "user", "", "Username for authentication")
	flag.StringVar(&password, "pass", "", "Password or Token for authentication")
	flag.StringVar(&ref, "ref", "", "Reference (branch or tag) to read; defaults to the default branch")
	flag.StringVar(&expr, "filter", "", "CEL expression selecting assets")
	flag.DurationVar(&watch, "watch", 0, "If set, refresh the source and inspect again at this interval")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: geocr-inspect [flags] <dir>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	dir := flag.Arg(0)

	f, err := filter.Compile(expr)
	if err != nil {
		log.Fatalf("Invalid filter: %v", err)
	}

	var src store.Source
	if url != "" {
		var auth *gitclient.Auth
		if username != "" || password != "" {
			auth = &gitclient.Auth{
				Username: username,
				Password: password,
			}
		}
		client, err := gitclient.New(url, auth)
		if err != nil {
			log.Fatalf("Failed to clone %q: %v", url, err)
		}
		if ref == "" {
			if ref, err = client.DefaultBranch(); err != nil {
				log.Fatalf("No -ref specified and no default branch found: %v", err)
			}
		}
		gs := store.NewGitSource(client, ref)
		refs, err := gs.ListReferences()
		if err != nil {
			log.Fatalf("Failed to list references: %v", err)
		}
		fmt.Printf("Branches and tags in %s: %s\n", url, strings.Join(refs, ", "))
		fmt.Printf("Inspecting ref %s\n", gs.DefaultRef())
		src = gs
	} else {
		abs, err := filepath.Abs(dir)
		if err != nil {
			log.Fatalf("Invalid directory %q: %v", dir, err)
		}
		src = store.NewDiskStore(filepath.Dir(abs))
		dir = filepath.Base(abs)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	opts := extract.Options{
		DetectSensor: true,
		Filter:       f,
	}
	if watch <= 0 {
		res, err := inspect(ctx, src, dir, opts)
		if err != nil {
			log.Fatalf("Failed to inspect %q: %v", dir, err)
		}
		printAssets(os.Stdout, res)
		return
	}

	ticker := time.NewTicker(watch)
	defer ticker.Stop()
	for {
		if err := src.Refresh(); err != nil {
			log.Printf("Failed to refresh source: %v", err)
		} else if res, err := inspect(ctx, src, dir, opts); err != nil {
			log.Printf("Failed to inspect %q: %v", dir, err)
		} else {
			printAssets(os.Stdout, res)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// inspect extracts dir from the source's default revision.
func inspect(ctx context.Context, src store.Source, dir string, opts extract.Options) (*extract.Result, error) {
	st, err := src.Store("")
	if err != nil {
		return nil, err
	}
	return extract.Extract(ctx, st, dir, opts)
}

func printAssets(w io.Writer, res *extract.Result) {
	fmt.Fprintf(w, "\nAssets in %q:\n", res.Dir)
	for _, a := range res.Assets {
		crs := a.CRS
		if crs == "" {
			crs = "-"
		}
		fmt.Fprintf(w, "  %-60s %-10s %-6s %5dx%-5d %2d x %-8s %s\n",
			a.RelPath, a.Split, a.Kind, a.Width, a.Height, a.Count, a.DataType, crs)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  %-60s (unreadable)\n", s)
	}
	if b := res.BBox; b != nil {
		fmt.Fprintf(w, "\nExtent (W S E N): %.6f %.6f %.6f %.6f\n", b[0], b[1], b[2], b[3])
	}
	if !res.Start.IsZero() {
		fmt.Fprintf(w, "Dates: %s to %s\n", res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"))
	}
}
