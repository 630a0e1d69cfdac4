package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dnswlt/geocr"
	"github.com/dnswlt/geocr/internal/config"
	"github.com/dnswlt/geocr/internal/croissant"
	"github.com/dnswlt/geocr/internal/datacard"
	"github.com/dnswlt/geocr/internal/extract"
	"github.com/dnswlt/geocr/internal/generator"
	"github.com/dnswlt/geocr/internal/gitclient"
	"github.com/dnswlt/geocr/internal/output"
	"github.com/dnswlt/geocr/internal/store"
	"github.com/peterbourgon/ff/v3"
	"github.com/tidwall/gjson"
)

var (
	// Version is the application version.
	// It is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
)

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitConfig     = 2
	exitExtraction = 3
)

// DefaultOutputFile is written into local asset directories if no output
// is configured.
const DefaultOutputFile = "geocroissant.json"

// Options contains program options that can be set via command-line flags or environment variables.
type Options struct {
	ConfigFile string
	Output     string
	GitURL     string
	GitRef     string
	NoStats    bool
	Cache      bool
	ReuseCache bool
	Strict     bool
	Filter     string
	Indent     int
	Version    bool
}

func gitClientAuthFromEnv() *gitclient.Auth {
	user := os.Getenv("GEOCR_GIT_USER")
	if user == "" {
		return nil
	}
	return &gitclient.Auth{
		Username: user,
		Password: os.Getenv("GEOCR_GIT_PASSWORD"),
	}
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "validate":
			return runValidate(args[1:], stderr)
		case "card":
			return runCard(ctx, args[1:], stdout, stderr)
		}
	}
	return runGenerate(ctx, args, stdout, stderr)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrInvalidConfig):
		return exitConfig
	case errors.Is(err, extract.ErrExtraction):
		return exitExtraction
	}
	return exitFailure
}

// parseInterspersed parses flags that may appear before and after a single
// positional argument.
func parseInterspersed(fs *flag.FlagSet, args []string) (string, error) {
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("GEOCR")); err != nil {
		return "", err
	}
	if fs.NArg() == 0 {
		return "", nil
	}
	positional := fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return "", err
	}
	if fs.NArg() > 0 {
		return "", fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return positional, nil
}

func runGenerate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts Options
	fs := flag.NewFlagSet("geocr-generate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: geocr-generate [flags] [asset_directory]\n"+
			"       geocr-generate validate <record.json>\n"+
			"       geocr-generate card -record <record.json> [-out <card.html>]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.ConfigFile, "config", "", "Path to the YAML configuration file (relative to the git root if -git-url is set)")
	fs.StringVar(&opts.Output, "output", "", "Output file or bucket URL; - for stdout. Defaults to output.path, else <asset_directory>/"+DefaultOutputFile)
	fs.StringVar(&opts.GitURL, "git-url", "", "URL of a git repository holding the assets")
	fs.StringVar(&opts.GitRef, "git-ref", "", "Git ref (branch or tag) to read; defaults to the default branch")
	fs.BoolVar(&opts.NoStats, "no-stats", false, "Do not compute band statistics")
	fs.BoolVar(&opts.Cache, "cache", false, "Save extracted metadata to "+extract.CacheFile+" in the asset directory")
	fs.BoolVar(&opts.ReuseCache, "reuse-cache", false, "Skip extraction if "+extract.CacheFile+" exists and its assets are unchanged")
	fs.BoolVar(&opts.Strict, "strict", false, "Fail if any asset cannot be read")
	fs.StringVar(&opts.Filter, "filter", "", "CEL expression selecting assets, e.g. 'asset.split == \"training\"'")
	fs.IntVar(&opts.Indent, "indent", 2, "JSON indentation; 0 for compact output")
	fs.BoolVar(&opts.Version, "version", false, "Print the version and exit")

	assetDir, err := parseInterspersed(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Flag error: %v\n", err)
		return exitConfig
	}
	if opts.Version {
		fmt.Fprintf(stdout, "geocr-generate %s\n", Version)
		return exitOK
	}

	err = generate(ctx, fs, opts, assetDir, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func generate(ctx context.Context, fs *flag.FlagSet, opts Options, assetDir string, stdout, summary io.Writer) error {
	src, err := openSource(opts)
	if err != nil {
		return err
	}
	defer src.close()

	cfg, err := loadConfig(ctx, src, opts.ConfigFile)
	if err != nil {
		return err
	}
	applyFlags(fs, opts, cfg)
	if assetDir == "" {
		assetDir = cfg.AssetDir
	}

	var genOpts []generator.Option
	if assetDir != "" {
		o, err := src.assets(ctx, assetDir)
		if err != nil {
			return err
		}
		genOpts = append(genOpts, o)
	}
	res, err := generator.New(cfg, genOpts...).Generate(ctx)
	if err != nil {
		return err
	}
	data, err := geocr.Marshal(res.Record, cfg)
	if err != nil {
		return err
	}

	dest := opts.Output
	if dest == "" {
		dest = cfg.Output.Path
	}
	if dest == "" && src.local() && assetDir != "" && !output.IsBucketURL(assetDir) {
		dest = filepath.Join(assetDir, DefaultOutputFile)
	}
	if err := output.New(output.WithStdout(stdout)).Write(ctx, dest, data); err != nil {
		return err
	}
	if dest != "" && dest != output.Stdout {
		log.Printf("GeoCroissant metadata written to %s", dest)
	}
	printSummary(summary, data)
	return nil
}

// applyFlags overrides configuration values with explicitly set flags.
func applyFlags(fs *flag.FlagSet, opts Options, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "no-stats":
			cfg.Extraction.ComputeStatistics = !opts.NoStats
		case "cache":
			cfg.Output.SaveMetadataCache = opts.Cache
		case "reuse-cache":
			cfg.Output.ReuseMetadataCache = opts.ReuseCache
		case "strict":
			cfg.Extraction.Strict = opts.Strict
		case "filter":
			cfg.Extraction.Filter = opts.Filter
		case "indent":
			cfg.Output.Indent = opts.Indent
		}
	})
}

// source is where configuration and assets are read from.
type source struct {
	gitURL string
	git    store.Store
	bucket *store.BucketStore
}

func (s *source) local() bool {
	return s.git == nil
}

func (s *source) close() {
	if s.bucket != nil {
		s.bucket.Close()
	}
}

func openSource(opts Options) (*source, error) {
	if opts.GitURL == "" {
		return &source{}, nil
	}
	log.Printf("Retrieving assets from git URL %s", opts.GitURL)
	client, err := gitclient.New(opts.GitURL, gitClientAuthFromEnv())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to retrieve git repo: %v", extract.ErrExtraction, err)
	}
	ref := opts.GitRef
	if ref == "" {
		ref, err = client.DefaultBranch()
		if err != nil {
			return nil, fmt.Errorf("no -git-ref specified and no default branch found: %w", err)
		}
	}
	log.Printf("Using git ref %q", ref)
	st, err := store.NewGitSource(client, ref).Store(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", extract.ErrExtraction, err)
	}
	return &source{gitURL: opts.GitURL, git: st}, nil
}

func loadConfig(ctx context.Context, src *source, file string) (*config.Config, error) {
	switch {
	case file == "":
		return config.Default(), nil
	case src.git != nil:
		return config.Load(ctx, src.git, file)
	}
	return config.LoadFile(ctx, file)
}

// assets returns the generator option that scans dir. Bucket URLs are
// opened as bucket stores, git sources read dir from the repository.
func (s *source) assets(ctx context.Context, dir string) (generator.Option, error) {
	if s.git != nil {
		return func(g *generator.Generator) {
			generator.WithAssets(s.git, dir)(g)
			generator.WithLocation(s.gitURL, "git_repository")(g)
		}, nil
	}
	if !output.IsBucketURL(dir) {
		return geocr.LocalAssets(dir), nil
	}
	u, err := url.Parse(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid asset URL %q: %v", config.ErrInvalidConfig, dir, err)
	}
	prefix := strings.Trim(path.Clean("/"+u.Path), "/")
	location := strings.TrimSuffix(dir, "/")
	u.Path, u.RawPath = "", ""
	bs, err := store.OpenBucketStore(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", extract.ErrExtraction, err)
	}
	s.bucket = bs
	return func(g *generator.Generator) {
		generator.WithAssets(bs, prefix)(g)
		generator.WithLocation(location, "object_storage")(g)
	}, nil
}

func printSummary(w io.Writer, data []byte) {
	kws := gjson.GetBytes(data, "keywords").Array()
	keywords := make([]string, len(kws))
	for i, k := range kws {
		keywords[i] = k.String()
	}
	fmt.Fprintf(w, "Dataset: %s\n", gjson.GetBytes(data, "name").String())
	fmt.Fprintf(w, "  distribution items: %d\n", gjson.GetBytes(data, "distribution.#").Int())
	fmt.Fprintf(w, "  record sets:        %d\n", gjson.GetBytes(data, "recordSet.#").Int())
	if len(keywords) > 0 {
		fmt.Fprintf(w, "  keywords:           %s\n", strings.Join(keywords, ", "))
	}
	if tc := gjson.GetBytes(data, "temporalCoverage"); tc.Exists() {
		fmt.Fprintf(w, "  temporal coverage:  %s\n", tc.String())
	}
	if crs := gjson.GetBytes(data, "geocr:coordinateReferenceSystem"); crs.Exists() {
		fmt.Fprintf(w, "  crs:                %s\n", crs.String())
	}
}

func runValidate(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("geocr-generate validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file, err := parseInterspersed(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil || file == "" {
		fmt.Fprintf(stderr, "Usage: geocr-generate validate <record.json>\n")
		return exitConfig
	}
	data, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	if err := croissant.ValidateJSON(data); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", file, err)
		return exitFailure
	}
	fmt.Fprintf(stderr, "%s: valid\n", file)
	return exitOK
}

func runCard(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("geocr-generate card", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var recordFile, out string
	fs.StringVar(&recordFile, "record", "", "GeoCroissant record to render")
	fs.StringVar(&out, "out", "", "Output HTML file or bucket URL; stdout if empty")
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("GEOCR")); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Flag error: %v\n", err)
		return exitConfig
	}
	if recordFile == "" {
		fmt.Fprintf(stderr, "Flag error: -record is required\n")
		return exitConfig
	}
	data, err := os.ReadFile(recordFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	rec, err := croissant.Unmarshal(data)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	var buf bytes.Buffer
	if err := datacard.Render(&buf, rec); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	if err := output.New(output.WithStdout(stdout)).Write(ctx, out, buf.Bytes()); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitOK
}
