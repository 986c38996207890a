package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/meigma/zipstore"
	"github.com/meigma/zipstore/cache"
	"github.com/meigma/zipstore/cache/disk"
	zhttp "github.com/meigma/zipstore/http"
	"github.com/meigma/zipstore/store"
)

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	verbose    bool
	headers    []string
	cfg        Config
	logger     *slog.Logger
}

// newRootCommand builds the zipstore command tree.
func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "zipstore",
		Short: "Read members of remote ZIP archives with HTTP range requests",
		Long: `zipstore lists and reads the members of a ZIP archive served over HTTP
without downloading it. Only the tail of the archive and the requested
byte ranges are fetched. Local paths are read the same way.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	flags.Int64Var(&a.cfg.TailSize, "tail-size", zipstore.DefaultTailSize, "Bytes fetched from the end of the archive")
	flags.StringVar(&a.cfg.Root, "root", "", "Directory of the archive to scope paths to")
	flags.BoolVar(&a.cfg.Strict, "strict", false, "Verify each member's local header before reading")
	flags.StringVar(&a.cfg.CacheDir, "cache-dir", "", "Directory for the block cache (disabled when empty)")
	flags.Int64Var(&a.cfg.CacheMaxBytes, "cache-max-bytes", 0, "Block cache size limit (0 = unlimited)")
	flags.Int64Var(&a.cfg.BlockSize, "block-size", cache.DefaultBlockSize, "Block cache block size")
	flags.StringArrayVarP(&a.headers, "header", "H", nil, `Extra request header "Name: value" (repeatable)`)
	flags.IntVar(&a.cfg.Retries, "retries", 0, "Retries for failed range requests")
	flags.DurationVar(&a.cfg.Timeout, "timeout", 0, "Per-request timeout (0 = none)")
	flags.IntVar(&a.cfg.Concurrency, "concurrency", store.DefaultConcurrency, "Concurrent range requests")

	rootCmd.AddCommand(
		newLsCommand(a),
		newStatCommand(a),
		newCatCommand(a),
		newTreeCommand(a),
		newVerifyCommand(a),
		newPackCommand(a),
	)
	return rootCmd
}

// setup loads the config file, applies flag overrides, and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	fileCfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = mergeConfig(fileCfg, a.cfg, func(name string) bool {
		return cmd.Flags().Changed(name)
	})

	for _, h := range a.headers {
		name, value, err := parseHeader(h)
		if err != nil {
			return err
		}
		if a.cfg.Headers == nil {
			a.cfg.Headers = make(map[string]string)
		}
		a.cfg.Headers[name] = value
	}
	return a.cfg.validate()
}

// mergeConfig returns file settings with every explicitly set flag applied
// on top. Flag defaults fill settings the file leaves empty.
func mergeConfig(file, flags Config, changed func(string) bool) Config {
	out := file
	pick := func(name string, isZero bool, apply func()) {
		if changed(name) || isZero {
			apply()
		}
	}
	pick("tail-size", out.TailSize == 0, func() { out.TailSize = flags.TailSize })
	pick("root", out.Root == "", func() { out.Root = flags.Root })
	pick("strict", !out.Strict, func() { out.Strict = flags.Strict })
	pick("cache-dir", out.CacheDir == "", func() { out.CacheDir = flags.CacheDir })
	pick("cache-max-bytes", out.CacheMaxBytes == 0, func() { out.CacheMaxBytes = flags.CacheMaxBytes })
	pick("block-size", out.BlockSize == 0, func() { out.BlockSize = flags.BlockSize })
	pick("retries", out.Retries == 0, func() { out.Retries = flags.Retries })
	pick("timeout", out.Timeout == 0, func() { out.Timeout = flags.Timeout })
	pick("concurrency", out.Concurrency == 0, func() { out.Concurrency = flags.Concurrency })
	return out
}

// openStore opens the archive at location with the configured options.
func (a *app) openStore(ctx context.Context, location string) (*store.Store, error) {
	archiveOpts := []zipstore.Option{zipstore.WithTailSize(a.cfg.TailSize)}
	if a.cfg.Strict {
		archiveOpts = append(archiveOpts, zipstore.WithStrictHeaders())
	}

	httpOpts := []zhttp.Option{zhttp.WithRetry(a.cfg.Retries)}
	if h := a.cfg.httpHeaders(); h != nil {
		httpOpts = append(httpOpts, zhttp.WithHeaders(h))
	}
	if a.cfg.Timeout > 0 {
		httpOpts = append(httpOpts, zhttp.WithClient(&http.Client{Timeout: a.cfg.Timeout}))
	}

	opts := []store.Option{
		store.WithLogger(a.logger),
		store.WithRoot(a.cfg.Root),
		store.WithConcurrency(a.cfg.Concurrency),
		store.WithArchiveOptions(archiveOpts...),
		store.WithHTTPOptions(httpOpts...),
	}
	if a.cfg.CacheDir != "" {
		blocks, err := disk.New(a.cfg.CacheDir, disk.WithMaxBytes(a.cfg.CacheMaxBytes))
		if err != nil {
			return nil, fmt.Errorf("open block cache: %w", err)
		}
		opts = append(opts, store.WithBlockCache(blocks, cache.WithBlockSize(a.cfg.BlockSize)))
	}
	return store.Open(ctx, location, opts...)
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
