package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/felixge/fgprof"
	"github.com/klauspost/compress/zip"

	"github.com/meigma/zipstore"
	"github.com/meigma/zipstore/store"
)

type config struct {
	mode            string
	files           int
	fileSize        int
	dirCount        int
	pattern         string
	dataURL         string
	dataHTTPLatency time.Duration
	dataHTTPBPS     int64
	retries         int
	fgProfile       string
	duration        time.Duration
	iterations      int
	pprofAddr       string
	cpuProfile      string
	memProfile      string
	traceFile       string
	cache           string
	blockSize       int64
	tailSize        int64
	strict          bool
	rangeLen        int64
	batch           int
	readRandom      bool
	randomSeed      int64
}

//nolint:unused // sink variables prevent compiler optimizations in profiling
var (
	sinkBytes  []byte
	sinkMember zipstore.Member
	sinkCount  int
)

//nolint:gocognit,gocyclo // main function complexity is acceptable for CLI tool
func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	data, names, err := buildArchive(cfg)
	if err != nil {
		log.Fatal(err)
	}

	cacheDir, err := os.MkdirTemp("", "zipstore-profiler-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(cacheDir)

	src, cleanup, err := newSource(cfg, data, cacheDir)
	if err != nil {
		log.Fatal(err) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
	}
	defer cleanup()

	var stopFG func() error
	if cfg.fgProfile != "" {
		fgFile, fgErr := os.Create(cfg.fgProfile)
		if fgErr != nil {
			log.Fatal(fgErr)
		}
		stopFG = fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stopFG(); err != nil {
				log.Printf("fgprof stop error: %v", err)
			}
			_ = fgFile.Close()
		}()
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(context.Background(), cfg, src, names)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s ops=%d bytes=%d archive=%d elapsed=%s throughput=%.2f MB/s\n",
		cfg.mode,
		stats.ops,
		stats.bytes,
		len(data),
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
	)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

//nolint:gocognit,gocyclo,gocritic // complexity is inherent to multi-mode profiler dispatch; hugeParam acceptable for profiler
func runProfile(ctx context.Context, cfg config, src zipstore.ByteSource, names []string) (profileStats, error) {
	archiveOpts := []zipstore.Option{zipstore.WithTailSize(cfg.tailSize)}
	if cfg.strict {
		archiveOpts = append(archiveOpts, zipstore.WithStrictHeaders())
	}

	start := time.Now()
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks

	if cfg.mode == "open" {
		for shouldContinue() {
			a, err := zipstore.Open(ctx, src, archiveOpts...)
			if err != nil {
				return profileStats{}, err
			}
			sinkCount = a.Len()
			byteCount += a.TailSize()
			ops++
		}
		return profileStats{ops: ops, bytes: byteCount, elapsed: time.Since(start)}, nil
	}

	a, err := zipstore.Open(ctx, src, archiveOpts...)
	if err != nil {
		return profileStats{}, err
	}
	start = time.Now()

	switch cfg.mode {
	case "read":
		for shouldContinue() {
			content, err := a.Read(ctx, pickName(names, ops, rng, cfg.readRandom))
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
			byteCount += int64(len(content))
			ops++
		}

	case "readrange":
		for shouldContinue() {
			name := pickName(names, ops, rng, cfg.readRandom)
			off := int64(0)
			if size := int64(cfg.fileSize); size > cfg.rangeLen {
				off = rng.Int63n(size - cfg.rangeLen)
			}
			content, err := a.ReadRange(ctx, name, off, off+cfg.rangeLen)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
			byteCount += int64(len(content))
			ops++
		}

	case "readfile":
		fsys := fs.ReadFileFS(a)
		for shouldContinue() {
			content, err := fsys.ReadFile(pickName(names, ops, rng, cfg.readRandom))
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
			byteCount += int64(len(content))
			ops++
		}

	case "getmany":
		s, err := store.New(a)
		if err != nil {
			return profileStats{}, err
		}
		keys := make([]string, cfg.batch)
		for shouldContinue() {
			for i := range keys {
				keys[i] = pickName(names, ops*cfg.batch+i, rng, cfg.readRandom)
			}
			values, err := s.GetMany(ctx, keys)
			if err != nil {
				return profileStats{}, err
			}
			for _, v := range values {
				byteCount += int64(len(v))
			}
			sinkCount = len(values)
			ops++
		}

	case "lookup":
		for shouldContinue() {
			name := pickName(names, ops, rng, cfg.readRandom)
			m, ok := a.Lookup(name)
			if !ok {
				return profileStats{}, fmt.Errorf("missing member %q", name)
			}
			sinkMember = m
			ops++
		}

	case "walk":
		for shouldContinue() {
			count := 0
			err := fs.WalkDir(a, ".", func(_ string, _ fs.DirEntry, err error) error {
				count++
				return err
			})
			if err != nil {
				return profileStats{}, err
			}
			sinkCount = count
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
	}, nil
}

func parseFlags() config {
	var cfg config
	var dataHTTPBPS string
	flag.StringVar(&cfg.mode, "mode", "read", "mode: open, read, readrange, readfile, getmany, lookup, walk")
	flag.IntVar(&cfg.files, "files", 512, "number of members")
	flag.IntVar(&cfg.fileSize, "file-size", 16<<10, "member size in bytes")
	flag.IntVar(&cfg.dirCount, "dir-count", 16, "number of directories")
	flag.StringVar(&cfg.pattern, "pattern", "random", "pattern: compressible or random")
	flag.StringVar(&cfg.dataURL, "data-url", "", "HTTP archive URL (use \"local\" to serve the generated archive)")
	flag.DurationVar(&cfg.dataHTTPLatency, "data-http-latency", 0, "per-request latency for HTTP sources")
	flag.StringVar(&dataHTTPBPS, "data-http-bps", "", "bytes/sec throttle for HTTP sources (e.g. 10MBps)")
	flag.IntVar(&cfg.retries, "retries", 0, "retries for failed range requests")
	flag.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof (wall clock) profile to file")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.StringVar(&cfg.cache, "cache", "none", "block cache for HTTP sources: none or disk")
	flag.Int64Var(&cfg.blockSize, "block-size", 64<<10, "block cache block size")
	flag.Int64Var(&cfg.tailSize, "tail-size", zipstore.DefaultTailSize, "bytes fetched from the end of the archive")
	flag.BoolVar(&cfg.strict, "strict", false, "verify local headers before reading")
	flag.Int64Var(&cfg.rangeLen, "range-len", 1024, "bytes per read in readrange mode")
	flag.IntVar(&cfg.batch, "batch", 16, "keys per GetMany call in getmany mode")
	flag.BoolVar(&cfg.readRandom, "read-random", true, "randomize member selection")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	if dataHTTPBPS != "" {
		bps, err := parseBytesPerSecond(dataHTTPBPS)
		if err != nil {
			log.Fatalf("data-http-bps: %v", err)
		}
		cfg.dataHTTPBPS = bps
	}
	if cfg.batch <= 0 {
		log.Fatal("batch must be > 0")
	}
	return cfg
}

func pickName(names []string, idx int, rng *rand.Rand, random bool) string {
	if random {
		return names[rng.Intn(len(names))]
	}
	return names[idx%len(names)]
}

// buildArchive generates an archive of stored members in memory and returns
// it with the member names.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func buildArchive(cfg config) ([]byte, []string, error) {
	if cfg.files <= 0 {
		return nil, nil, errors.New("files must be > 0")
	}
	dirCount := max(cfg.dirCount, 1)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, cfg.files)
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional use for reproducible benchmarks
	content := make([]byte, cfg.fileSize)
	for i := range cfg.files {
		name := fmt.Sprintf("dir%02d/file%05d.dat", i%dirCount, i)
		switch cfg.pattern {
		case "random":
			_, _ = rng.Read(content)
		default:
			for j := range content {
				content[j] = byte('a' + (i % 26))
			}
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			return nil, nil, err
		}
		if _, err := w.Write(content); err != nil {
			return nil, nil, err
		}
		names = append(names, name)
	}
	if err := zw.Close(); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), names, nil
}
