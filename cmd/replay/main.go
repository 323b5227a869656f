// replay is the command line tool for episode stores: it inspects, dumps
// and steps through stores, writes synthetic episodes and watches running
// recordings.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/array/open"
	"github.com/xtxerr/replay/internal/catalog"
	"github.com/xtxerr/replay/internal/client"
	"github.com/xtxerr/replay/internal/episode"
	"github.com/xtxerr/replay/internal/logging"
	"github.com/xtxerr/replay/internal/mock"
	"github.com/xtxerr/replay/internal/replay"
	"github.com/xtxerr/replay/internal/shell"
	"github.com/xtxerr/replay/internal/summary"
	"github.com/xtxerr/replay/internal/wire"
)

// Version is set at build time via ldflags
var Version = "dev"

type subcommand struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string) error
}

var subcommands = []subcommand{
	{"inspect", "inspect <store>", runInspect},
	{"dump", "dump [-mode batch|point] [-batch N] <store>", runDump},
	{"shell", "shell [-batch N] <store>", runShell},
	{"mock", "mock [-format zarr|parquet|badger] [-bimanual] [-duration D] [-seed N] <dir>", runMock},
	{"register", "register [-db path] -id N <location>", runRegister},
	{"episodes", "episodes [-db path] [-subdataset S] [-embodiment E] [-limit N]", runEpisodes},
	{"watch", "watch <url>", runWatch},
}

func main() {
	logLevel := flag.String("log-level", "warn", "log level")
	version := flag.Bool("version", false, "print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Println(Version)
		return
	}

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fatal(err)
	}
	// Standard output carries command output, logs go to stderr.
	logging.InitWithHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, c := range subcommands {
		if c.name == args[0] {
			if err := c.run(ctx, args[1:]); err != nil {
				fatal(err)
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "replay: unknown command %q\n", args[0])
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: replay [-log-level L] <command> [flags] [args]")
	fmt.Fprintln(os.Stderr, "\ncommands:")
	for _, c := range subcommands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.usage)
	}
	fmt.Fprintln(os.Stderr, "\nstores are zarr://, parquet:// or badger:// locations, or plain paths")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "replay: %v\n", err)
	os.Exit(1)
}

// parse parses flags of a subcommand and checks the positional argument count.
func parse(fs *flag.FlagSet, args []string, positional int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != positional {
		return nil, fmt.Errorf("%s: expected %d argument(s), got %d", fs.Name(), positional, fs.NArg())
	}
	return fs.Args(), nil
}

// =============================================================================
// Store commands
// =============================================================================

func runInspect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	batch := fs.Int("batch", config.DefaultBatchSize, "batch size used to scan timestamps")
	accuracy := fs.Float64("accuracy", config.DefaultSketchAccuracy, "relative accuracy of interval percentiles")
	rest, err := parse(fs, args, 1)
	if err != nil {
		return err
	}

	store, err := open.Open(rest[0])
	if err != nil {
		return err
	}
	defer store.Close()

	cat, err := catalog.New(ctx, store)
	if err != nil {
		return err
	}

	fmt.Printf("store:    %s\n", rest[0])
	fmt.Printf("channels: %d\n", cat.Len())
	fmt.Printf("samples:  %d (longest channel %d)\n\n", cat.TotalLen(), cat.MaxLen())

	for _, ch := range cat.Channels() {
		fmt.Printf("%-40s len=%-7d chunk=%-5d %s%v\n", ch.Name, ch.Len, ch.ChunkLen, ch.DType, ch.Shape)
	}
	if warnings := cat.Warnings(); len(warnings) > 0 {
		fmt.Printf("\nwarnings:\n")
		for _, w := range warnings {
			fmt.Printf("  %s\n", w)
		}
	}

	sums, err := summary.Summarize(ctx, cat, *batch, *accuracy)
	if err != nil {
		return err
	}
	fmt.Println()
	shell.WriteSummary(os.Stdout, sums)
	return nil
}

func runDump(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	mode := fs.String("mode", "batch", "traversal mode: batch or point")
	batch := fs.Int("batch", config.DefaultBatchSize, "elements per channel per batch")
	rest, err := parse(fs, args, 1)
	if err != nil {
		return err
	}

	opts := replay.Options{Location: rest[0], BatchSize: *batch}
	switch *mode {
	case "batch":
	case "point":
		opts.Points = true
	default:
		return fmt.Errorf("dump: unknown mode %q", *mode)
	}

	res, err := replay.RunLocation(ctx, rest[0], replay.NewTextSink(os.Stdout), opts)
	if err != nil {
		return err
	}
	logging.Info("dump finished",
		"channels", res.Channels,
		"batches", res.Batches,
		"samples", res.Samples,
		"warnings", res.Warnings,
		"duration", res.Duration)
	return nil
}

func runShell(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)
	batch := fs.Int("batch", config.DefaultBatchSize, "elements per channel per batch")
	rest, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("shell: standard input is not a terminal")
	}

	store, err := open.Open(rest[0])
	if err != nil {
		return err
	}
	defer store.Close()

	cat, err := catalog.New(ctx, store)
	if err != nil {
		return err
	}
	s, err := shell.New(ctx, rest[0], cat, os.Stdout, shell.Options{BatchSize: *batch})
	if err != nil {
		return err
	}
	s.Run()
	return nil
}

// =============================================================================
// Episode commands
// =============================================================================

func runMock(ctx context.Context, args []string) error {
	defaults := mock.DefaultOptions()
	fs := flag.NewFlagSet("mock", flag.ContinueOnError)
	format := fs.String("format", string(open.FormatZarr), "store format: zarr, parquet or badger")
	bimanual := fs.Bool("bimanual", false, "generate both arms")
	duration := fs.Duration("duration", defaults.Duration, "episode duration")
	seed := fs.Uint64("seed", defaults.Seed, "random seed")
	chunkLen := fs.Int("chunk", defaults.ChunkLen, "chunk length of non-image arrays")
	noImages := fs.Bool("no-images", false, "skip camera arrays")
	rest, err := parse(fs, args, 1)
	if err != nil {
		return err
	}

	f, err := open.ParseFormat(*format)
	if err != nil {
		return err
	}
	opts := defaults
	opts.Bimanual = *bimanual
	opts.Duration = *duration
	opts.Seed = *seed
	opts.ChunkLen = *chunkLen
	if *noImages {
		opts.ImageSize = 0
	}

	location, err := mock.Write(f, rest[0], opts)
	if err != nil {
		return err
	}
	fmt.Println(location)
	return nil
}

func runRegister(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	dbPath := fs.String("db", config.DefaultEpisodesDB, "episode database path")
	id := fs.Int64("id", 0, "episode id")
	subdataset := fs.String("subdataset", "", "subdataset name")
	embodiment := fs.String("embodiment", "", "embodiment name")
	rest, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("register: -id must be positive")
	}
	if _, _, err := open.Resolve(rest[0]); err != nil {
		return err
	}

	cfg := episode.DefaultConfig()
	cfg.DSN = *dbPath
	repo, err := episode.Open(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	e := &episode.Episode{ID: *id, URL: rest[0], UploadedAt: time.Now().UTC()}
	if *subdataset != "" {
		s := &episode.Subdataset{ID: *id, Name: *subdataset}
		if *embodiment != "" {
			if err := repo.PutEmbodiment(ctx, *id, *embodiment); err != nil {
				return err
			}
			s.EmbodimentID = *id
		}
		if err := repo.PutSubdataset(ctx, s); err != nil {
			return err
		}
		e.SubdatasetID = s.ID
	}
	if err := repo.Put(ctx, e); err != nil {
		return err
	}
	fmt.Printf("episode %d -> %s\n", *id, rest[0])
	return nil
}

func runEpisodes(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("episodes", flag.ContinueOnError)
	dbPath := fs.String("db", config.DefaultEpisodesDB, "episode database path")
	subdataset := fs.String("subdataset", "", "match subdataset names containing this text")
	embodiment := fs.String("embodiment", "", "match embodiment names containing this text")
	limit := fs.Int("limit", 0, "maximum number of episodes")
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}

	cfg := episode.DefaultConfig()
	cfg.DSN = *dbPath
	repo, err := episode.Open(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	infos, err := repo.Find(ctx, episode.Filter{
		Subdataset: *subdataset,
		Embodiment: *embodiment,
		Limit:      *limit,
	})
	if err != nil {
		return err
	}
	for _, info := range infos {
		arms := "single"
		if info.IsBimanual() {
			arms = "bimanual"
		}
		fmt.Printf("%-8d %-20s %-20s %-9s %s\n",
			info.ID, info.SubdatasetName, info.EmbodimentName, arms, info.URL)
	}
	return nil
}

// =============================================================================
// Watch
// =============================================================================

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	timeout := fs.Duration("timeout", client.DefaultConfig().ConnectTimeout, "connect timeout")
	rest, err := parse(fs, args, 1)
	if err != nil {
		return err
	}

	c := client.New(&client.Config{URL: rest[0], ConnectTimeout: *timeout})
	c.OnFrame(printFrame)
	disconnected := make(chan error, 1)
	c.OnDisconnect(func(err error) { disconnected <- err })

	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()
	fmt.Printf("connected to recording %s\n", c.RecordingID())

	select {
	case <-ctx.Done():
	case err := <-disconnected:
		logging.Debug("recording closed", "error", err)
	}
	fmt.Printf("%d frames received\n", c.Frames())
	return nil
}

func printFrame(f *wire.Frame) {
	switch f.Kind {
	case wire.KindLog:
		fmt.Printf("#%d [%s] %s\n", f.Seq, f.Level, f.Text)
	case wire.KindWindow, wire.KindPoint:
		fmt.Printf("#%d %s %s start=%d n=%d %s%v (%d bytes)\n",
			f.Seq, f.Kind, f.Channel, f.Start, f.Len(), f.DType, f.Shape, len(f.Data))
	default:
		fmt.Printf("#%d %s\n", f.Seq, f.Kind)
	}
}
