// Package shell implements an interactive stepper over an episode store.
//
// The shell keeps one batch traversal and one point traversal open and
// advances them on demand, so a user can walk an episode chunk by chunk
// and see exactly what a viewer would receive.
package shell

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"

	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/catalog"
	"github.com/xtxerr/replay/internal/logging"
	"github.com/xtxerr/replay/internal/replay"
	"github.com/xtxerr/replay/internal/summary"
	"github.com/xtxerr/replay/internal/traversal"
)

var log = logging.Component("shell")

// Options configures a Shell.
type Options struct {
	// BatchSize of the batch traversal.
	BatchSize int

	// Accuracy of summary percentiles.
	Accuracy float64
}

// command is one shell command.
type command struct {
	name    string
	args    string
	help    string
	handler func(s *Shell, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"next", "[n]", "advance the batch traversal by n batches", (*Shell).cmdNext},
		{"point", "[n]", "advance the point traversal by n samples", (*Shell).cmdPoint},
		{"batch", "<size>", "set the batch size and restart the batch traversal", (*Shell).cmdBatch},
		{"reset", "", "restart both traversals", (*Shell).cmdReset},
		{"info", "", "show store, catalog and traversal positions", (*Shell).cmdInfo},
		{"channels", "", "list channels", (*Shell).cmdChannels},
		{"warnings", "", "list arrays excluded from the catalog", (*Shell).cmdWarnings},
		{"summary", "", "summarize every channel", (*Shell).cmdSummary},
		{"stats", "", "show chunk loads of the point traversal", (*Shell).cmdStats},
		{"help", "", "show this help", (*Shell).cmdHelp},
		{"quit", "", "leave the shell", (*Shell).cmdQuit},
	}
}

// Shell is an interactive stepper. It is not safe for concurrent use.
type Shell struct {
	ctx      context.Context
	location string
	cat      *catalog.Catalog
	out      io.Writer
	sink     *replay.TextSink
	opts     Options

	batch   *traversal.BatchTraversal
	point   *traversal.PointTraversal
	batches int
	points  int

	exited bool
}

// New creates a shell over cat. Output goes to out.
func New(ctx context.Context, location string, cat *catalog.Catalog, out io.Writer, opts Options) (*Shell, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = config.DefaultBatchSize
	}
	if opts.Accuracy == 0 {
		opts.Accuracy = config.DefaultSketchAccuracy
	}

	s := &Shell{
		ctx:      ctx,
		location: location,
		cat:      cat,
		out:      out,
		sink:     replay.NewTextSink(out),
		opts:     opts,
	}
	if err := s.resetBatch(); err != nil {
		return nil, err
	}
	s.resetPoint()
	return s, nil
}

// Run reads commands from the terminal until quit or Ctrl-D.
func (s *Shell) Run() {
	fmt.Fprintf(s.out, "%s: %d channels, %d warnings. Type \"help\" for commands.\n",
		s.location, s.cat.Len(), len(s.cat.Warnings()))

	p := prompt.New(
		s.Execute,
		s.Complete,
		prompt.OptionTitle("replay shell"),
		prompt.OptionLivePrefix(s.livePrefix),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && s.exited
		}),
	)
	p.Run()
}

// Execute runs one command line.
func (s *Shell) Execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	name := strings.ToLower(fields[0])
	if name == "exit" {
		name = "quit"
	}
	for _, c := range commands {
		if c.name == name {
			if err := c.handler(s, fields[1:]); err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
			return
		}
	}
	fmt.Fprintf(s.out, "unknown command %q, type \"help\"\n", fields[0])
}

// Complete suggests command names for the first word.
func (s *Shell) Complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return suggest(d.GetWordBeforeCursor())
}

func suggest(word string) []prompt.Suggest {
	all := make([]prompt.Suggest, 0, len(commands))
	for _, c := range commands {
		all = append(all, prompt.Suggest{Text: c.name, Description: c.help})
	}
	return prompt.FilterHasPrefix(all, word, true)
}

// Exited reports whether quit was executed.
func (s *Shell) Exited() bool {
	return s.exited
}

func (s *Shell) livePrefix() (string, bool) {
	return fmt.Sprintf("replay [b%d p%d]> ", s.batches, s.points), true
}

// ===== Traversal control =====

func (s *Shell) resetBatch() error {
	b, err := traversal.NewBatch(s.cat, s.opts.BatchSize)
	if err != nil {
		return err
	}
	s.batch = b
	s.batches = 0
	return nil
}

func (s *Shell) resetPoint() {
	s.point = traversal.NewPoint(s.cat)
	s.points = 0
}

// totalBatches is the number of batches a full pass yields.
func (s *Shell) totalBatches() int {
	return (s.cat.MaxLen() + s.opts.BatchSize - 1) / s.opts.BatchSize
}

func count(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("expected a positive count, got %q", args[0])
	}
	return n, nil
}

// ===== Commands =====

func (s *Shell) cmdNext(args []string) error {
	n, err := count(args)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		batch, err := s.batch.Next(s.ctx)
		if err == io.EOF {
			fmt.Fprintln(s.out, "end of episode")
			return nil
		}
		if err != nil {
			return err
		}
		s.batches++
		fmt.Fprintf(s.out, "batch #%d of %d\n", s.batches, s.totalBatches())
		if err := s.sink.WriteBatch(batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shell) cmdPoint(args []string) error {
	n, err := count(args)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		p, err := s.point.Next(s.ctx)
		if err == io.EOF {
			fmt.Fprintln(s.out, "end of episode")
			return nil
		}
		if err != nil {
			return err
		}
		s.points++
		if err := s.sink.WritePoint(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shell) cmdBatch(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: batch <size>")
	}
	size, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("batch size %q: %w", args[0], err)
	}
	prev := s.opts.BatchSize
	s.opts.BatchSize = size
	if err := s.resetBatch(); err != nil {
		s.opts.BatchSize = prev
		return err
	}
	fmt.Fprintf(s.out, "batch size %d, %d batches\n", size, s.totalBatches())
	return nil
}

func (s *Shell) cmdReset(args []string) error {
	if err := s.resetBatch(); err != nil {
		return err
	}
	s.resetPoint()
	fmt.Fprintln(s.out, "traversals restarted")
	return nil
}

func (s *Shell) cmdInfo(args []string) error {
	fmt.Fprintf(s.out, "store:      %s\n", s.location)
	fmt.Fprintf(s.out, "channels:   %d (%d warnings)\n", s.cat.Len(), len(s.cat.Warnings()))
	fmt.Fprintf(s.out, "samples:    %d total, longest channel %d\n", s.cat.TotalLen(), s.cat.MaxLen())
	fmt.Fprintf(s.out, "batch:      %d of %d (size %d)\n", s.batch.Rounds(), s.totalBatches(), s.batch.Size())
	fmt.Fprintf(s.out, "point:      %d of %d\n", s.points, s.cat.TotalLen())
	return nil
}

func (s *Shell) cmdChannels(args []string) error {
	for _, ch := range s.cat.Channels() {
		fmt.Fprintf(s.out, "%-40s len=%-7d chunk=%-5d chunks=%-4d %s%v\n",
			ch.Name, ch.Len, ch.ChunkLen, ch.Chunks(), ch.DType, ch.Shape)
	}
	return nil
}

func (s *Shell) cmdWarnings(args []string) error {
	warnings := s.cat.Warnings()
	if len(warnings) == 0 {
		fmt.Fprintln(s.out, "no warnings")
		return nil
	}
	for _, w := range warnings {
		fmt.Fprintln(s.out, w.String())
	}
	return nil
}

func (s *Shell) cmdSummary(args []string) error {
	sums, err := summary.Summarize(s.ctx, s.cat, s.opts.BatchSize, s.opts.Accuracy)
	if err != nil {
		return err
	}
	WriteSummary(s.out, sums)
	return nil
}

func (s *Shell) cmdStats(args []string) error {
	stats := s.point.Stats()
	fmt.Fprintf(s.out, "samples: %d\n", stats.Samples)
	for _, ch := range s.cat.Channels() {
		fmt.Fprintf(s.out, "%-40s loads=%d/%d\n", ch.Name, stats.ChunkLoads[ch.Name], ch.Chunks())
	}
	return nil
}

func (s *Shell) cmdHelp(args []string) error {
	for _, c := range commands {
		usage := c.name
		if c.args != "" {
			usage += " " + c.args
		}
		fmt.Fprintf(s.out, "  %-14s %s\n", usage, c.help)
	}
	return nil
}

func (s *Shell) cmdQuit(args []string) error {
	s.exited = true
	log.Debug("shell exit", "batches", s.batches, "points", s.points)
	return nil
}

// WriteSummary prints one line per channel summary.
func WriteSummary(w io.Writer, sums []summary.Channel) {
	for _, c := range sums {
		line := fmt.Sprintf("%-40s n=%-7d span=%-10s rate=%7.2fHz",
			c.Name, c.Samples, c.Span().Round(time.Millisecond), c.RateHz())
		if c.Intervals.P50 != nil && c.Intervals.P99 != nil {
			line += fmt.Sprintf(" dt p50=%.2fms p99=%.2fms", *c.Intervals.P50, *c.Intervals.P99)
		}
		if c.Values.Min != nil && c.Values.Max != nil {
			line += fmt.Sprintf(" range=[%g, %g]", *c.Values.Min, *c.Values.Max)
		}
		fmt.Fprintln(w, line)
	}
}
