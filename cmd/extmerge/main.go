// Command extmerge sorts newline-delimited records with bounded memory.
//
// Each line is one record. The key is the whole line, or one tab-separated
// column with -k. The sorted lines go to stdout or -o.
package main

import (
	"bufio"
	"cmp"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spaolacci/murmur3"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/lanrat/extmerge"
	"github.com/lanrat/extmerge/diff"
	"github.com/lanrat/extmerge/metrics"
	"github.com/lanrat/extmerge/verify"
)

// max line length read from the input
const maxLineSize = 16 << 20

type options struct {
	bufferSize    int
	numBuffers    int
	workers       int
	store         string
	dir           string
	compress      bool
	mmap          bool
	column        int
	numeric       bool
	unique        bool
	normalize     bool
	verify        bool
	generate      int
	seed          uint32
	snapshotEvery int
	pushgateway   string
	logLevel      string
	diffWith      string
	output        string
	input         string
}

func parseFlags(args []string) (*options, error) {
	def := extmerge.DefaultConfig()
	o := &options{}
	fs := pflag.NewFlagSet("extmerge", pflag.ContinueOnError)
	fs.IntVarP(&o.bufferSize, "buffer-size", "b", def.BufferSize, "records per buffer")
	fs.IntVarP(&o.numBuffers, "num-buffers", "n", def.NumBuffers, "buffers per merge, one of them is the output buffer")
	fs.IntVarP(&o.workers, "workers", "w", def.Workers, "group merges run at once")
	fs.StringVar(&o.store, "store", def.Store, "run store: memory, file or pebble")
	fs.StringVar(&o.dir, "dir", "", "directory for run files (default: a disk backed temp dir)")
	fs.BoolVar(&o.compress, "compress", false, "zstd compress run files")
	fs.BoolVar(&o.mmap, "mmap", false, "memory-map run files for reading")
	fs.IntVarP(&o.column, "column", "k", 0, "sort by this tab-separated column (1-based), 0 for the whole line")
	fs.BoolVar(&o.numeric, "numeric", false, "compare keys as numbers")
	fs.BoolVarP(&o.unique, "unique", "u", false, "output only the first line of each key")
	fs.BoolVar(&o.normalize, "normalize", false, "NFC-normalize keys before comparing")
	fs.BoolVar(&o.verify, "verify", false, "check the output is sorted and holds every input line")
	fs.IntVar(&o.generate, "generate", 0, "sort N generated lines instead of reading input")
	fs.Uint32Var(&o.seed, "seed", 1, "seed of the generated lines")
	fs.IntVar(&o.snapshotEvery, "snapshot-every", 0, "log buffer contents every N output flushes (debug level)")
	fs.StringVar(&o.pushgateway, "pushgateway", "", "push metrics to this Prometheus Pushgateway URL when done")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	fs.StringVar(&o.diffWith, "diff", "", "compare the sorted output with this sorted file instead of printing it")
	fs.StringVarP(&o.output, "output", "o", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	switch fs.NArg() {
	case 0:
	case 1:
		o.input = fs.Arg(0)
	default:
		return nil, fmt.Errorf("at most one input file, got %d", fs.NArg())
	}
	if o.column < 0 {
		return nil, fmt.Errorf("invalid column %d", o.column)
	}
	if o.generate > 0 && o.input != "" {
		return nil, errors.New("--generate and an input file are exclusive")
	}
	return o, nil
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "extmerge: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	logger, err := newLogger(opts.logLevel, stderr)
	if err != nil {
		return err
	}

	config := extmerge.DefaultConfig()
	config.BufferSize = opts.bufferSize
	config.NumBuffers = opts.numBuffers
	config.Workers = opts.workers
	config.Store = opts.store
	config.TempFilesDir = opts.dir
	config.Compress = opts.compress
	config.Mmap = opts.mmap
	config.SnapshotEvery = opts.snapshotEvery
	config.Logger = logger

	observers := []extmerge.Observer{extmerge.NewLogObserver(logger)}
	var prom *metrics.Observer
	if opts.pushgateway != "" {
		if prom, err = metrics.NewObserver(); err != nil {
			return err
		}
		observers = append(observers, prom)
	}
	config.Observer = extmerge.Observers(observers...)

	in := stdin
	if opts.input != "" {
		f, err := os.Open(opts.input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	var lines iter.Seq2[string, error]
	if opts.generate > 0 {
		lines = generate(opts.generate, opts.seed)
	} else {
		lines = readLines(in)
	}

	out := stdout
	if opts.output != "" && opts.diffWith == "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, f.Close())
		}()
		out = f
	}

	if opts.numeric {
		err = sortLines(ctx, opts, config, lines, out, stderr, numericKey(opts), extmerge.GobCodec[float64]())
	} else {
		err = sortLines(ctx, opts, config, lines, out, stderr, stringKey(opts), extmerge.StringCodec())
	}
	if err != nil {
		return err
	}
	if prom != nil {
		if err := prom.Push(ctx, opts.pushgateway, "extmerge"); err != nil {
			return err
		}
	}
	return nil
}

// column returns the key text of line.
func column(opts *options, line string) string {
	if opts.column == 0 {
		return line
	}
	fields := strings.Split(line, "\t")
	if opts.column > len(fields) {
		return ""
	}
	return fields[opts.column-1]
}

func stringKey(opts *options) func(string) string {
	return func(line string) string {
		k := column(opts, line)
		if opts.normalize {
			k = norm.NFC.String(k)
		}
		return k
	}
}

// numericKey parses the key as a number; like sort -n, text that is not a
// number sorts as zero.
func numericKey(opts *options) func(string) float64 {
	return func(line string) float64 {
		f, err := strconv.ParseFloat(strings.TrimSpace(column(opts, line)), 64)
		if err != nil {
			return 0
		}
		return f
	}
}

func sortLines[K cmp.Ordered](ctx context.Context, opts *options, config *extmerge.Config, lines iter.Seq2[string, error], out, stderr io.Writer, key func(string) K, codec extmerge.Codec[K]) error {
	s, err := extmerge.New(config, extmerge.WithCodec(codec))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			config.Logger.Warn("close sorter", "error", cerr)
		}
	}()

	// the reader feeds the sorter through a channel so a read error
	// surfaces from the errgroup while the sort stops at end of input
	var inputPrint verify.Fingerprint
	records := make(chan extmerge.Record[K], config.BufferSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		for line, err := range lines {
			if err != nil {
				return err
			}
			if opts.verify {
				inputPrint.Add([]byte(line))
			}
			select {
			case records <- extmerge.Record[K]{Key: key(line), Value: []byte(line)}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	var run extmerge.Run
	g.Go(func() error {
		var err error
		run, err = s.Sort(gctx, extmerge.FromChan(records))
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	defer func() {
		if rerr := s.Release(run); rerr != nil {
			config.Logger.Warn("release result", "error", rerr)
		}
	}()

	sorted := s.Records(ctx, run)
	if opts.unique {
		sorted = extmerge.Uniq(sorted)
	}
	if opts.verify {
		sorted = checked(sorted, &inputPrint, opts.unique, config.Logger)
	}
	if opts.diffWith != "" {
		return diffWith(ctx, opts.diffWith, sorted, out, stderr)
	}

	bw := bufio.NewWriter(out)
	for r, err := range sorted {
		if err != nil {
			return err
		}
		if _, err := bw.Write(r.Value); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// checked passes seq through, failing it when it is out of order or, at
// its end, when it does not hold exactly the input lines.
func checked[K cmp.Ordered](seq iter.Seq2[extmerge.Record[K], error], input *verify.Fingerprint, unique bool, logger *slog.Logger) iter.Seq2[extmerge.Record[K], error] {
	return func(yield func(extmerge.Record[K], error) bool) {
		var output verify.Fingerprint
		stopped := false
		keys := func(yieldKey func(K) bool) {
			for r, err := range seq {
				if err != nil {
					stopped = true
					yield(r, err)
					return
				}
				if !yieldKey(r.Key) {
					return
				}
				output.Add(r.Value)
				if !yield(r, nil) {
					stopped = true
					return
				}
			}
		}
		err := verify.Sorted[K](keys)
		switch {
		case stopped:
			return
		case err != nil:
			yield(extmerge.Record[K]{}, err)
			return
		case !unique && !input.Equal(output):
			yield(extmerge.Record[K]{}, fmt.Errorf("output %s does not match input %s", output, input))
			return
		}
		logger.Info("verified", "records", output.Len())
	}
}

func diffWith[K cmp.Ordered](ctx context.Context, path string, sorted iter.Seq2[extmerge.Record[K], error], out, stderr io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(out)
	lines := func(yield func(string, error) bool) {
		for r, err := range sorted {
			if !yield(string(r.Value), err) {
				return
			}
		}
	}
	res, err := diff.Ordered(ctx, lines, readLines(f), func(d diff.Delta, s string) error {
		_, err := fmt.Fprintf(bw, "%s %s\n", d, s)
		return err
	})
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if res.Same() {
		_, err = fmt.Fprintln(stderr, "no differences:", res.String())
		return err
	}
	_, err = fmt.Fprintln(stderr, res.String())
	return err
}

func readLines(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			if !yield(scanner.Text(), nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", err)
		}
	}
}

// generate yields n pseudo-random hex lines derived from murmur3 hashes of
// their index, so the same seed always yields the same input.
func generate(n int, seed uint32) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var buf [8]byte
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint64(buf[:], uint64(i))
			h1, h2 := murmur3.Sum128WithSeed(buf[:], seed)
			binary.BigEndian.PutUint64(buf[:], h1^h2)
			if !yield(hex.EncodeToString(buf[:]), nil) {
				return
			}
		}
	}
}
