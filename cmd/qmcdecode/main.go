package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/saylorsolutions/qmcdecode/cmd/internal"
	"github.com/saylorsolutions/qmcdecode/pkg/decoder"
	"github.com/saylorsolutions/qmcdecode/pkg/maskcache"
	"github.com/saylorsolutions/qmcdecode/pkg/qmc"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

var version = "dev"

type options struct {
	help    bool
	version bool
	force   bool
	verbose bool
	input   string
	output  string
	mask    string
	workers int
}

func newFlagSet(opts *options) *flag.FlagSet {
	flags := flag.NewFlagSet("qmcdecode", flag.ContinueOnError)
	flags.BoolVarP(&opts.help, "help", "h", false, "Prints this usage information.")
	flags.BoolVar(&opts.version, "version", false, "Prints the version and exits.")
	flags.StringVarP(&opts.input, "input", "i", "", "Directory containing masked files. May also be given as the DIR argument.")
	flags.StringVarP(&opts.output, "output", "o", "", "Directory to write decoded files to. Defaults to DIR/output.")
	flags.BoolVarP(&opts.force, "force", "f", false, "Replace the output directory if it already exists and isn't empty.")
	flags.StringVarP(&opts.mask, "mask", "m", "", "Location of the cached mask file. Defaults to mask.bin next to this executable.")
	flags.IntVarP(&opts.workers, "workers", "w", runtime.NumCPU(), "Number of goroutines used to unmask each file. 1 streams files instead of loading them into memory.")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enables debug logging.")
	flags.Usage = func() {
		fmt.Printf(`
qmcdecode removes the QMC mask from .qmc0, .qmc3, and .qmcflac files, writing the .mp3 or .flac file they contain.
Files are read from DIR (not including subdirectories), and written to the output directory with the same name and the container's extension.

USAGE:  qmcdecode [FLAGS] DIR
        qmcdecode [FLAGS] -i DIR

The mask is generated on first use (48MiB) and cached in the mask file, so later runs start quickly.
Files larger than the mask are skipped and reported.

FLAGS:
%s
EXIT CODES:
    1   A file could not be decoded, or another failure occurred.
    2   Invalid arguments, or the input directory can't be read.
    3   The output directory already exists and isn't empty, and --force wasn't given.
`, flags.FlagUsages())
	}
	return flags
}

// resolveInput takes the input directory from the positional argument when --input isn't given.
func (o *options) resolveInput(flags *flag.FlagSet) error {
	switch {
	case len(o.input) > 0 && flags.NArg() > 0:
		return fmt.Errorf("%w: input directory given with both --input and an argument", qmc.ErrInvalidArgument)
	case flags.NArg() > 1:
		return fmt.Errorf("%w: expected one input directory, got %d arguments", qmc.ErrInvalidArgument, flags.NArg())
	case flags.NArg() == 1:
		o.input = flags.Arg(0)
	}
	if len(o.input) == 0 {
		return fmt.Errorf("%w: missing required input directory", qmc.ErrInvalidArgument)
	}
	return nil
}

func main() {
	var opts options
	flags := newFlagSet(&opts)
	if len(os.Args) == 1 {
		flags.Usage()
		return
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		flags.Usage()
		internal.FatalCode(internal.ExitUsage, "Error parsing flags: %v", err)
	}
	if opts.help {
		flags.Usage()
		return
	}
	if opts.version {
		internal.Echo("qmcdecode %s", version)
		return
	}
	if err := opts.resolveInput(flags); err != nil {
		internal.FatalCode(internal.ExitUsage, "%v", err)
	}
	if err := run(&opts); err != nil {
		internal.FatalCode(internal.ExitCode(err), "%v", err)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func run(opts *options) error {
	log, err := newLogger(opts.verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
	}()

	maskPath := opts.mask
	if len(maskPath) == 0 {
		maskPath, err = maskcache.DefaultPath()
		if err != nil {
			return fmt.Errorf("failed to locate mask file, use --mask to set it: %w", err)
		}
	}
	cache, err := maskcache.New(maskPath, maskcache.Logger(log))
	if err != nil {
		return err
	}
	dec, err := decoder.New(cache,
		decoder.OutputDir(opts.output),
		decoder.Force(opts.force),
		decoder.Workers(opts.workers),
		decoder.Logger(log),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	report, err := dec.Decode(ctx, opts.input)
	if report == nil {
		return err
	}
	internal.Echo("Done! Decoded %d file(s) to %s", len(report.Decoded), report.OutputDir)
	for _, skipped := range report.Skipped {
		internal.Echo("Skipped %s", skipped.Error())
	}
	for _, failed := range report.Failed {
		internal.Echo("Failed %s", failed.Error())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%d of %d file(s) could not be decoded",
			len(report.Skipped)+len(report.Failed),
			len(report.Decoded)+len(report.Skipped)+len(report.Failed),
		)
	}
	return nil
}
