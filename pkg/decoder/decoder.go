package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/saylorsolutions/qmcdecode/pkg/qmc"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultOutputDirName = "output"

var (
	ErrDuplicateOutput = errors.New("output name is already produced by another input")
)

// MaskSource provides the mask used to decode files.
type MaskSource interface {
	Mask(ctx context.Context) ([]byte, error)
}

// Opt configures a Decoder in New.
type Opt = func(*Decoder) error

// OutputDir sets where decoded files are written. The default is DefaultOutputDirName inside the input directory.
func OutputDir(dir string) Opt {
	return func(d *Decoder) error {
		d.outputDir = dir
		return nil
	}
}

// Force allows an existing, non-empty output directory to be removed and replaced.
func Force(val ...bool) Opt {
	return func(d *Decoder) error {
		if len(val) > 0 {
			d.force = val[0]
			return nil
		}
		d.force = true
		return nil
	}
}

// Workers sets how many goroutines unmask each file. With 1, files are streamed instead of read into memory.
// The default is runtime.NumCPU.
func Workers(n int) Opt {
	return func(d *Decoder) error {
		if n < 1 {
			return fmt.Errorf("%w: worker count must be at least 1, got %d", qmc.ErrInvalidArgument, n)
		}
		d.workers = n
		return nil
	}
}

// Logger sets the logger used to report progress. Nothing is logged by default.
func Logger(log *zap.Logger) Opt {
	return func(d *Decoder) error {
		if log == nil {
			return fmt.Errorf("%w: nil logger", qmc.ErrInvalidArgument)
		}
		d.log = log
		return nil
	}
}

type Decoder struct {
	masks     MaskSource
	outputDir string
	force     bool
	workers   int
	log       *zap.Logger
}

func New(masks MaskSource, opts ...Opt) (*Decoder, error) {
	if masks == nil {
		return nil, fmt.Errorf("%w: nil mask source", qmc.ErrInvalidArgument)
	}
	d := &Decoder{
		masks:   masks,
		workers: runtime.NumCPU(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Decode unmasks the recognized files in inputDir.
//
// Errors that prevent the batch from starting are returned with a nil Report: a missing input directory (qmc.ErrInvalidArgument), an output conflict (qmc.ErrOutputConflict), or a failure to get the mask.
// Otherwise, a Report is always returned, along with every per-file error combined with multierr.
func (d *Decoder) Decode(ctx context.Context, inputDir string) (*Report, error) {
	info, err := os.Stat(inputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: input directory: %v", qmc.ErrInvalidArgument, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: input %s is not a directory", qmc.ErrInvalidArgument, inputDir)
	}
	outputDir := d.outputDir
	if len(outputDir) == 0 {
		outputDir = filepath.Join(inputDir, DefaultOutputDirName)
	}
	if err := checkNesting(inputDir, outputDir); err != nil {
		return nil, err
	}
	replace, err := d.preflight(outputDir)
	if err != nil {
		return nil, err
	}

	files, err := scan(inputDir)
	if err != nil {
		return nil, err
	}
	log := d.log.With(zap.String("input", inputDir), zap.String("output", outputDir))
	log.Debug("Loading mask")
	mask, err := d.masks.Mask(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load mask: %w", err)
	}

	if replace {
		log.Info("Replacing existing output directory")
		if err := os.RemoveAll(outputDir); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}

	report := &Report{OutputDir: outputDir}
	if len(files) == 0 {
		log.Info("No masked files found", zap.Strings("extensions", qmc.SourceExtensions()))
		return report, nil
	}

	var (
		errs  error
		names = map[string]string{}
	)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		flog := log.With(zap.String("file", filepath.Base(f.Path)))
		name := f.OutputName()
		if prev, ok := names[name]; ok {
			ferr := &FileError{Path: f.Path, Err: fmt.Errorf("%w: %s from %s", ErrDuplicateOutput, name, prev)}
			flog.Warn("Skipping file", zap.Error(ferr.Err))
			report.Failed = append(report.Failed, ferr)
			errs = multierr.Append(errs, ferr)
			continue
		}
		names[name] = f.Path

		flog.Debug("Decoding file")
		out, err := d.decodeFile(ctx, f, mask, filepath.Join(outputDir, name))
		switch {
		case errors.Is(err, qmc.ErrOversizedInput):
			ferr := &FileError{Path: f.Path, Err: err}
			flog.Warn("Skipping oversized file", zap.Error(err))
			report.Skipped = append(report.Skipped, ferr)
			errs = multierr.Append(errs, ferr)
		case err != nil:
			ferr := &FileError{Path: f.Path, Err: err}
			flog.Error("Failed to decode file", zap.Error(err))
			report.Failed = append(report.Failed, ferr)
			errs = multierr.Append(errs, ferr)
		default:
			flog.Info("Decoded file", zap.String("decoded", filepath.Base(out)))
			report.Decoded = append(report.Decoded, Decoded{Input: f.Path, Output: out})
		}
	}
	log.Info("Finished decoding",
		zap.Int("decoded", len(report.Decoded)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, errs
}

// checkNesting rejects an output directory that is, or contains, the input directory.
// Such an output directory could never be empty, and replacing it would delete the input.
func checkNesting(inputDir, outputDir string) error {
	in, err := filepath.Abs(inputDir)
	if err != nil {
		return err
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(out, in)
	if err != nil {
		return nil
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return fmt.Errorf("%w: output directory %s contains the input directory", qmc.ErrInvalidArgument, outputDir)
	}
	return nil
}

// preflight reports whether the output directory must be removed before decoding.
func (d *Decoder) preflight(dir string) (replace bool, err error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return false, err
		}
		if len(entries) == 0 {
			return false, nil
		}
	}
	if !d.force {
		return false, fmt.Errorf("%w: %s", qmc.ErrOutputConflict, dir)
	}
	return true, nil
}

func scan(dir string) ([]qmc.MediaFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", qmc.ErrInvalidArgument, err)
	}
	var files []qmc.MediaFile
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		// Symlinks are followed; pipes, sockets and devices are never opened.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if f, ok := qmc.NewMediaFile(path); ok {
			files = append(files, f)
		}
	}
	return files, nil
}

func (d *Decoder) decodeFile(ctx context.Context, f qmc.MediaFile, mask []byte, outPath string) (string, error) {
	in, err := os.Open(f.Path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = in.Close()
	}()
	info, err := in.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() > int64(len(mask)) {
		return "", fmt.Errorf("%w: %d bytes, at most %d supported", qmc.ErrOversizedInput, info.Size(), len(mask))
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".decode-*")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if d.workers > 1 {
		err = d.unmaskParallel(ctx, in, tmp, mask)
	} else {
		_, err = io.Copy(tmp, qmc.NewReader(in, mask))
	}
	if err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

func (d *Decoder) unmaskParallel(ctx context.Context, in io.Reader, out io.Writer, mask []byte) error {
	// One byte past the mask is enough to detect a file that grew after it was checked.
	data, err := io.ReadAll(io.LimitReader(in, int64(len(mask))+1))
	if err != nil {
		return err
	}
	plain, err := qmc.UnmaskParallel(ctx, data, mask, d.workers)
	if err != nil {
		return err
	}
	_, err = out.Write(plain)
	return err
}
