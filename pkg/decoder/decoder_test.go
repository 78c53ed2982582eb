package decoder

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/saylorsolutions/qmcdecode/pkg/maskcache"
	"github.com/saylorsolutions/qmcdecode/pkg/qmc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testMaskLen = 0x8000 + 64

// countingSource generates a mask of a fixed length and counts how often it was asked for one.
type countingSource struct {
	length int
	calls  int
	err    error
}

func (s *countingSource) Mask(ctx context.Context) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return qmc.GenerateContext(ctx, s.length)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// masked returns plain masked with the first len(plain) mask bytes.
func masked(t *testing.T, plain []byte) []byte {
	t.Helper()
	mask, err := qmc.Generate(len(plain))
	require.NoError(t, err)
	out, err := qmc.Unmask(plain, mask)
	require.NoError(t, err)
	return out
}

func TestDecode_ZeroFixture(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "zero.qmc0"), []byte{0, 0, 0, 0})

	cache, err := maskcache.New(filepath.Join(t.TempDir(), maskcache.DefaultFileName), maskcache.Length(16), maskcache.ReadOnly())
	require.NoError(t, err)
	d, err := New(cache)
	require.NoError(t, err)

	report, err := d.Decode(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(in, DefaultOutputDirName), report.OutputDir)
	require.Len(t, report.Decoded, 1)
	assert.Equal(t, filepath.Join(in, DefaultOutputDirName, "zero.mp3"), report.Decoded[0].Output)

	got, err := os.ReadFile(report.Decoded[0].Output)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xc3, 0x4a, 0xd6, 0xca}, got)
}

func TestDecode_Batch(t *testing.T) {
	mp3 := append([]byte("ID3\x04\x00\x00"), bytes.Repeat([]byte{0xff, 0xfb, 0x90, 0x64}, 0x2008)...)
	flac := append([]byte("fLaC"), bytes.Repeat([]byte{0x12, 0x34}, 300)...)

	tests := map[string]int{
		"Streaming": 1,
		"Parallel":  4,
	}
	for name, workers := range tests {
		t.Run(name, func(t *testing.T) {
			in := t.TempDir()
			out := filepath.Join(t.TempDir(), "decoded")
			writeFile(t, filepath.Join(in, "a.qmc0"), masked(t, mp3))
			writeFile(t, filepath.Join(in, "b.qmc3"), masked(t, mp3))
			writeFile(t, filepath.Join(in, "c.qmcflac"), masked(t, flac))
			writeFile(t, filepath.Join(in, "notes.txt"), []byte("not audio"))
			writeFile(t, filepath.Join(in, "nested.qmc0", "d.qmc0"), masked(t, mp3))

			d, err := New(&countingSource{length: testMaskLen}, OutputDir(out), Workers(workers))
			require.NoError(t, err)
			report, err := d.Decode(context.Background(), in)
			require.NoError(t, err)
			assert.Len(t, report.Decoded, 3)
			assert.Empty(t, report.Skipped)
			assert.Empty(t, report.Failed)

			for file, want := range map[string][]byte{"a.mp3": mp3, "b.mp3": mp3, "c.flac": flac} {
				got, err := os.ReadFile(filepath.Join(out, file))
				require.NoError(t, err)
				assert.Equal(t, want, got, file)
			}
			entries, err := os.ReadDir(out)
			require.NoError(t, err)
			assert.Len(t, entries, 3, "Only decoded files should be in the output directory")
		})
	}
}

func TestDecode_Oversized(t *testing.T) {
	for name, workers := range map[string]int{"Streaming": 1, "Parallel": 2} {
		t.Run(name, func(t *testing.T) {
			in := t.TempDir()
			writeFile(t, filepath.Join(in, "big.qmc0"), make([]byte, testMaskLen+1))
			writeFile(t, filepath.Join(in, "exact.qmc3"), make([]byte, testMaskLen))

			d, err := New(&countingSource{length: testMaskLen}, Workers(workers))
			require.NoError(t, err)
			report, err := d.Decode(context.Background(), in)
			assert.ErrorIs(t, err, qmc.ErrOversizedInput)
			assert.ErrorIs(t, err, qmc.ErrMaskTooShort)
			require.Len(t, report.Skipped, 1)
			assert.Equal(t, filepath.Join(in, "big.qmc0"), report.Skipped[0].Path)
			assert.Empty(t, report.Failed)
			require.Len(t, report.Decoded, 1, "Other files should still be decoded")

			assert.NoFileExists(t, filepath.Join(report.OutputDir, "big.mp3"))
			entries, err := os.ReadDir(report.OutputDir)
			require.NoError(t, err)
			assert.Len(t, entries, 1, "No partial or temporary output should remain")
		})
	}
}

func TestDecode_OutputConflict(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "a.qmc0"), masked(t, []byte("data")))
	existing := filepath.Join(in, DefaultOutputDirName, "keep.txt")
	writeFile(t, existing, []byte("keep"))

	src := &countingSource{length: testMaskLen}
	d, err := New(src)
	require.NoError(t, err)
	report, err := d.Decode(context.Background(), in)
	assert.ErrorIs(t, err, qmc.ErrOutputConflict)
	assert.Nil(t, report)
	assert.Equal(t, 0, src.calls, "Nothing should be processed after a conflict")
	assert.FileExists(t, existing)
	assert.NoFileExists(t, filepath.Join(in, DefaultOutputDirName, "a.mp3"))
}

func TestDecode_OutputIsFile(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	writeFile(t, out, []byte("a file"))

	d, err := New(&countingSource{length: testMaskLen}, OutputDir(out))
	require.NoError(t, err)
	_, err = d.Decode(context.Background(), in)
	assert.ErrorIs(t, err, qmc.ErrOutputConflict)
}

func TestDecode_Force(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "a.qmc0"), masked(t, []byte("data")))
	stale := filepath.Join(in, DefaultOutputDirName, "stale.mp3")
	writeFile(t, stale, []byte("old"))

	d, err := New(&countingSource{length: testMaskLen}, Force())
	require.NoError(t, err)
	report, err := d.Decode(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, report.Decoded, 1)
	assert.NoFileExists(t, stale, "Forced output should replace the directory")

	got, err := os.ReadFile(filepath.Join(in, DefaultOutputDirName, "a.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestDecode_EmptyOutputReused(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(in, "a.qmc3"), masked(t, []byte("data")))

	d, err := New(&countingSource{length: testMaskLen}, OutputDir(out))
	require.NoError(t, err)
	report, err := d.Decode(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, report.Decoded, 1)
	assert.FileExists(t, filepath.Join(out, "a.mp3"))
}

func TestDecode_DuplicateOutput(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "a.qmc0"), masked(t, []byte("zero")))
	writeFile(t, filepath.Join(in, "a.qmc3"), masked(t, []byte("three")))

	d, err := New(&countingSource{length: testMaskLen})
	require.NoError(t, err)
	report, err := d.Decode(context.Background(), in)
	assert.ErrorIs(t, err, ErrDuplicateOutput)
	require.Len(t, report.Decoded, 1)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, filepath.Join(in, "a.qmc3"), report.Failed[0].Path)

	got, err := os.ReadFile(filepath.Join(report.OutputDir, "a.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "zero", string(got), "The first input by name should win")
}

func TestDecode_PerFileErrors(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "a.qmc0"), make([]byte, testMaskLen+1))
	writeFile(t, filepath.Join(in, "b.qmc0"), masked(t, []byte("fine")))
	writeFile(t, filepath.Join(in, "c.qmcflac"), make([]byte, testMaskLen+5))

	d, err := New(&countingSource{length: testMaskLen})
	require.NoError(t, err)
	report, err := d.Decode(context.Background(), in)
	require.Error(t, err)
	errs := multierr.Errors(err)
	assert.Len(t, errs, 2)
	for _, e := range errs {
		var ferr *FileError
		assert.True(t, errors.As(e, &ferr))
	}
	assert.Len(t, report.Skipped, 2)
	assert.Len(t, report.Decoded, 1)
}

func TestDecode_InvalidInput(t *testing.T) {
	d, err := New(&countingSource{length: testMaskLen})
	require.NoError(t, err)

	_, err = d.Decode(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, qmc.ErrInvalidArgument)

	file := filepath.Join(t.TempDir(), "a.qmc0")
	writeFile(t, file, []byte("x"))
	_, err = d.Decode(context.Background(), file)
	assert.ErrorIs(t, err, qmc.ErrInvalidArgument)
}

func TestDecode_OutputContainsInput(t *testing.T) {
	parent := t.TempDir()
	in := filepath.Join(parent, "music")
	writeFile(t, filepath.Join(in, "a.qmc0"), masked(t, []byte("data")))

	for name, out := range map[string]string{"Same": in, "Parent": parent} {
		t.Run(name, func(t *testing.T) {
			d, err := New(&countingSource{length: testMaskLen}, OutputDir(out), Force())
			require.NoError(t, err)
			_, err = d.Decode(context.Background(), in)
			assert.ErrorIs(t, err, qmc.ErrInvalidArgument)
			assert.FileExists(t, filepath.Join(in, "a.qmc0"), "Input must never be removed")
		})
	}
}

func TestDecode_MaskError(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "a.qmc0"), []byte("data"))
	boom := errors.New("boom")

	d, err := New(&countingSource{err: boom})
	require.NoError(t, err)
	_, err = d.Decode(context.Background(), in)
	assert.ErrorIs(t, err, boom)
	assert.NoDirExists(t, filepath.Join(in, DefaultOutputDirName))
}

func TestDecode_NoFiles(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "song.mp3"), []byte("plain"))

	d, err := New(&countingSource{length: testMaskLen})
	require.NoError(t, err)
	report, err := d.Decode(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, report.Decoded)
	assert.DirExists(t, report.OutputDir)
}

func TestDecode_Cancelled(t *testing.T) {
	in := t.TempDir()
	for _, name := range []string{"a.qmc0", "b.qmc0", "c.qmc0"} {
		writeFile(t, filepath.Join(in, name), masked(t, []byte("some audio")))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core, zap.Hooks(func(e zapcore.Entry) error {
		if e.Message == "Decoded file" {
			cancel()
		}
		return nil
	}))

	d, err := New(&countingSource{length: testMaskLen}, Logger(log))
	require.NoError(t, err)
	report, err := d.Decode(ctx, in)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Decoded, 1, "Decoding should stop at the next file after cancellation")
	assert.Equal(t, filepath.Join(in, "a.qmc0"), report.Decoded[0].Input)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 1, logs.FilterMessage("Decoded file").Len())
	assert.NoFileExists(t, filepath.Join(report.OutputDir, "b.mp3"))
}

func TestOutputDir(t *testing.T) {
	d, err := New(&countingSource{length: testMaskLen}, OutputDir(" out "))
	require.NoError(t, err)
	assert.Equal(t, " out ", d.outputDir, "Output directory names are used as given")
}

func TestNew_Neg(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, qmc.ErrInvalidArgument)
	_, err = New(&countingSource{}, Workers(0))
	assert.ErrorIs(t, err, qmc.ErrInvalidArgument)
	_, err = New(&countingSource{}, Logger(nil))
	assert.ErrorIs(t, err, qmc.ErrInvalidArgument)
}

func TestFileError(t *testing.T) {
	err := &FileError{Path: "a.qmc0", Err: qmc.ErrOversizedInput}
	assert.ErrorIs(t, err, qmc.ErrOversizedInput)
	assert.Contains(t, err.Error(), "a.qmc0")
}
