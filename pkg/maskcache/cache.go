// Package maskcache persists the QMC mask so it's generated once rather than on every run.
//
// The artifact is a flat file holding the first N mask bytes with no header, byte-identical to what other QMC tools produce.
// A small sidecar file (the artifact path with ".state" appended) records where generation stopped, so a shorter artifact can be extended instead of regenerated.
package maskcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/saylorsolutions/qmcdecode/pkg/qmc"
	"go.uber.org/zap"
)

const (
	DefaultFileName = "mask.bin"
	stateSuffix     = ".state"
	prefixCheckLen  = 4096
)

// Opt configures a Cache in New.
type Opt = func(*Cache) error

// Length sets the number of mask bytes the Cache provides. The default is qmc.DefaultMaskLen.
func Length(n int) Opt {
	return func(c *Cache) error {
		if n < 0 {
			return fmt.Errorf("%w: negative mask length %d", qmc.ErrInvalidArgument, n)
		}
		c.length = n
		return nil
	}
}

// Logger sets the logger used to report cache activity. Nothing is logged by default.
func Logger(log *zap.Logger) Opt {
	return func(c *Cache) error {
		if log == nil {
			return fmt.Errorf("%w: nil logger", qmc.ErrInvalidArgument)
		}
		c.log = log
		return nil
	}
}

// ReadOnly prevents the Cache from writing a generated mask to disk.
func ReadOnly() Opt {
	return func(c *Cache) error {
		c.readOnly = true
		return nil
	}
}

// Cache is a handle to a persisted mask.
// The mask is loaded or generated on the first call to Mask, and the same slice is returned after that.
// A Cache is safe for concurrent use.
type Cache struct {
	path     string
	length   int
	readOnly bool
	log      *zap.Logger

	mu   sync.Mutex
	mask []byte
}

// DefaultPath returns the location of DefaultFileName next to the running executable.
func DefaultPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), DefaultFileName), nil
}

// New creates a Cache for the artifact at path. Nothing is read until Mask is called.
func New(path string, opts ...Opt) (*Cache, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty mask path", qmc.ErrInvalidArgument)
	}
	c := &Cache{
		path:   path,
		length: qmc.DefaultMaskLen,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cache) Path() string {
	return c.path
}

// Len is the number of bytes returned by Mask.
func (c *Cache) Len() int {
	return c.length
}

// Mask returns the mask, loading or generating it on first use.
// The returned slice is shared and must not be modified.
func (c *Cache) Mask(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mask != nil {
		return c.mask, nil
	}
	mask, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	c.mask = mask
	return mask, nil
}

func (c *Cache) load(ctx context.Context) ([]byte, error) {
	log := c.log.With(zap.String("path", c.path), zap.Int("length", c.length))
	cached, err := c.readArtifact()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("Mask not found, generating")
		return c.generate(ctx, log, nil, qmc.NewState())
	case err != nil:
		log.Warn("Failed to read cached mask, generating", zap.Error(err))
		return c.generate(ctx, log, nil, qmc.NewState())
	}

	if err := verify(cached); err != nil {
		log.Warn("Cached mask is corrupt, generating", zap.Error(err))
		return c.generate(ctx, log, nil, qmc.NewState())
	}
	if len(cached) == c.length {
		log.Debug("Loaded cached mask")
		return cached, nil
	}

	state, err := c.readState(len(cached))
	if err != nil {
		log.Info("Cached mask is too short, generating", zap.Int("cached", len(cached)), zap.Error(err))
		return c.generate(ctx, log, nil, qmc.NewState())
	}
	log.Info("Extending cached mask", zap.Int("cached", len(cached)))
	return c.generate(ctx, log, cached, state)
}

// readArtifact reads at most c.length bytes of the artifact.
func (c *Cache) readArtifact() ([]byte, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", c.path)
	}
	buf := make([]byte, min(info.Size(), int64(c.length)))
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Cache) readState(cachedLen int) (qmc.State, error) {
	var state qmc.State
	data, err := os.ReadFile(c.path + stateSuffix)
	if err != nil {
		return state, err
	}
	if err := state.UnmarshalBinary(data); err != nil {
		return state, err
	}
	if state.Emitted() != int64(cachedLen) {
		return state, fmt.Errorf("%w: state is at byte %d, mask file has %d bytes", qmc.ErrInvalidState, state.Emitted(), cachedLen)
	}
	return state, nil
}

// verify compares a cached mask against the known digest when it covers the default length, and against a freshly generated prefix otherwise.
// The last prefixCheckLen bytes are also regenerated from their scan position, so a damaged tail past the digested length is caught.
func verify(mask []byte) error {
	if len(mask) >= qmc.DefaultMaskLen {
		if digest := qmc.Digest(mask[:qmc.DefaultMaskLen]); digest != qmc.DefaultMaskDigest {
			return fmt.Errorf("digest mismatch: %s", digest)
		}
	} else {
		want, err := qmc.Generate(min(len(mask), prefixCheckLen))
		if err != nil {
			return err
		}
		if !bytes.Equal(want, mask[:len(want)]) {
			return errors.New("mask prefix mismatch")
		}
	}
	if len(mask) <= prefixCheckLen {
		return nil
	}
	start := len(mask) - prefixCheckLen
	state, err := qmc.StateAt(int64(start))
	if err != nil {
		return err
	}
	want := make([]byte, prefixCheckLen)
	state.Fill(want)
	if !bytes.Equal(want, mask[start:]) {
		return errors.New("mask tail mismatch")
	}
	return nil
}

// generate fills the rest of a mask starting with prefix, continuing from state, and saves it unless the Cache is read only.
func (c *Cache) generate(ctx context.Context, log *zap.Logger, prefix []byte, state qmc.State) ([]byte, error) {
	start := time.Now()
	mask := make([]byte, c.length)
	n := copy(mask, prefix)
	if err := state.FillContext(ctx, mask[n:]); err != nil {
		return nil, err
	}
	log.Debug("Generated mask", zap.Duration("elapsed", time.Since(start)))
	if c.readOnly {
		return mask, nil
	}
	if err := c.save(mask, state); err != nil {
		log.Warn("Failed to save mask", zap.Error(err))
		return mask, nil
	}
	log.Info("Saved mask")
	return mask, nil
}

func (c *Cache) save(mask []byte, state qmc.State) error {
	stateData, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	// A stale sidecar must never describe the new artifact.
	if err := os.Remove(c.path + stateSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := writeAtomic(c.path, mask); err != nil {
		return err
	}
	return writeAtomic(c.path+stateSuffix, stateData)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
