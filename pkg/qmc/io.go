package qmc

import (
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/gobwas/pool/pbytes"
)

// Reader extends io.Reader, but also provides a way to reuse a mask with a different source.
type Reader interface {
	io.Reader
	// Reset will use the provided io.Reader and rewind to the start of the mask.
	Reset(source io.Reader)
}

// Writer extends io.Writer, but also provides a way to reuse a mask with a different target.
type Writer interface {
	io.Writer
	// Reset will use the provided io.Writer and rewind to the start of the mask.
	Reset(target io.Writer)
}

// maskScreen tracks the stream position within the mask.
type maskScreen struct {
	mask []byte
	pos  int
}

func (s *maskScreen) apply(dst, src []byte) error {
	if len(src) > len(s.mask)-s.pos {
		return fmt.Errorf("%w: %d bytes at offset %d, mask length is %d", ErrMaskTooShort, len(src), s.pos, len(s.mask))
	}
	subtle.XORBytes(dst, src, s.mask[s.pos:s.pos+len(src)])
	return nil
}

var _ Reader = (*reader)(nil)

type reader struct {
	source io.Reader
	scr    maskScreen
}

// NewReader constructs a Reader that unmasks all bytes read from source.
// The first byte read is aligned with the first byte of mask.
// Reading past the end of mask fails with ErrMaskTooShort.
func NewReader(source io.Reader, mask []byte) Reader {
	return &reader{
		source: source,
		scr:    maskScreen{mask: mask},
	}
}

func (r *reader) Read(out []byte) (n int, err error) {
	n, err = r.source.Read(out)
	if n > 0 {
		if serr := r.scr.apply(out[:n], out[:n]); serr != nil {
			return 0, serr
		}
		r.scr.pos += n
	}
	return n, err
}

func (r *reader) Reset(source io.Reader) {
	r.source = source
	r.scr.pos = 0
}

var _ Writer = (*writer)(nil)

type writer struct {
	target io.Writer
	scr    maskScreen
}

// NewWriter constructs a Writer that masks all bytes before writing them to target.
// A write that would run past the end of mask fails with ErrMaskTooShort without writing anything.
func NewWriter(target io.Writer, mask []byte) Writer {
	return &writer{
		target: target,
		scr:    maskScreen{mask: mask},
	}
}

func (w *writer) Write(in []byte) (n int, err error) {
	buf := pbytes.GetLen(len(in))
	defer pbytes.Put(buf)

	if err := w.scr.apply(buf, in); err != nil {
		return 0, err
	}
	n, err = w.target.Write(buf)
	w.scr.pos += n
	return n, err
}

func (w *writer) Reset(target io.Writer) {
	w.target = target
	w.scr.pos = 0
}
