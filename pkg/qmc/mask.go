package qmc

import (
	"context"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultMaskLen is the length of the mask artifact shared by QMC decoding tools (48MiB).
	// It is also the largest input those tools will decode.
	DefaultMaskLen = 50331648
	// DefaultMaskDigest is the hex encoded BLAKE2b-256 digest of the first DefaultMaskLen mask bytes.
	DefaultMaskDigest = "13af26bb21fa3b5ad03c98d6e1b6fde67c1b5c0d7bece2096167a390e21d932e"

	skipPeriod   = 0x8000
	checkEvery   = 1 << 16
	markForward  = 0xC3
	markBackward = 0xD8
	tableCols    = 7
)

// MaskTable holds the seed bytes scanned by State.
var MaskTable = [8][tableCols]byte{
	{0x4a, 0xd6, 0xca, 0x90, 0x67, 0xf7, 0x52},
	{0x5e, 0x95, 0x23, 0x9f, 0x13, 0x11, 0x7e},
	{0x47, 0x74, 0x3d, 0x90, 0xaa, 0x3f, 0x51},
	{0xc6, 0x09, 0xd5, 0x9f, 0xfa, 0x66, 0xf9},
	{0xf3, 0xd6, 0xa1, 0x90, 0xa0, 0xf7, 0xf0},
	{0x1d, 0x95, 0xde, 0x9f, 0x84, 0x11, 0xf4},
	{0x0e, 0x74, 0xbb, 0x90, 0xbc, 0x3f, 0x92},
	{0x00, 0x09, 0x5b, 0x9f, 0x62, 0x66, 0xa1},
}

// State is the position of a mask scan.
// The zero value is not usable, start from NewState.
// A State is a plain value: copying it forks the scan.
type State struct {
	x, y, dx int
	index    int64
	emitted  int64
}

// NewState returns the State that produces the mask from its first byte.
func NewState() State {
	return State{x: -1, y: 8, dx: 1, index: -1}
}

// Index is the number of raw steps taken minus one, including discarded steps.
func (s State) Index() int64 {
	return s.index
}

// Emitted is the number of mask bytes produced so far.
func (s State) Emitted() int64 {
	return s.emitted
}

func (s *State) step() byte {
	s.index++
	var b byte
	switch {
	case s.x < 0:
		s.dx = 1
		s.y = (8 - s.y) % 8
		b = markForward
	case s.x > tableCols-1:
		s.dx = -1
		s.y = 7 - s.y
		b = markBackward
	default:
		b = MaskTable[s.y][s.x]
	}
	s.x += s.dx
	return b
}

// skipped reports whether the byte computed at raw step index is discarded.
// The first clause is not covered by the second: (0x8000+1)%0x8000 != 0.
func skipped(index int64) bool {
	return index == skipPeriod || (index > skipPeriod && (index+1)%skipPeriod == 0)
}

// Next produces the next mask byte.
func (s *State) Next() byte {
	b := s.step()
	for skipped(s.index) {
		b = s.step()
	}
	s.emitted++
	return b
}

// Fill writes the next len(buf) mask bytes to buf.
func (s *State) Fill(buf []byte) {
	for i := range buf {
		buf[i] = s.Next()
	}
}

// FillContext is like Fill, but stops with the context's error if it's cancelled.
// Bytes already written to buf remain valid mask bytes, and s reflects them.
func (s *State) FillContext(ctx context.Context, buf []byte) error {
	for start := 0; start < len(buf); start += checkEvery {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Fill(buf[start:min(start+checkEvery, len(buf))])
	}
	return nil
}

// Generate produces the first length bytes of the mask.
func Generate(length int) ([]byte, error) {
	return GenerateContext(context.Background(), length)
}

// GenerateContext produces the first length bytes of the mask, checking ctx periodically.
func GenerateContext(ctx context.Context, length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: negative mask length %d", ErrInvalidArgument, length)
	}
	mask := make([]byte, length)
	s := NewState()
	if err := s.FillContext(ctx, mask); err != nil {
		return nil, err
	}
	return mask, nil
}

// Digest returns the hex encoded BLAKE2b-256 digest of mask, for comparison with DefaultMaskDigest.
func Digest(mask []byte) string {
	sum := blake2b.Sum256(mask)
	return hex.EncodeToString(sum[:])
}
