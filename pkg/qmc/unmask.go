package qmc

import (
	"context"
	"crypto/subtle"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const minShardLen = 1 << 16

func checkLen(dataLen, maskLen int) error {
	if dataLen > maskLen {
		return fmt.Errorf("%w: %d data bytes, %d mask bytes", ErrMaskTooShort, dataLen, maskLen)
	}
	return nil
}

// Unmask returns data XORed with the leading bytes of mask.
// Calling it again with the same mask restores the original data.
func Unmask(data, mask []byte) ([]byte, error) {
	if err := checkLen(len(data), len(mask)); err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	subtle.XORBytes(out, data, mask[:len(data)])
	return out, nil
}

// UnmaskInPlace is like Unmask, but overwrites data.
// If mask is too short, data is left untouched.
func UnmaskInPlace(data, mask []byte) error {
	if err := checkLen(len(data), len(mask)); err != nil {
		return err
	}
	subtle.XORBytes(data, data, mask[:len(data)])
	return nil
}

// UnmaskParallel is like Unmask, but splits data into contiguous ranges handled by up to workers goroutines.
// Inputs too small to be worth splitting are handled by fewer goroutines.
func UnmaskParallel(ctx context.Context, data, mask []byte, workers int) ([]byte, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: worker count must be at least 1, got %d", ErrInvalidArgument, workers)
	}
	if err := checkLen(len(data), len(mask)); err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	shard := max((len(data)+workers-1)/workers, minShardLen)
	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(data); start += shard {
		lo, hi := start, min(start+shard, len(data))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			subtle.XORBytes(out[lo:hi], data[lo:hi], mask[lo:hi])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
