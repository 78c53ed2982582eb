/*
Package qmc reverses the QMC masking applied to .qmc0, .qmc3, and .qmcflac audio files.

This is obfuscation rather than encryption.
Every byte of the original audio stream is XORed with the byte at the same position of a fixed, deterministic mask.
Nothing about the container or the audio itself is interpreted; files are handled as opaque byte streams.

# How it works:

The mask is produced by a State scanning back and forth across an 8x7 table of seed bytes (MaskTable).
Each step emits either a table byte or one of the two turn-around markers 0xC3 and 0xD8.
At raw step 0x8000, and at every later raw step where index+1 is a multiple of 0x8000, the computed byte is discarded and another step is taken.
The discarded step still moves the scan, so the mask cannot be produced by a generator that ignores the skip.

Once a mask exists, Unmask (or Reader and Writer for streams) XORs data against it position by position.
Because XOR is self-inverse, the same functions apply the mask as well as remove it.

# General guidelines:
  - Generating the default 48MiB mask takes a noticeable moment, so callers are expected to generate it once and share it. See the maskcache package.
  - A mask is read-only once produced, and may be shared across any number of goroutines.
  - Data longer than the mask is rejected with ErrMaskTooShort, it is never truncated.
  - Output names are derived with MediaFile.OutputName, which maps the extension with the package's extension table.
*/
package qmc
