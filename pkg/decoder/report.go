package decoder

import "fmt"

// Decoded pairs an input file with the output written for it.
type Decoded struct {
	Input  string
	Output string
}

// FileError is a failure to decode a single file.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Report summarizes a call to Decoder.Decode.
type Report struct {
	OutputDir string
	Decoded   []Decoded
	// Skipped holds files larger than the mask.
	Skipped []*FileError
	Failed  []*FileError
}
