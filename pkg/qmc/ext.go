package qmc

import (
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var extensions = map[string]string{
	".qmc0":    ".mp3",
	".qmc3":    ".mp3",
	".qmcflac": ".flac",
}

// MediaFile is a masked input file and the extension of the container it holds.
type MediaFile struct {
	Path      string
	SourceExt string
	TargetExt string
}

// TargetExt returns the container extension for a masked file name.
// Extensions are matched without regard to case.
func TargetExt(name string) (string, bool) {
	target, ok := extensions[strings.ToLower(filepath.Ext(name))]
	return target, ok
}

// SourceExtensions lists the recognized masked extensions, sorted.
func SourceExtensions() []string {
	exts := make([]string, 0, len(extensions))
	for ext := range extensions {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// NewMediaFile describes the file at path, or returns false if its extension isn't recognized.
func NewMediaFile(path string) (MediaFile, bool) {
	target, ok := TargetExt(path)
	if !ok {
		return MediaFile{}, false
	}
	return MediaFile{
		Path:      path,
		SourceExt: filepath.Ext(path),
		TargetExt: target,
	}, true
}

// Stem is the file name without its directory or masked extension.
func (f MediaFile) Stem() string {
	return strings.TrimSuffix(filepath.Base(f.Path), f.SourceExt)
}

// OutputName is the decoded file name: the stem in NFC form followed by the container extension.
func (f MediaFile) OutputName() string {
	return norm.NFC.String(f.Stem()) + f.TargetExt
}
