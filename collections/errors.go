package collections

import (
	"errors"
	"fmt"
)

var (
	ErrEmptySeries          = errors.New("series contains no chips")
	ErrNotLoaded            = errors.New("no image has been loaded")
	ErrNotProcessed         = errors.New("must first process ChipQuant")
	ErrNotSeries            = errors.New("must provide a valid ChipSeries")
	ErrNoSeries             = errors.New("assay has no series")
	ErrLengthMismatch       = errors.New("descriptions and paths have different lengths")
	ErrUnknownAssay         = errors.New("no assay with that description")
	ErrDuplicateDescription = errors.New("assay descriptions must be unique")
	ErrDuplicateIndex       = errors.New("two files share a series index")
	ErrExportDirMissing     = errors.New("export directory does not exist")
	ErrNoExportTarget       = errors.New("no export directory given and none known")
	ErrBadPattern           = errors.New(`pattern must contain exactly one "{}"`)
	ErrNoMatch              = errors.New("pattern matched nothing")
	ErrAmbiguousMatch       = errors.New("pattern matched more than one path")
	ErrNoReference          = errors.New("a feature reference is required")
)

// FilenameError reports a series image whose name does not end in _<integer>.
type FilenameError struct {
	Path string
	Err  error
}

func (e *FilenameError) Error() string {
	return fmt.Sprintf("%s: filename stem must end in _<integer>: %v", e.Path, e.Err)
}

func (e *FilenameError) Unwrap() error {
	return e.Err
}

// GlobError reports a folder pattern that did not resolve to exactly one path.
// Err is ErrNoMatch or ErrAmbiguousMatch.
type GlobError struct {
	Pattern string
	Handle  string
	Matches []string
	Err     error
}

func (e *GlobError) Error() string {
	return fmt.Sprintf("handle %q with pattern %q: %v (%d matches)", e.Handle, e.Pattern, e.Err, len(e.Matches))
}

func (e *GlobError) Unwrap() error {
	return e.Err
}
