package gridview

import (
	"errors"
	"fmt"
)

// Version is the module version, set at build time via -ldflags.
var Version = "0.1.0-dev"

var (
	// ErrSourceInvalid is returned for a source path or URL that cannot be
	// resolved into browsable entries.
	ErrSourceInvalid = errors.New("invalid source")

	// ErrFetchFailed is returned when a remote source could not be retrieved,
	// including timeouts.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrDecodeFailed is returned for corrupt or unsupported image data.
	ErrDecodeFailed = errors.New("decode failed")

	// ErrRenderFailed is returned when the terminal encoder rejects a job.
	ErrRenderFailed = errors.New("render failed")

	// ErrWorkerCrashed is returned for a job whose render worker died mid-job.
	// The pool recovers; only the in-flight job is lost.
	ErrWorkerCrashed = errors.New("render worker crashed")
)

// HTTPStatusError is returned when a remote source responds with a non-200
// status code.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
