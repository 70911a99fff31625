package fetcher

import "fmt"

// Result is the typed outcome of a single download attempt. All failures are
// caught at the fetch boundary and converted into one of these values; errors
// never propagate past the fetcher as raw panics or unwrapped returns.
type Result interface {
	downloadResult()
}

// Success means the fetched bytes were atomically promoted to the final path.
type Success struct {
	File  string
	Bytes int64
}

// InvalidDownloadURL means the episode URL was absent or malformed. No I/O
// was attempted. Not retryable.
type InvalidDownloadURL struct {
	URL string
}

// UnsuccessfulHTTPCall means the server answered with a non-2xx status.
type UnsuccessfulHTTPCall struct {
	Code int
}

// ExceptionFailure wraps any transport or I/O error raised while fetching.
type ExceptionFailure struct {
	Err error
}

func (Success) downloadResult()              {}
func (InvalidDownloadURL) downloadResult()   {}
func (UnsuccessfulHTTPCall) downloadResult() {}
func (ExceptionFailure) downloadResult()     {}

func (e ExceptionFailure) Error() string {
	return fmt.Sprintf("download failed: %v", e.Err)
}

func (e ExceptionFailure) Unwrap() error {
	return e.Err
}

func (e UnsuccessfulHTTPCall) Error() string {
	return fmt.Sprintf("download failed with HTTP %d", e.Code)
}

func (e InvalidDownloadURL) Error() string {
	return fmt.Sprintf("invalid download url: %q", e.URL)
}
