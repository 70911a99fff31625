package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/podkeeper/episode_downloader/internal/episode"
	"github.com/podkeeper/episode_downloader/internal/logctx"
)

const filePerm = 0o644

// Fetcher performs one blocking, synchronous download of one episode: it
// opens an HTTP GET, streams the response into a temporary file while
// reporting byte counts, then atomically moves the temp file into place.
//
// Download must run to completion on the goroutine given to it by the
// caller and must not spawn independent concurrent work: the scheduler
// treats the call's return as the sole signal of job completion, so any
// fire-and-forget inside it would be invisible to lifecycle tracking and
// retry accounting.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

func New(client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	return &Fetcher{client: client, userAgent: userAgent}
}

// Download fetches the episode into tempFile and promotes it to downloadFile
// on success. The temp file is deleted on every exit path; on failure any
// half-written downloadFile is deleted too, so a corrupt artifact is never
// visible at the final path.
func (f *Fetcher) Download(ctx context.Context, ep *episode.Episode, downloadFile, tempFile string, onProgress ProgressFunc) Result {
	logger := logctx.LoggerFromContext(ctx).With("episode_id", ep.ID)

	downloadURL, ok := validateURL(ep.DownloadURL)
	if !ok {
		return InvalidDownloadURL{URL: ep.DownloadURL}
	}

	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}

	succeeded := false

	defer func() {
		if err := os.Remove(tempFile); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove temp file", "file", tempFile, "err", err)
		}

		if !succeeded {
			if err := os.Remove(downloadFile); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to remove partial download file", "file", downloadFile, "err", err)
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL.String(), nil)
	if err != nil {
		return InvalidDownloadURL{URL: ep.DownloadURL}
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := f.client.Do(req)
	if err != nil {
		return ExceptionFailure{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return UnsuccessfulHTTPCall{Code: resp.StatusCode}
	}

	total := contentLength(resp, ep)

	logger.Info("downloading episode", "url", downloadURL.String(), "expected_size", humanize.Bytes(uint64(max64(total, 0))))

	// The zero-byte sample distinguishes "0 bytes so far" from "not started".
	onProgress(0, total)

	written, err := f.writeTempFile(resp.Body, tempFile, total, onProgress)
	if err != nil {
		return ExceptionFailure{Err: err}
	}

	if err := promote(tempFile, downloadFile); err != nil {
		return ExceptionFailure{Err: err}
	}

	succeeded = true

	logger.Info("downloaded episode", "file", downloadFile, "size", humanize.Bytes(uint64(written)))

	return Success{File: downloadFile, Bytes: written}
}

func (f *Fetcher) writeTempFile(body io.Reader, tempFile string, total int64, onProgress ProgressFunc) (int64, error) {
	out, err := os.OpenFile(tempFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := io.Copy(out, newProgressReader(body, total, onProgress))
	if err != nil {
		out.Close()

		return written, fmt.Errorf("failed to stream response body: %w", err)
	}

	if err := out.Close(); err != nil {
		return written, fmt.Errorf("failed to close temp file: %w", err)
	}

	return written, nil
}

// promote moves the temp file into its final place, overwriting any existing
// file at that path. Falls back to a copy when rename crosses filesystems.
func promote(tempFile, downloadFile string) error {
	if err := os.Rename(tempFile, downloadFile); err == nil {
		return nil
	}

	in, err := os.Open(tempFile)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(downloadFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create download file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return fmt.Errorf("failed to copy temp file into place: %w", err)
	}

	return out.Close()
}

func validateURL(raw string) (*url.URL, bool) {
	if raw == "" {
		return nil, false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}

	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, false
	}

	// Hosts with underscores fail DNS resolution on some platforms and are
	// rejected up front rather than surfacing as a transport error.
	if strings.Contains(u.Hostname(), "_") {
		return nil, false
	}

	return u, true
}

func contentLength(resp *http.Response, ep *episode.Episode) int64 {
	if resp.ContentLength > 0 {
		return resp.ContentLength
	}

	if header := resp.Header.Get("Content-Length"); header != "" {
		if n, err := strconv.ParseInt(header, 10, 64); err == nil && n > 0 {
			return n
		}
	}

	// Fall back to the feed's size hint so progress isn't indeterminate.
	if ep.SizeBytes > 0 {
		return ep.SizeBytes
	}

	return -1
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}

	return b
}

// DefaultClient builds the HTTP client used for episode downloads.
func DefaultClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
