package download

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/podkeeper/episode_downloader/internal/episode"
	"github.com/podkeeper/episode_downloader/internal/fetcher"
	"github.com/podkeeper/episode_downloader/internal/logctx"
	"github.com/podkeeper/episode_downloader/internal/notification"
	"github.com/podkeeper/episode_downloader/internal/progress"
	"github.com/podkeeper/episode_downloader/internal/scheduler"
	"github.com/podkeeper/episode_downloader/internal/shownotes"
	"github.com/podkeeper/episode_downloader/internal/storage"
)

// Work output keys surfaced to status reconciliation.
const (
	OutputFilePath     = "file_path"
	OutputErrorMessage = "error_message"
)

// User-facing failure messages. Kept short: they end up verbatim in the
// episode's status line.
const (
	msgGenericFailure  = "Download failed"
	msgInvalidURL      = "Download failed, the episode download link is invalid"
	msgOutOfStorage    = "Download failed, not enough storage space"
	msgConnectionError = "Download failed, check your internet connection"
	msgTimeout         = "Download failed, the connection timed out"
	msgSecureConn      = "Download failed, a secure connection could not be established"
	msgTooManyAttempts = "Download failed, too many attempts"
)

// Tasks builds the work funcs the queue controller hands to the scheduler.
type Tasks struct {
	repo      storage.EpisodeRepository
	fetch     *fetcher.Fetcher
	cache     *progress.Cache
	observer  *notification.Observer
	shownotes *shownotes.Client

	downloadDir string
	tempDir     string
	maxAttempts int
}

func NewTasks(
	repo storage.EpisodeRepository,
	fetch *fetcher.Fetcher,
	cache *progress.Cache,
	observer *notification.Observer,
	notesClient *shownotes.Client,
	downloadDir, tempDir string,
	maxAttempts int,
) *Tasks {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &Tasks{
		repo:        repo,
		fetch:       fetch,
		cache:       cache,
		observer:    observer,
		shownotes:   notesClient,
		downloadDir: downloadDir,
		tempDir:     tempDir,
		maxAttempts: maxAttempts,
	}
}

// Download returns the work func that fetches one episode. It runs to
// completion on the worker goroutine it is given; its return is the sole
// completion signal the scheduler sees.
func (t *Tasks) Download(episodeID string) scheduler.WorkFunc {
	return func(ctx context.Context, work *scheduler.Work) scheduler.Outcome {
		ctx = logctx.With(ctx, "episode_id", episodeID, "work_id", work.ID())
		logger := logctx.LoggerFromContext(ctx)

		work.SetExecuting(true)

		ep, err := t.repo.FindByID(ctx, episodeID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				logger.Warn("episode vanished before its download ran")

				return scheduler.Failure(scheduler.Output{OutputErrorMessage: msgGenericFailure})
			}

			return t.retryOrFail(logger, work, fmt.Sprintf("%s, %v", msgGenericFailure, err))
		}

		if ep.IsDownloaded() {
			logger.Debug("episode already downloaded, skipping fetch")

			return scheduler.Success(scheduler.Output{OutputFilePath: ep.FilePath})
		}

		obs := t.observer.Begin(ctx, ep)

		downloadFile := t.DownloadPath(ep)
		tempFile := filepath.Join(t.tempDir, ep.ID+".tmp")

		result := t.fetch.Download(ctx, ep, downloadFile, tempFile, func(downloaded, total int64) {
			t.cache.UpdateProgress(ep.ID, downloaded, total)
		})

		t.cache.ClearProgress(ep.ID)

		switch r := result.(type) {
		case fetcher.Success:
			obs.Complete(ctx)

			return scheduler.Success(scheduler.Output{OutputFilePath: r.File})
		case fetcher.InvalidDownloadURL:
			obs.Fail(ctx, msgInvalidURL)

			return scheduler.Failure(scheduler.Output{OutputErrorMessage: msgInvalidURL})
		case fetcher.UnsuccessfulHTTPCall:
			msg := httpFailureMessage(r.Code)
			obs.Fail(ctx, msg)

			return scheduler.Failure(scheduler.Output{OutputErrorMessage: msg})
		case fetcher.ExceptionFailure:
			if ctx.Err() != nil {
				obs.Abort()

				return scheduler.Retry()
			}

			msg, fatal := classifyFetchError(r.Err)
			if fatal || work.RunAttemptCount() >= t.maxAttempts-1 {
				obs.Fail(ctx, msg)

				return scheduler.Failure(scheduler.Output{OutputErrorMessage: msg})
			}

			logger.Warn("download attempt failed, will retry",
				"attempt", work.RunAttemptCount(),
				"error", r.Err,
			)
			obs.Abort()

			return scheduler.Retry()
		default:
			obs.Fail(ctx, msgGenericFailure)

			return scheduler.Failure(scheduler.Output{OutputErrorMessage: msgGenericFailure})
		}
	}
}

// ShowNotes returns the best-effort warmup task scheduled alongside a
// download. Its failure never fails the download.
func (t *Tasks) ShowNotes(podcastID, episodeID string) scheduler.WorkFunc {
	return func(ctx context.Context, _ *scheduler.Work) scheduler.Outcome {
		if t.shownotes == nil {
			return scheduler.Success(nil)
		}

		if _, err := t.shownotes.Fetch(ctx, podcastID, episodeID); err != nil {
			logctx.LoggerFromContext(ctx).Debug("show notes warmup failed",
				"episode_id", episodeID,
				"error", err,
			)

			return scheduler.Failure(scheduler.Output{OutputErrorMessage: err.Error()})
		}

		return scheduler.Success(nil)
	}
}

// DownloadPath is the final on-disk location for an episode's audio file.
// The extension is taken from the download URL when it has one.
func (t *Tasks) DownloadPath(ep *episode.Episode) string {
	ext := path.Ext(strings.SplitN(path.Base(ep.DownloadURL), "?", 2)[0])
	if ext == "" || len(ext) > 5 {
		ext = ".mp3"
	}

	return filepath.Join(t.downloadDir, ep.ID+ext)
}

func (t *Tasks) retryOrFail(logger *slog.Logger, work *scheduler.Work, msg string) scheduler.Outcome {
	if work.RunAttemptCount() >= t.maxAttempts-1 {
		return scheduler.Failure(scheduler.Output{OutputErrorMessage: msg})
	}

	logger.Warn("download setup failed, will retry", "attempt", work.RunAttemptCount())

	return scheduler.Retry()
}

// httpFailureMessage renders a non-2xx response as a human-readable reason,
// e.g. "Download failed, 404 (Not Found)".
func httpFailureMessage(code int) string {
	text := http.StatusText(code)
	if text == "" {
		return fmt.Sprintf("%s, HTTP %d", msgGenericFailure, code)
	}

	return fmt.Sprintf("%s, %d (%s)", msgGenericFailure, code, text)
}

// classifyFetchError maps a transport or I/O error to a user-facing message
// and reports whether retrying is pointless.
func classifyFetchError(err error) (msg string, fatal bool) {
	if isOutOfStorage(err) {
		return msgOutOfStorage, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return msgTimeout, false
		}

		return msgConnectionError, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return msgTimeout, false
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return msgTimeout, false
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return msgSecureConn, false
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return msgSecureConn, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return msgConnectionError, false
	}

	return fmt.Sprintf("%s, %v", msgGenericFailure, err), false
}

// isOutOfStorage detects storage exhaustion from OS error codes, with
// message sniffing as a best-effort fallback for wrapped errors that lost
// their errno.
func isOutOfStorage(err error) bool {
	if errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT) {
		return true
	}

	msg := strings.ToLower(err.Error())

	for _, marker := range []string{"no space", "not enough space", "disk full", "quota"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
