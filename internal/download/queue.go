package download

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/podkeeper/episode_downloader/internal/episode"
	"github.com/podkeeper/episode_downloader/internal/logctx"
	"github.com/podkeeper/episode_downloader/internal/progress"
	"github.com/podkeeper/episode_downloader/internal/scheduler"
	"github.com/podkeeper/episode_downloader/internal/storage"
)

// Settings are the user preferences that shape an automatic download's
// constraint profile. User-triggered downloads ignore them.
type Settings struct {
	AutoDownloadUnmeteredOnly bool
	AutoDownloadOnlyCharging  bool
}

// QueueController translates enqueue and cancel intents into scheduler work.
// It never throws for "already queued" or "cancel of unknown id": both are
// successful no-ops.
type QueueController struct {
	repo     storage.EpisodeRepository
	sched    *scheduler.Scheduler
	cache    *progress.Cache
	tasks    *Tasks
	settings Settings

	// mu makes each enqueue batch's check-then-schedule sequence a single
	// critical section so concurrent calls cannot double-schedule an
	// episode.
	mu sync.Mutex
}

func NewQueueController(
	repo storage.EpisodeRepository,
	sched *scheduler.Scheduler,
	cache *progress.Cache,
	tasks *Tasks,
	settings Settings,
) *QueueController {
	return &QueueController{
		repo:     repo,
		sched:    sched,
		cache:    cache,
		tasks:    tasks,
		settings: settings,
	}
}

// AddToQueue schedules downloads for the given episode ids. Episodes that
// are already downloaded, user files not yet uploaded, and auto-download
// requests for opted-out episodes are skipped. Scheduling is asynchronous:
// the call returns once the intents are recorded, not when transfers finish.
func (q *QueueController) AddToQueue(ctx context.Context, ids []string, downloadType episode.DownloadType) error {
	logger := logctx.LoggerFromContext(ctx)

	eps, err := q.repo.FindByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to resolve episodes: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	updates := map[string]episode.StatusUpdate{}

	for _, ep := range eps {
		if !canDownload(ep, downloadType) {
			logger.Debug("skipping episode not eligible for download",
				"episode_id", ep.ID,
				"download_type", downloadType.String(),
			)

			continue
		}

		constraints := q.constraintsFor(ep, downloadType)
		policy := q.policyFor(ep.ID, constraints)

		tags := []string{Tag, EpisodeTag(ep.ID)}
		if !ep.IsUserFile() {
			tags = append(tags, PodcastTag(ep.PodcastID))
		}

		_, created := q.sched.EnqueueUnique(scheduler.Request{
			Name:        downloadName(ep.ID),
			Tags:        tags,
			Constraints: constraints,
			Run:         q.tasks.Download(ep.ID),
		}, policy)

		if !created {
			logger.Debug("episode already queued, keeping existing work", "episode_id", ep.ID)

			continue
		}

		updates[ep.ID] = episode.StatusUpdate{Status: episode.StatusQueued}

		if !ep.IsUserFile() {
			q.sched.EnqueueUnique(scheduler.Request{
				Name: showNotesName(ep.ID),
				Tags: []string{ShowNotesTag, EpisodeTag(ep.ID), PodcastTag(ep.PodcastID)},
				Constraints: scheduler.Constraints{
					RequiresNetwork: true,
				},
				Run: q.tasks.ShowNotes(ep.PodcastID, ep.ID),
			}, scheduler.Keep)
		}

		logger.Info("episode queued for download",
			"episode_id", ep.ID,
			"download_type", downloadType.String(),
		)
	}

	if len(updates) == 0 {
		return nil
	}

	if err := q.repo.UpdateStatuses(ctx, updates); err != nil {
		return fmt.Errorf("failed to mark episodes queued: %w", err)
	}

	return nil
}

// RemoveFromQueue cancels any work for the given episode ids, clears their
// progress entries, deletes any download file written so far and resets
// still-pending statuses. Unknown ids are no-ops.
func (q *QueueController) RemoveFromQueue(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		q.sched.CancelByTag(EpisodeTag(id))
	}

	q.cache.ClearProgress(ids...)

	return q.resetPending(ctx, ids)
}

// RemoveFromQueueForPodcast cancels every queued episode of one podcast.
func (q *QueueController) RemoveFromQueueForPodcast(ctx context.Context, podcastID string) error {
	q.sched.CancelByTag(PodcastTag(podcastID))

	ids, err := q.repo.FindIDsByPodcast(ctx, podcastID)
	if err != nil {
		return fmt.Errorf("failed to resolve podcast episodes: %w", err)
	}

	q.cache.ClearProgress(ids...)

	return q.resetPending(ctx, ids)
}

// CancelExceedingMaxAttempts cancels pending records whose attempt count
// reached the ceiling without ever running. Constraint flapping can
// reschedule pending work indefinitely; without this sweep its backoff would
// grow unbounded. In-flight retry counting is handled separately inside the
// fetch task.
func (q *QueueController) CancelExceedingMaxAttempts(ctx context.Context, records []scheduler.Record) {
	logger := logctx.LoggerFromContext(ctx)

	for _, rec := range records {
		if rec.State != scheduler.StatePending || rec.RunAttemptCount < q.tasks.maxAttempts {
			continue
		}

		logger.Warn("cancelling download stuck in reschedule loop",
			"work_name", rec.Name,
			"attempts", rec.RunAttemptCount,
		)

		q.sched.CancelByName(rec.Name)
	}
}

// resetPending moves the given episodes back to the not-queued state and
// deletes their download files, but only for those still in a pending status
// so completed downloads keep their terminal state and their file.
func (q *QueueController) resetPending(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	eps, err := q.repo.FindByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to resolve episodes: %w", err)
	}

	updates := map[string]episode.StatusUpdate{}

	for _, ep := range eps {
		if !ep.Status.IsPending() {
			continue
		}

		updates[ep.ID] = episode.Idle()
		q.removeDownloadFiles(ctx, ep)
	}

	if len(updates) == 0 {
		return nil
	}

	if err := q.repo.UpdateStatuses(ctx, updates); err != nil {
		return fmt.Errorf("failed to reset episode statuses: %w", err)
	}

	return nil
}

// removeDownloadFiles best-effort deletes the episode's audio file from disk.
// A cancelled download must not leave a half-usable file at the final path.
// Both the persisted path and the computed one are tried: a crash can strand
// a file on disk before its path reaches the repository.
func (q *QueueController) removeDownloadFiles(ctx context.Context, ep *episode.Episode) {
	logger := logctx.LoggerFromContext(ctx)

	paths := []string{q.tasks.DownloadPath(ep)}
	if ep.FilePath != "" && ep.FilePath != paths[0] {
		paths = append(paths, ep.FilePath)
	}

	for _, filePath := range paths {
		if err := os.Remove(filePath); err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("failed to delete download file",
					"episode_id", ep.ID,
					"file", filePath,
					"err", err,
				)
			}

			continue
		}

		logger.Debug("deleted download file", "episode_id", ep.ID, "file", filePath)
	}
}

// policyFor decides between Keep and Replace for an episode that may already
// have pending work. Replace is used only when the new request relaxes a
// constraint the pending record still waits on; a more restrictive request
// never pre-empts a less restrictive pending one.
func (q *QueueController) policyFor(episodeID string, next scheduler.Constraints) scheduler.ExistingWorkPolicy {
	for _, rec := range q.sched.Records(EpisodeTag(episodeID)) {
		if !rec.HasTag(Tag) || rec.State != scheduler.StatePending {
			continue
		}

		if relaxes(next, rec.Constraints) {
			return scheduler.Replace
		}
	}

	return scheduler.Keep
}

// relaxes reports whether next drops a network-type or power requirement
// that prev still carries.
func relaxes(next, prev scheduler.Constraints) bool {
	if prev.RequiresUnmeteredNetwork && !next.RequiresUnmeteredNetwork {
		return true
	}

	if prev.RequiresPower && !next.RequiresPower {
		return true
	}

	return false
}

// constraintsFor computes the constraint profile of one download request.
// Every download needs a connected network and headroom on disk; automatic
// downloads additionally honor the unmetered-only and charging-only
// settings. User files never wait for power.
func (q *QueueController) constraintsFor(ep *episode.Episode, downloadType episode.DownloadType) scheduler.Constraints {
	constraints := scheduler.Constraints{
		RequiresNetwork:       true,
		RequiresStorageNotLow: true,
	}

	if downloadType != episode.Automatic {
		return constraints
	}

	constraints.RequiresUnmeteredNetwork = q.settings.AutoDownloadUnmeteredOnly
	constraints.RequiresPower = q.settings.AutoDownloadOnlyCharging && !ep.IsUserFile()

	return constraints
}

// canDownload applies the enqueue eligibility rules: already-downloaded
// episodes are skipped, user files must be uploaded first, and automatic
// requests respect the per-episode opt-out.
func canDownload(ep *episode.Episode, downloadType episode.DownloadType) bool {
	if ep.IsDownloaded() {
		return false
	}

	if ep.IsUserFile() && !ep.IsUploaded {
		return false
	}

	if downloadType != episode.UserTriggered && ep.ExcludeFromAutoDownload {
		return false
	}

	return true
}
