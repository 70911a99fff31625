package download

import (
	"context"
	"fmt"

	"github.com/podkeeper/episode_downloader/internal/constraint"
	"github.com/podkeeper/episode_downloader/internal/episode"
	"github.com/podkeeper/episode_downloader/internal/logctx"
	"github.com/podkeeper/episode_downloader/internal/scheduler"
	"github.com/podkeeper/episode_downloader/internal/storage"
)

// StatusController reconciles scheduler work records and the current
// constraint snapshot into persisted episode statuses. The scheduler's
// record stream is the source of truth; the database never leads it.
type StatusController struct {
	repo        storage.EpisodeRepository
	maxAttempts int
}

func NewStatusController(repo storage.EpisodeRepository, maxAttempts int) *StatusController {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &StatusController{repo: repo, maxAttempts: maxAttempts}
}

// UpdateStatuses derives a status for every download record and applies the
// whole pass as one atomic batch. Episodes left in a pending status with no
// matching record are reset to not-queued in the same batch, so readers
// never observe a half-updated generation.
func (s *StatusController) UpdateStatuses(ctx context.Context, records []scheduler.Record, snap constraint.Snapshot) error {
	updates := map[string]episode.StatusUpdate{}
	tracked := map[string]bool{}

	for _, rec := range records {
		if !rec.HasTag(Tag) {
			continue
		}

		episodeID, ok := EpisodeIDFromRecord(rec)
		if !ok {
			continue
		}

		tracked[episodeID] = true
		updates[episodeID] = s.statusFor(rec, snap)
	}

	orphans, err := s.repo.IDsWithStatus(ctx, episode.PendingStatuses())
	if err != nil {
		return fmt.Errorf("failed to list pending episodes: %w", err)
	}

	for _, id := range orphans {
		if tracked[id] {
			continue
		}

		updates[id] = episode.Idle()
	}

	if len(updates) == 0 {
		return nil
	}

	if err := s.repo.UpdateStatuses(ctx, updates); err != nil {
		return fmt.Errorf("failed to apply status batch: %w", err)
	}

	logctx.LoggerFromContext(ctx).Debug("reconciled download statuses", "episodes", len(updates))

	return nil
}

// statusFor maps one work record to an episode status under the given
// snapshot. A Running record whose work func has not signalled execution yet
// is still waiting on a worker and counts as pending.
func (s *StatusController) statusFor(rec scheduler.Record, snap constraint.Snapshot) episode.StatusUpdate {
	state := rec.State
	if state == scheduler.StateRunning && !rec.Executing {
		state = scheduler.StatePending
	}

	switch state {
	case scheduler.StatePending:
		return pendingStatus(rec.Constraints, snap)
	case scheduler.StateRunning:
		return episode.StatusUpdate{Status: episode.StatusInProgress}
	case scheduler.StateSucceeded:
		return episode.Success(rec.Output[OutputFilePath])
	case scheduler.StateFailed:
		msg := rec.Output[OutputErrorMessage]
		if msg == "" {
			msg = msgGenericFailure
		}

		return episode.Failure(msg)
	case scheduler.StateCancelled:
		if rec.RunAttemptCount >= s.maxAttempts {
			return episode.Failure(msgTooManyAttempts)
		}

		// A cancel below the ceiling is either user intent or an
		// internal reschedule, neither a user-facing failure.
		return episode.Idle()
	default:
		return episode.Idle()
	}
}

func pendingStatus(c scheduler.Constraints, snap constraint.Snapshot) episode.StatusUpdate {
	switch {
	case c.RequiresNetwork && !snap.NetworkAvailable:
		return episode.StatusUpdate{Status: episode.StatusWaitingForNetwork}
	case c.RequiresUnmeteredNetwork && !snap.UnmeteredAvailable:
		return episode.StatusUpdate{Status: episode.StatusWaitingForNetwork}
	case c.RequiresPower && !snap.PowerAvailable:
		return episode.StatusUpdate{Status: episode.StatusWaitingForPower}
	case c.RequiresStorageNotLow && !snap.StorageAvailable:
		return episode.StatusUpdate{Status: episode.StatusWaitingForStorage}
	default:
		return episode.StatusUpdate{Status: episode.StatusQueued}
	}
}
