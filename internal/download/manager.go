package download

import (
	"context"
	"fmt"

	"github.com/podkeeper/episode_downloader/internal/constraint"
	"github.com/podkeeper/episode_downloader/internal/episode"
	"github.com/podkeeper/episode_downloader/internal/logctx"
	"github.com/podkeeper/episode_downloader/internal/progress"
	"github.com/podkeeper/episode_downloader/internal/scheduler"
)

// Metrics receives each reconciliation pass for instrumentation. A nil
// Metrics disables it.
type Metrics interface {
	ObserveReconcile(ctx context.Context, records []scheduler.Record, snap constraint.Snapshot)
}

// Manager is the facade of the download subsystem. Enqueue and cancel calls
// record scheduling intents and return immediately; the actual transfers,
// status reconciliation and stuck-work sweeps happen inside Run.
type Manager struct {
	queue   *QueueController
	status  *StatusController
	sched   *scheduler.Scheduler
	monitor *constraint.Monitor
	cache   *progress.Cache
	metrics Metrics
}

func NewManager(
	queue *QueueController,
	status *StatusController,
	sched *scheduler.Scheduler,
	monitor *constraint.Monitor,
	cache *progress.Cache,
	metrics Metrics,
) *Manager {
	return &Manager{
		queue:   queue,
		status:  status,
		sched:   sched,
		monitor: monitor,
		cache:   cache,
		metrics: metrics,
	}
}

// Enqueue queues the given episodes for download.
func (m *Manager) Enqueue(ctx context.Context, ids []string, downloadType episode.DownloadType) error {
	return m.queue.AddToQueue(ctx, ids, downloadType)
}

// Cancel stops any download work for the given episodes. Unknown ids are
// no-ops.
func (m *Manager) Cancel(ctx context.Context, ids ...string) error {
	return m.queue.RemoveFromQueue(ctx, ids...)
}

// CancelPodcast stops every queued download belonging to one podcast.
func (m *Manager) CancelPodcast(ctx context.Context, podcastID string) error {
	return m.queue.RemoveFromQueueForPodcast(ctx, podcastID)
}

// HasPendingWork reports whether any download work is still live.
func (m *Manager) HasPendingWork() bool {
	return m.sched.HasLiveWork(Tag)
}

// Progress returns the live progress percentage for an episode, if tracked.
func (m *Manager) Progress(episodeID string) (*float64, bool) {
	return m.cache.Percent(episodeID)
}

// Run drives the subsystem until the context is cancelled: it starts the
// work scheduler and reconciles persisted statuses against the combined
// latest of (work records, constraint snapshot). Deriving both sides of a
// status write from the same pass keeps writes ordered; a write never
// reflects a snapshot older than the record sample it is paired with.
func (m *Manager) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	// Episodes stuck in a pending status from a previous process have no
	// work records anymore; reset them before accepting new work.
	if err := m.status.UpdateStatuses(ctx, nil, constraint.Snapshot{}); err != nil {
		return fmt.Errorf("failed to reset stale download statuses: %w", err)
	}

	snapshots := m.monitor.Stream(ctx)

	schedulerSnaps := make(chan constraint.Snapshot, 1)
	reconcileSnaps := make(chan constraint.Snapshot, 1)

	go fanOutSnapshots(ctx, snapshots, schedulerSnaps, reconcileSnaps)

	go m.sched.Run(ctx, schedulerSnaps)

	records := m.sched.Watch(ctx, Tag)

	var (
		latestRecords []scheduler.Record
		latestSnap    constraint.Snapshot
		haveSnap      bool
	)

	logger.Info("download manager started")

	for {
		select {
		case recs, ok := <-records:
			if !ok {
				return nil
			}

			latestRecords = recs
		case snap, ok := <-reconcileSnaps:
			if !ok {
				return nil
			}

			latestSnap = snap
			haveSnap = true
		case <-ctx.Done():
			logger.Info("download manager stopped")

			return nil
		}

		if !haveSnap {
			continue
		}

		m.queue.CancelExceedingMaxAttempts(ctx, latestRecords)

		if err := m.status.UpdateStatuses(ctx, latestRecords, latestSnap); err != nil {
			logger.Error("status reconciliation failed", "error", err)
		}

		if m.metrics != nil {
			m.metrics.ObserveReconcile(ctx, latestRecords, latestSnap)
		}
	}
}

// fanOutSnapshots duplicates the constraint stream for its two consumers,
// conflating each side to the latest value so neither can stall the other.
func fanOutSnapshots(ctx context.Context, in <-chan constraint.Snapshot, outs ...chan constraint.Snapshot) {
	defer func() {
		for _, out := range outs {
			close(out)
		}
	}()

	for {
		select {
		case snap, ok := <-in:
			if !ok {
				return
			}

			for _, out := range outs {
				select {
				case out <- snap:
				default:
					select {
					case <-out:
					default:
					}

					select {
					case out <- snap:
					default:
					}
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
