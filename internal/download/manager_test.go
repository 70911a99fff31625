package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podkeeper/episode_downloader/internal/constraint"
	"github.com/podkeeper/episode_downloader/internal/episode"
	"github.com/podkeeper/episode_downloader/internal/fetcher"
	"github.com/podkeeper/episode_downloader/internal/notification"
	"github.com/podkeeper/episode_downloader/internal/progress"
	"github.com/podkeeper/episode_downloader/internal/scheduler"
)

// channelTracker feeds scripted constraint snapshots into the monitor.
type channelTracker struct {
	snapshots chan constraint.Snapshot
}

func (c *channelTracker) Track(ctx context.Context) <-chan constraint.Snapshot {
	out := make(chan constraint.Snapshot)

	go func() {
		defer close(out)

		for {
			select {
			case snap, ok := <-c.snapshots:
				if !ok {
					return
				}

				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

type managerHarness struct {
	manager *Manager
	repo    *fakeRepo
	tracker *channelTracker
}

func newManagerHarness(t *testing.T, repo *fakeRepo, settings Settings) *managerHarness {
	t.Helper()

	cache := progress.NewCache()
	observer := notification.NewObserver(cache, notification.LogSink{})
	fetch := fetcher.New(fetcher.DefaultClient(5*time.Second), "podkeeper-test")
	tasks := NewTasks(repo, fetch, cache, observer, nil, t.TempDir(), t.TempDir(), 3)
	sched := scheduler.New(2, time.Millisecond)
	queue := NewQueueController(repo, sched, cache, tasks, settings)
	status := NewStatusController(repo, 3)

	tracker := &channelTracker{snapshots: make(chan constraint.Snapshot, 4)}
	monitor := constraint.NewMonitor(tracker, constraint.Probes{}, time.Second)

	manager := NewManager(queue, status, sched, monitor, cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = manager.Run(ctx)
	}()

	return &managerHarness{manager: manager, repo: repo, tracker: tracker}
}

func (h *managerHarness) waitForStatus(t *testing.T, episodeID string, want episode.DownloadStatus) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		if h.repo.statusOf(t, episodeID) == want {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("episode %q never reached status %s, last seen %s",
		episodeID, want, h.repo.statusOf(t, episodeID))
}

func TestManager_AutomaticDownloadWaitsForUnmeteredNetwork(t *testing.T) {
	t.Parallel()

	payload := []byte("audio payload")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	repo := newFakeRepo(&episode.Episode{
		ID:          "ep1",
		PodcastID:   "pod1",
		DownloadURL: server.URL + "/ep1.mp3",
	})

	h := newManagerHarness(t, repo, Settings{AutoDownloadUnmeteredOnly: true})

	// Metered network only: the download must hold.
	h.tracker.snapshots <- constraint.Snapshot{
		NetworkAvailable: true, UnmeteredAvailable: false,
		PowerAvailable: true, StorageAvailable: true,
	}

	require.NoError(t, h.manager.Enqueue(context.Background(), []string{"ep1"}, episode.Automatic))

	h.waitForStatus(t, "ep1", episode.StatusWaitingForNetwork)
	assert.True(t, h.manager.HasPendingWork())

	// Wi-Fi shows up: the download runs to completion.
	h.tracker.snapshots <- constraint.Snapshot{
		NetworkAvailable: true, UnmeteredAvailable: true,
		PowerAvailable: true, StorageAvailable: true,
	}

	h.waitForStatus(t, "ep1", episode.StatusDownloaded)

	h.repo.mu.Lock()
	file := h.repo.episodes["ep1"].FilePath
	h.repo.mu.Unlock()

	require.NotEmpty(t, file)

	written, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, payload, written)
}

func TestManager_CancelResetsEpisodeSilently(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(&episode.Episode{
		ID:          "ep1",
		PodcastID:   "pod1",
		DownloadURL: "https://feeds.example.com/ep1.mp3",
	})

	h := newManagerHarness(t, repo, Settings{AutoDownloadUnmeteredOnly: true})

	// No unmetered network, so the work stays pending and cancellable.
	h.tracker.snapshots <- constraint.Snapshot{
		NetworkAvailable: true, UnmeteredAvailable: false,
		PowerAvailable: true, StorageAvailable: true,
	}

	require.NoError(t, h.manager.Enqueue(context.Background(), []string{"ep1"}, episode.Automatic))
	h.waitForStatus(t, "ep1", episode.StatusWaitingForNetwork)

	require.NoError(t, h.manager.Cancel(context.Background(), "ep1"))
	h.waitForStatus(t, "ep1", episode.StatusNotQueued)

	h.repo.mu.Lock()
	msg := h.repo.episodes["ep1"].ErrorMessage
	h.repo.mu.Unlock()

	assert.Empty(t, msg, "cancellation is not an error")
}

func TestManager_StartupResetsStalePendingStatuses(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(&episode.Episode{
		ID:        "ep1",
		PodcastID: "pod1",
		Status:    episode.StatusInProgress,
	})

	h := newManagerHarness(t, repo, Settings{})
	h.waitForStatus(t, "ep1", episode.StatusNotQueued)
}
