package download

import (
	"strings"

	"github.com/podkeeper/episode_downloader/internal/scheduler"
)

// Tag marks every download work record; the reconciliation loop watches it.
const Tag = "download"

// ShowNotesTag marks the best-effort show notes warmup tasks. They share the
// episode and podcast tags with their download so a cancel sweeps both, but
// they never enter status reconciliation.
const ShowNotesTag = "shownotes"

const (
	episodeTagPrefix = "download:episode:"
	podcastTagPrefix = "download:podcast:"
)

// EpisodeTag returns the per-episode cancellation tag.
func EpisodeTag(episodeID string) string {
	return episodeTagPrefix + episodeID
}

// PodcastTag returns the per-podcast cancellation tag.
func PodcastTag(podcastID string) string {
	return podcastTagPrefix + podcastID
}

// downloadName is the unique-work name of an episode's download. Sharing the
// scheduler's name keyspace with the episode tag keeps at most one live
// download per episode.
func downloadName(episodeID string) string {
	return EpisodeTag(episodeID)
}

func showNotesName(episodeID string) string {
	return "shownotes:episode:" + episodeID
}

// EpisodeIDFromRecord extracts the episode id a download record belongs to.
func EpisodeIDFromRecord(rec scheduler.Record) (string, bool) {
	for _, tag := range rec.Tags {
		if id, ok := strings.CutPrefix(tag, episodeTagPrefix); ok && id != "" {
			return id, true
		}
	}

	return "", false
}
