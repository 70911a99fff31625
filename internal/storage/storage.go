package storage

import (
	"context"
	"errors"

	"github.com/podkeeper/episode_downloader/internal/episode"
)

// ErrNotFound is returned when an episode id has no record.
var ErrNotFound = errors.New("episode not found")

// EpisodeReadRepository exposes the read side of the episode store.
type EpisodeReadRepository interface {
	FindByID(ctx context.Context, id string) (*episode.Episode, error)
	FindByIDs(ctx context.Context, ids []string) ([]*episode.Episode, error)
	FindIDsByPodcast(ctx context.Context, podcastID string) ([]string, error)
	IDsWithStatus(ctx context.Context, statuses []episode.DownloadStatus) ([]string, error)
}

// EpisodeWriteRepository exposes the write side of the episode store.
// UpdateStatuses applies the whole batch atomically: readers never observe a
// half-updated generation of statuses.
type EpisodeWriteRepository interface {
	Save(ctx context.Context, ep *episode.Episode) error
	UpdateStatuses(ctx context.Context, updates map[string]episode.StatusUpdate) error
}

// EpisodeRepository is the full persistence collaborator for the download
// subsystem.
type EpisodeRepository interface {
	EpisodeReadRepository
	EpisodeWriteRepository
}
