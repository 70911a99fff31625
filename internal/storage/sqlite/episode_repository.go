package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/podkeeper/episode_downloader/internal/episode"
	"github.com/podkeeper/episode_downloader/internal/storage"
)

// EpisodeRepository stores episode records in SQLite.
type EpisodeRepository struct {
	db *sql.DB
}

func NewEpisodeRepository(dbConn *sql.DB) *EpisodeRepository {
	return &EpisodeRepository{db: dbConn}
}

const episodeColumns = `id, podcast_id, title, download_url, size_bytes, uploaded,
	exclude_from_auto_download, download_status, error_message, file_path`

func (r *EpisodeRepository) FindByID(ctx context.Context, id string) (*episode.Episode, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)

	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return ep, nil
}

func (r *EpisodeRepository) FindByIDs(ctx context.Context, ids []string) ([]*episode.Episode, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE id IN (` + placeholders(len(ids)) + `)`

	rows, err := r.db.QueryContext(ctx, query, toAnySlice(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var episodes []*episode.Episode

	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}

		episodes = append(episodes, ep)
	}

	return episodes, rows.Err()
}

func (r *EpisodeRepository) FindIDsByPodcast(ctx context.Context, podcastID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM episodes WHERE podcast_id = ?`, podcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanIDs(rows)
}

func (r *EpisodeRepository) IDsWithStatus(ctx context.Context, statuses []episode.DownloadStatus) ([]string, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	names := make([]any, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, s.String())
	}

	query := `SELECT id FROM episodes WHERE download_status IN (` + placeholders(len(names)) + `)`

	rows, err := r.db.QueryContext(ctx, query, names...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanIDs(rows)
}

func (r *EpisodeRepository) Save(ctx context.Context, ep *episode.Episode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO episodes (id, podcast_id, title, download_url, size_bytes, uploaded,
			exclude_from_auto_download, download_status, error_message, file_path, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			podcast_id = excluded.podcast_id,
			title = excluded.title,
			download_url = excluded.download_url,
			size_bytes = excluded.size_bytes,
			uploaded = excluded.uploaded,
			exclude_from_auto_download = excluded.exclude_from_auto_download,
			updated_at = excluded.updated_at
	`,
		ep.ID, ep.PodcastID, ep.Title, ep.DownloadURL, ep.SizeBytes, ep.IsUploaded,
		ep.ExcludeFromAutoDownload, ep.Status.String(), ep.ErrorMessage, ep.FilePath,
		time.Now().Format(time.RFC3339),
	)

	return err
}

// UpdateStatuses applies all updates in one transaction so that readers never
// observe a half-updated generation of statuses.
func (r *EpisodeRepository) UpdateStatuses(ctx context.Context, updates map[string]episode.StatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE episodes
		SET download_status = ?, error_message = ?, file_path = CASE WHEN ? != '' THEN ? ELSE file_path END, updated_at = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Format(time.RFC3339)

	for id, update := range updates {
		if _, err := stmt.ExecContext(ctx,
			update.Status.String(), update.ErrorMessage, update.FilePath, update.FilePath, now, id,
		); err != nil {
			return fmt.Errorf("failed to update status for %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func scanEpisode(row interface{ Scan(...any) error }) (*episode.Episode, error) {
	var (
		ep         episode.Episode
		statusName string
	)

	err := row.Scan(
		&ep.ID, &ep.PodcastID, &ep.Title, &ep.DownloadURL, &ep.SizeBytes, &ep.IsUploaded,
		&ep.ExcludeFromAutoDownload, &statusName, &ep.ErrorMessage, &ep.FilePath,
	)
	if err != nil {
		return nil, err
	}

	ep.Status, _ = episode.ParseStatus(statusName)

	return &ep, nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}

	return out
}
