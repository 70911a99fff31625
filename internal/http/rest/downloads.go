package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/podkeeper/episode_downloader/internal/download"
	"github.com/podkeeper/episode_downloader/internal/episode"
	"github.com/podkeeper/episode_downloader/internal/logctx"
	"github.com/podkeeper/episode_downloader/internal/storage"
	"github.com/podkeeper/episode_downloader/internal/telemetry"
)

// DownloadsHandler exposes the download subsystem over HTTP.
type DownloadsHandler struct {
	manager   *download.Manager
	repo      storage.EpisodeRepository
	telemetry *telemetry.Telemetry
}

func NewDownloadsHandler(manager *download.Manager, repo storage.EpisodeRepository, t *telemetry.Telemetry) *DownloadsHandler {
	return &DownloadsHandler{manager: manager, repo: repo, telemetry: t}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)

	if h.telemetry != nil {
		r.Use(h.telemetry.HTTPMetrics)
	}

	r.Post("/episodes", h.HandleSaveEpisode)
	r.Post("/downloads", h.HandleEnqueue)
	r.Get("/downloads", h.HandleListByStatus)
	r.Get("/downloads/{episodeID}", h.HandleGetDownload)
	r.Delete("/downloads/{episodeID}", h.HandleCancel)
	r.Delete("/podcasts/{podcastID}/downloads", h.HandleCancelPodcast)

	return r
}

type saveEpisodeRequest struct {
	ID                      string `json:"id"`
	PodcastID               string `json:"podcast_id"`
	Title                   string `json:"title"`
	DownloadURL             string `json:"download_url"`
	SizeBytes               int64  `json:"size_bytes"`
	IsUploaded              bool   `json:"is_uploaded"`
	ExcludeFromAutoDownload bool   `json:"exclude_from_auto_download"`
}

// HandleSaveEpisode registers or updates an episode record so it can be
// queued later.
func (h *DownloadsHandler) HandleSaveEpisode(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req saveEpisodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)

		return
	}

	ep := &episode.Episode{
		ID:                      req.ID,
		PodcastID:               req.PodcastID,
		Title:                   req.Title,
		DownloadURL:             req.DownloadURL,
		SizeBytes:               req.SizeBytes,
		IsUploaded:              req.IsUploaded,
		ExcludeFromAutoDownload: req.ExcludeFromAutoDownload,
	}

	if existing, err := h.repo.FindByID(r.Context(), req.ID); err == nil {
		// Re-registering must not wipe download state.
		ep.Status = existing.Status
		ep.ErrorMessage = existing.ErrorMessage
		ep.FilePath = existing.FilePath
	}

	if err := h.repo.Save(r.Context(), ep); err != nil {
		logger.Error("failed to save episode", "episode_id", req.ID, "err", err)
		http.Error(w, "failed to save episode", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusCreated)
}

type enqueueRequest struct {
	EpisodeIDs   []string `json:"episode_ids"`
	DownloadType string   `json:"download_type"`
}

// HandleEnqueue queues episodes for download. The response is 202: the call
// records scheduling intents, the transfers happen in the background.
func (h *DownloadsHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if len(req.EpisodeIDs) == 0 {
		http.Error(w, "episode_ids is required", http.StatusBadRequest)

		return
	}

	downloadType := episode.UserTriggered
	if req.DownloadType == episode.Automatic.String() {
		downloadType = episode.Automatic
	}

	if err := h.manager.Enqueue(r.Context(), req.EpisodeIDs, downloadType); err != nil {
		logger.Error("failed to enqueue downloads", "err", err)
		http.Error(w, "failed to enqueue downloads", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type downloadResponse struct {
	EpisodeID       string   `json:"episode_id"`
	Status          string   `json:"status"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	FilePath        string   `json:"file_path,omitempty"`
	ProgressPercent *float64 `json:"progress_percent,omitempty"`
	ProgressKnown   bool     `json:"progress_known"`
}

// HandleGetDownload reports one episode's persisted status plus its live
// progress sample when a download is in flight.
func (h *DownloadsHandler) HandleGetDownload(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")

	ep, err := h.repo.FindByID(r.Context(), episodeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "episode not found", http.StatusNotFound)

			return
		}

		logctx.LoggerFromContext(r.Context()).Error("failed to load episode", "err", err)
		http.Error(w, "failed to load episode", http.StatusInternalServerError)

		return
	}

	resp := downloadResponse{
		EpisodeID:    ep.ID,
		Status:       ep.Status.String(),
		ErrorMessage: ep.ErrorMessage,
		FilePath:     ep.FilePath,
	}

	if percent, ok := h.manager.Progress(ep.ID); ok {
		resp.ProgressPercent = percent
		resp.ProgressKnown = true
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleListByStatus lists episode ids currently in the given status.
func (h *DownloadsHandler) HandleListByStatus(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("status")

	status, ok := episode.ParseStatus(name)
	if !ok {
		http.Error(w, "unknown status", http.StatusBadRequest)

		return
	}

	ids, err := h.repo.IDsWithStatus(r.Context(), []episode.DownloadStatus{status})
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list episodes", "err", err)
		http.Error(w, "failed to list episodes", http.StatusInternalServerError)

		return
	}

	if ids == nil {
		ids = []string{}
	}

	writeJSON(w, http.StatusOK, map[string][]string{"episode_ids": ids})
}

// HandleCancel stops a download. Cancelling an episode with no active work
// is a successful no-op.
func (h *DownloadsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")

	if err := h.manager.Cancel(r.Context(), episodeID); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to cancel download", "err", err)
		http.Error(w, "failed to cancel download", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleCancelPodcast stops every queued download of one podcast.
func (h *DownloadsHandler) HandleCancelPodcast(w http.ResponseWriter, r *http.Request) {
	podcastID := chi.URLParam(r, "podcastID")

	if err := h.manager.CancelPodcast(r.Context(), podcastID); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to cancel podcast downloads", "err", err)
		http.Error(w, "failed to cancel podcast downloads", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}
