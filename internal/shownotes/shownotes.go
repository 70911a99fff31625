// Package shownotes warms the show notes cache for episodes being
// downloaded, so notes are readable offline alongside the audio file.
package shownotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/podkeeper/episode_downloader/internal/logctx"
)

type Client struct {
	BaseURL    string
	UserAgent  string
	httpClient *http.Client
}

func NewClient(baseURL, userAgent string) *Client {
	return &Client{
		BaseURL:    baseURL,
		UserAgent:  userAgent,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type notesDocument struct {
	Podcast struct {
		UUID     string `json:"uuid"`
		Episodes []struct {
			UUID      string `json:"uuid"`
			ShowNotes string `json:"show_notes"`
		} `json:"episodes"`
	} `json:"podcast"`
}

// Fetch retrieves the show notes for one episode from the cache server.
// Passing through the server populates its cache as a side effect, which is
// the point when called while a download is queued.
func (c *Client) Fetch(ctx context.Context, podcastID, episodeID string) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("podcast_id", podcastID, "episode_id", episodeID)

	url := fmt.Sprintf("%s/mobile/show_notes/full/%s", c.BaseURL, podcastID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build show notes request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch show notes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("show notes request failed with status %d", resp.StatusCode)
	}

	var doc notesDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode show notes: %w", err)
	}

	for _, ep := range doc.Podcast.Episodes {
		if ep.UUID == episodeID {
			logger.Debug("show notes cached")

			return ep.ShowNotes, nil
		}
	}

	logger.Debug("episode not present in show notes document")

	return "", nil
}
