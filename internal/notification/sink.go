package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/podkeeper/episode_downloader/internal/episode"
	"github.com/podkeeper/episode_downloader/internal/logctx"
)

// Sink receives user-facing download lifecycle events. Implementations must
// be safe for concurrent use; delivery is best effort and never affects the
// download itself.
type Sink interface {
	Started(ctx context.Context, ep *episode.Episode)
	Progress(ctx context.Context, ep *episode.Episode, percent *float64)
	Finished(ctx context.Context, ep *episode.Episode, errMessage string)
}

// LogSink writes lifecycle events to the contextual logger.
type LogSink struct{}

func (LogSink) Started(ctx context.Context, ep *episode.Episode) {
	logctx.LoggerFromContext(ctx).Info("download started",
		"episode_id", ep.ID,
		"title", ep.Title,
	)
}

func (LogSink) Progress(ctx context.Context, ep *episode.Episode, percent *float64) {
	logger := logctx.LoggerFromContext(ctx)

	if percent == nil {
		logger.Info("downloading", "episode_id", ep.ID, "progress", "unknown")

		return
	}

	logger.Info("downloading", "episode_id", ep.ID, "progress", fmt.Sprintf("%.0f%%", *percent))
}

func (LogSink) Finished(ctx context.Context, ep *episode.Episode, errMessage string) {
	logger := logctx.LoggerFromContext(ctx)

	if errMessage != "" {
		logger.Warn("download failed", "episode_id", ep.ID, "reason", errMessage)

		return
	}

	logger.Info("download finished", "episode_id", ep.ID)
}

// DiscordSink posts download start and completion messages to a Discord
// webhook. Progress samples are skipped: webhooks cannot edit a message in
// place, so per-percent updates would flood the channel.
type DiscordSink struct {
	WebhookURL string
	Client     *http.Client
}

func (d *DiscordSink) Started(ctx context.Context, ep *episode.Episode) {
	d.post(ctx, fmt.Sprintf("⬇️ Downloading **%s** (%s)", ep.Title, sizeLabel(ep.SizeBytes)))
}

func (d *DiscordSink) Progress(context.Context, *episode.Episode, *float64) {}

func (d *DiscordSink) Finished(ctx context.Context, ep *episode.Episode, errMessage string) {
	if errMessage != "" {
		d.post(ctx, fmt.Sprintf("❌ Download of **%s** failed: %s", ep.Title, errMessage))

		return
	}

	d.post(ctx, fmt.Sprintf("✅ Downloaded **%s**", ep.Title))
}

func (d *DiscordSink) post(ctx context.Context, content string) {
	logger := logctx.LoggerFromContext(ctx)

	if d.WebhookURL == "" {
		logger.Debug("discord webhook URL is not set, skipping notification")

		return
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		logger.Warn("failed to marshal discord payload", "error", err)

		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		logger.Warn("failed to build discord request", "error", err)

		return
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("failed to send discord notification", "error", err)

		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("discord webhook rejected notification", "status_code", resp.StatusCode)
	}
}

func sizeLabel(sizeBytes int64) string {
	if sizeBytes <= 0 {
		return "unknown size"
	}

	return humanize.Bytes(uint64(sizeBytes))
}

type multiSink []Sink

func (m multiSink) Started(ctx context.Context, ep *episode.Episode) {
	for _, s := range m {
		s.Started(ctx, ep)
	}
}

func (m multiSink) Progress(ctx context.Context, ep *episode.Episode, percent *float64) {
	for _, s := range m {
		s.Progress(ctx, ep, percent)
	}
}

func (m multiSink) Finished(ctx context.Context, ep *episode.Episode, errMessage string) {
	for _, s := range m {
		s.Finished(ctx, ep, errMessage)
	}
}

// Combine fans events out to every given sink in order.
func Combine(sinks ...Sink) Sink {
	return multiSink(sinks)
}
