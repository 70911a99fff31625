package notification_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podkeeper/episode_downloader/internal/episode"
	"github.com/podkeeper/episode_downloader/internal/notification"
	"github.com/podkeeper/episode_downloader/internal/progress"
)

type recordingSink struct {
	mu       sync.Mutex
	started  int
	finished []string
	samples  []*float64
}

func (r *recordingSink) Started(context.Context, *episode.Episode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.started++
}

func (r *recordingSink) Progress(_ context.Context, _ *episode.Episode, percent *float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = append(r.samples, percent)
}

func (r *recordingSink) Finished(_ context.Context, _ *episode.Episode, errMessage string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finished = append(r.finished, errMessage)
}

func (r *recordingSink) snapshot() (int, []*float64, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.started, append([]*float64(nil), r.samples...), append([]string(nil), r.finished...)
}

func percents(samples []*float64) []float64 {
	out := make([]float64, 0, len(samples))

	for _, s := range samples {
		if s != nil {
			out = append(out, *s)
		}
	}

	return out
}

func TestObservation_ThrottlesSmallDeltas(t *testing.T) {
	t.Parallel()

	cache := progress.NewCache()
	sink := &recordingSink{}
	observer := notification.NewObserver(cache, sink)

	ep := &episode.Episode{ID: "ep-1", Title: "Episode One"}
	obs := observer.Begin(context.Background(), ep)

	// 1000-byte download reported in 1% steps; only 5-point moves and the
	// 100% edge should get through.
	for downloaded := int64(0); downloaded <= 1000; downloaded += 10 {
		cache.UpdateProgress(ep.ID, downloaded, 1000)
	}

	obs.Complete(context.Background())

	started, samples, finished := sink.snapshot()

	assert.Equal(t, 1, started)
	require.Equal(t, []string{""}, finished)

	got := percents(samples)
	require.NotEmpty(t, got)
	assert.Equal(t, 100.0, got[len(got)-1])
	assert.LessOrEqual(t, len(got), 22)

	for i := 1; i < len(got)-1; i++ {
		assert.GreaterOrEqual(t, got[i]-got[i-1], 5.0)
	}
}

func TestObservation_PublishesFirstSample(t *testing.T) {
	t.Parallel()

	cache := progress.NewCache()
	sink := &recordingSink{}
	observer := notification.NewObserver(cache, sink)

	ep := &episode.Episode{ID: "ep-first"}
	obs := observer.Begin(context.Background(), ep)

	cache.UpdateProgress(ep.ID, 30, 1000)
	obs.Complete(context.Background())

	_, samples, _ := sink.snapshot()
	assert.Equal(t, []float64{3.0}, percents(samples))
}

func TestObservation_PublishesFirstKnownPercent(t *testing.T) {
	t.Parallel()

	cache := progress.NewCache()
	sink := &recordingSink{}
	observer := notification.NewObserver(cache, sink)

	ep := &episode.Episode{ID: "ep-2"}
	obs := observer.Begin(context.Background(), ep)

	// Total size unknown at first, then learned mid-flight.
	cache.UpdateProgress(ep.ID, 100, 0)
	cache.UpdateProgress(ep.ID, 100, 10000)
	obs.Complete(context.Background())

	_, samples, _ := sink.snapshot()
	require.Len(t, samples, 2)
	assert.Nil(t, samples[0])
	require.NotNil(t, samples[1])
	assert.Equal(t, 1.0, *samples[1])
}

func TestObservation_FailPublishesReason(t *testing.T) {
	t.Parallel()

	cache := progress.NewCache()
	sink := &recordingSink{}
	observer := notification.NewObserver(cache, sink)

	ep := &episode.Episode{ID: "ep-3"}
	obs := observer.Begin(context.Background(), ep)
	obs.Fail(context.Background(), "Download failed")

	started, _, finished := sink.snapshot()
	assert.Equal(t, 1, started)
	assert.Equal(t, []string{"Download failed"}, finished)
}

func TestObservation_AbortIsSilent(t *testing.T) {
	t.Parallel()

	cache := progress.NewCache()
	sink := &recordingSink{}
	observer := notification.NewObserver(cache, sink)

	ep := &episode.Episode{ID: "ep-4"}
	obs := observer.Begin(context.Background(), ep)
	obs.Abort()

	started, _, finished := sink.snapshot()
	assert.Equal(t, 1, started)
	assert.Empty(t, finished)
}
