package notification

import (
	"context"
	"sync"

	"github.com/podkeeper/episode_downloader/internal/episode"
	"github.com/podkeeper/episode_downloader/internal/progress"
)

// minPublishDelta is the smallest percentage movement worth a fresh
// notification. Together with the 0..100 range it bounds the number of
// progress pushes per download to roughly twenty.
const minPublishDelta = 5.0

// Observer turns the raw progress stream of a download into throttled
// user-facing notifications.
type Observer struct {
	cache *progress.Cache
	sink  Sink
}

func NewObserver(cache *progress.Cache, sink Sink) *Observer {
	return &Observer{cache: cache, sink: sink}
}

// Observation is one episode's live notification session.
type Observation struct {
	sink   Sink
	ep     *episode.Episode
	cancel func()

	once sync.Once
	done chan struct{}
}

// Begin announces the download start and begins forwarding throttled
// progress samples until the observation ends.
func (o *Observer) Begin(ctx context.Context, ep *episode.Episode) *Observation {
	o.sink.Started(ctx, ep)

	samples, cancel := o.cache.Subscribe(ep.ID)

	obs := &Observation{
		sink:   o.sink,
		ep:     ep,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go obs.forward(ctx, samples)

	return obs
}

// Complete ends the observation with a success notification.
func (obs *Observation) Complete(ctx context.Context) {
	obs.stop()
	obs.sink.Finished(ctx, obs.ep, "")
}

// Fail ends the observation with a failure notification.
func (obs *Observation) Fail(ctx context.Context, errMessage string) {
	obs.stop()
	obs.sink.Finished(ctx, obs.ep, errMessage)
}

// Abort ends the observation silently, for cancelled downloads.
func (obs *Observation) Abort() {
	obs.stop()
}

func (obs *Observation) stop() {
	obs.once.Do(func() {
		obs.cancel()
		<-obs.done
	})
}

// forward applies the notification throttle: the first sample is always
// published, as are the sample where the percentage first becomes known and
// the 100% edge; in between, only movements of at least minPublishDelta
// points get through.
func (obs *Observation) forward(ctx context.Context, samples <-chan *float64) {
	defer close(obs.done)

	var (
		published     bool
		lastPublished *float64
	)

	for percent := range samples {
		if !obs.shouldPublish(published, lastPublished, percent) {
			continue
		}

		published = true
		lastPublished = percent

		obs.sink.Progress(ctx, obs.ep, percent)
	}
}

func (obs *Observation) shouldPublish(published bool, last, next *float64) bool {
	if !published {
		return true
	}

	if next == nil {
		return false
	}

	if last == nil {
		return true
	}

	if *next >= 100 && *last < 100 {
		return true
	}

	return *next-*last >= minPublishDelta
}
