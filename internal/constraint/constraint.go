package constraint

import (
	"context"
	"time"

	"github.com/podkeeper/episode_downloader/internal/logctx"
)

// Snapshot is a point-in-time read of the device-level download
// prerequisites. It is an immutable value, replaced wholesale whenever any
// field changes.
type Snapshot struct {
	NetworkAvailable   bool
	UnmeteredAvailable bool
	PowerAvailable     bool
	StorageAvailable   bool
}

// Tracker is a push-based source of constraint snapshots. Host platforms
// with native constraint tracking implement this so their platform- and
// device-specific edge cases are observed faithfully; when no tracker is
// available the monitor falls back to polling probes.
type Tracker interface {
	Track(ctx context.Context) <-chan Snapshot
}

// Probes are the independently-observed device state reads used by the
// polling fallback.
type Probes struct {
	Network func(ctx context.Context) (connected, unmetered bool)
	Power   func(ctx context.Context) bool
	Storage func(ctx context.Context) bool
}

// Monitor continuously observes download prerequisites and emits the current
// snapshot whenever it changes.
type Monitor struct {
	tracker  Tracker
	probes   Probes
	interval time.Duration
}

// NewMonitor builds a monitor that prefers the given tracker and falls back
// to polling the probes at the given interval when the tracker is nil.
func NewMonitor(tracker Tracker, probes Probes, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &Monitor{tracker: tracker, probes: probes, interval: interval}
}

// Stream emits constraint snapshots until the context is cancelled.
// Identical consecutive snapshots are deduplicated to avoid needless
// downstream reconciliation churn.
func (m *Monitor) Stream(ctx context.Context) <-chan Snapshot {
	var source <-chan Snapshot
	if m.tracker != nil {
		source = m.tracker.Track(ctx)
	} else {
		source = m.poll(ctx)
	}

	out := make(chan Snapshot, 1)

	go func() {
		defer close(out)

		var (
			last    Snapshot
			hasLast bool
		)

		for snapshot := range source {
			if hasLast && snapshot == last {
				continue
			}

			last = snapshot
			hasLast = true

			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (m *Monitor) poll(ctx context.Context) <-chan Snapshot {
	out := make(chan Snapshot, 1)

	go func() {
		defer close(out)

		logger := logctx.LoggerFromContext(ctx)
		logger.Debug("polling download constraints", "interval", m.interval.String())

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case out <- m.read(ctx):
			case <-ctx.Done():
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (m *Monitor) read(ctx context.Context) Snapshot {
	connected, unmetered := true, true
	if m.probes.Network != nil {
		connected, unmetered = m.probes.Network(ctx)
	}

	power := true
	if m.probes.Power != nil {
		power = m.probes.Power(ctx)
	}

	storage := true
	if m.probes.Storage != nil {
		storage = m.probes.Storage(ctx)
	}

	return Snapshot{
		NetworkAvailable:   connected,
		UnmeteredAvailable: unmetered,
		PowerAvailable:     power,
		StorageAvailable:   storage,
	}
}
