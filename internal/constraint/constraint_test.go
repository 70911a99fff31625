package constraint_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podkeeper/episode_downloader/internal/constraint"
)

type stubTracker struct {
	snapshots []constraint.Snapshot
}

func (s *stubTracker) Track(_ context.Context) <-chan constraint.Snapshot {
	out := make(chan constraint.Snapshot, len(s.snapshots))

	for _, snap := range s.snapshots {
		out <- snap
	}

	close(out)

	return out
}

func collect(t *testing.T, stream <-chan constraint.Snapshot, want int) []constraint.Snapshot {
	t.Helper()

	var out []constraint.Snapshot

	deadline := time.After(2 * time.Second)

	for len(out) < want {
		select {
		case snap, ok := <-stream:
			if !ok {
				return out
			}

			out = append(out, snap)
		case <-deadline:
			t.Fatalf("timed out after %d of %d snapshots", len(out), want)
		}
	}

	return out
}

func TestStream_DeduplicatesConsecutiveSnapshots(t *testing.T) {
	t.Parallel()

	online := constraint.Snapshot{NetworkAvailable: true, UnmeteredAvailable: true, PowerAvailable: true, StorageAvailable: true}
	metered := online
	metered.UnmeteredAvailable = false

	tracker := &stubTracker{snapshots: []constraint.Snapshot{online, online, online, metered, metered, online}}
	monitor := constraint.NewMonitor(tracker, constraint.Probes{}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	got := collect(t, monitor.Stream(ctx), 3)
	assert.Equal(t, []constraint.Snapshot{online, metered, online}, got)
}

func TestStream_PollsProbesWithoutTracker(t *testing.T) {
	t.Parallel()

	reads := make(chan struct{}, 16)

	probes := constraint.Probes{
		Network: func(_ context.Context) (bool, bool) {
			select {
			case reads <- struct{}{}:
			default:
			}

			return true, false
		},
		Power:   func(_ context.Context) bool { return false },
		Storage: func(_ context.Context) bool { return true },
	}

	monitor := constraint.NewMonitor(nil, probes, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	stream := monitor.Stream(ctx)

	// The first snapshot arrives without waiting for a tick.
	select {
	case snap := <-stream:
		assert.Equal(t, constraint.Snapshot{
			NetworkAvailable:   true,
			UnmeteredAvailable: false,
			PowerAvailable:     false,
			StorageAvailable:   true,
		}, snap)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}

	// The probes keep being read on the poll interval even though identical
	// snapshots are swallowed.
	for i := 0; i < 3; i++ {
		select {
		case <-reads:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for probe read")
		}
	}
}

func TestStream_NilProbesDefaultToAvailable(t *testing.T) {
	t.Parallel()

	monitor := constraint.NewMonitor(nil, constraint.Probes{}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	got := collect(t, monitor.Stream(ctx), 1)
	require.Len(t, got, 1)
	assert.Equal(t, constraint.Snapshot{
		NetworkAvailable:   true,
		UnmeteredAvailable: true,
		PowerAvailable:     true,
		StorageAvailable:   true,
	}, got[0])
}

func TestStream_ClosesOnContextCancel(t *testing.T) {
	t.Parallel()

	monitor := constraint.NewMonitor(nil, constraint.Probes{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stream := monitor.Stream(ctx)

	<-stream
	cancel()

	deadline := time.After(2 * time.Second)

	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}
