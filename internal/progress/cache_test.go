package progress_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podkeeper/episode_downloader/internal/progress"
)

func TestUpdateProgress_RoundsAndClamps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		downloaded int64
		total      int64
		want       float64
	}{
		{"zero", 0, 300, 0},
		{"rounds to two decimals", 1, 3, 33.33},
		{"complete", 300, 300, 100},
		{"clamps past total", 310, 300, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cache := progress.NewCache()
			cache.UpdateProgress("ep1", tt.downloaded, tt.total)

			percent, ok := cache.Percent("ep1")
			require.True(t, ok)
			require.NotNil(t, percent)
			assert.Equal(t, tt.want, *percent)
		})
	}
}

func TestUpdateProgress_UnknownTotalIsIndeterminate(t *testing.T) {
	t.Parallel()

	cache := progress.NewCache()
	cache.UpdateProgress("ep1", 2048, -1)

	percent, ok := cache.Percent("ep1")
	assert.True(t, ok)
	assert.Nil(t, percent)
}

func TestPercent_MissingKey(t *testing.T) {
	t.Parallel()

	cache := progress.NewCache()

	percent, ok := cache.Percent("never-started")
	assert.False(t, ok)
	assert.Nil(t, percent)
}

func TestUpdateProgress_DropsUnchangedValues(t *testing.T) {
	t.Parallel()

	cache := progress.NewCache()
	cache.UpdateProgress("ep1", 100, 200)

	stream, cancel := cache.Subscribe("ep1")
	t.Cleanup(cancel)

	// Drain the initial sample.
	<-stream

	// Same rounded percentage: no publish.
	cache.UpdateProgress("ep1", 100, 200)

	select {
	case got := <-stream:
		t.Fatalf("unexpected sample %v for unchanged percentage", got)
	case <-time.After(50 * time.Millisecond):
	}

	cache.UpdateProgress("ep1", 150, 200)

	select {
	case got := <-stream:
		require.NotNil(t, got)
		assert.Equal(t, 75.0, *got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for progress sample")
	}
}

func TestSubscribe_EmitsCurrentValueFirst(t *testing.T) {
	t.Parallel()

	cache := progress.NewCache()
	cache.UpdateProgress("ep1", 50, 200)

	stream, cancel := cache.Subscribe("ep1")
	t.Cleanup(cancel)

	got := <-stream
	require.NotNil(t, got)
	assert.Equal(t, 25.0, *got)
}

func TestClearProgress_RemovesEntryAndClosesStreams(t *testing.T) {
	t.Parallel()

	cache := progress.NewCache()
	cache.UpdateProgress("ep1", 50, 200)

	stream, cancel := cache.Subscribe("ep1")
	t.Cleanup(cancel)

	<-stream

	cache.ClearProgress("ep1")

	_, ok := cache.Percent("ep1")
	assert.False(t, ok)

	select {
	case _, open := <-stream:
		assert.False(t, open, "stream stays open after clear")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream close")
	}
}

func TestSubscribe_CancelAfterClearIsSafe(t *testing.T) {
	t.Parallel()

	cache := progress.NewCache()
	cache.UpdateProgress("ep1", 10, 100)

	_, cancel := cache.Subscribe("ep1")
	cache.ClearProgress("ep1")

	cancel()
	cancel()
}

func TestUpdateProgress_ConcurrentEpisodes(t *testing.T) {
	t.Parallel()

	cache := progress.NewCache()

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("ep%d", i)

		wg.Add(1)

		go func() {
			defer wg.Done()

			for downloaded := int64(0); downloaded <= 100; downloaded++ {
				cache.UpdateProgress(id, downloaded, 100)
			}
		}()
	}

	wg.Wait()

	for i := 0; i < 8; i++ {
		percent, ok := cache.Percent(fmt.Sprintf("ep%d", i))
		require.True(t, ok)
		require.NotNil(t, percent)
		assert.Equal(t, 100.0, *percent)
	}
}
