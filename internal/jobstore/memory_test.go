package jobstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framelens/personcrop/internal/models"
)

func TestCreateStartsQueued(t *testing.T) {
	s := NewMemoryStore()
	job, err := s.Create(context.Background(), "j1", "gs://bucket/in.mp4")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.Equal(t, "gs://bucket/in.mp4", job.InputURI)
	assert.False(t, job.CreatedAt.IsZero())

	_, err = s.Create(context.Background(), "j1", "gs://bucket/in.mp4")
	assert.Error(t, err, "duplicate id must be rejected")
}

func TestGetMissingJob(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTryAcquireExactlyOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "j1", "gs://b/v.mp4")
	require.NoError(t, err)

	ok, err := s.TryAcquire(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Duplicate delivery: defined no-op, not an error.
	ok, err = s.TryAcquire(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryAcquireConcurrentSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "j1", "gs://b/v.mp4")
	require.NoError(t, err)

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryAcquire(ctx, "j1")
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent acquirer may win")
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Create(ctx, "done-job", "gs://b/a.mp4")
	require.NoError(t, err)
	_, err = s.TryAcquire(ctx, "done-job")
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(ctx, "done-job", "gs://b/a_cropped.mp4"))

	// No transition out of done.
	require.NoError(t, s.MarkFailed(ctx, "done-job", "nope"))
	job, err := s.Get(ctx, "done-job")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, job.Status)
	assert.Equal(t, "gs://b/a_cropped.mp4", job.OutputURI)
	assert.Empty(t, job.Error)

	ok, err := s.TryAcquire(ctx, "done-job")
	require.NoError(t, err)
	assert.False(t, ok, "terminal jobs are never re-acquired")
}

func TestMarkFailedRecordsError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "j1", "gs://b/v.mp4")
	require.NoError(t, err)
	_, err = s.TryAcquire(ctx, "j1")
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, "j1", "ffmpeg encode failed"))
	job, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, "ffmpeg encode failed", job.Error)
	assert.Empty(t, job.OutputURI)
}

func TestMarkDoneSkipsQueuedJob(t *testing.T) {
	// done is only reachable from processing; a queued job without an
	// owner cannot be completed.
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "j1", "gs://b/v.mp4")
	require.NoError(t, err)

	require.NoError(t, s.MarkDone(ctx, "j1", "gs://b/out.mp4"))
	job, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, job.Status)
}

func TestUpdatedAtNeverDecreases(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "j1", "gs://b/v.mp4")
	require.NoError(t, err)

	var stamps []time.Time
	record := func() {
		job, err := s.Get(ctx, "j1")
		require.NoError(t, err)
		stamps = append(stamps, job.UpdatedAt)
	}

	record()
	_, err = s.TryAcquire(ctx, "j1")
	require.NoError(t, err)
	record()
	require.NoError(t, s.MarkDone(ctx, "j1", "gs://b/out.mp4"))
	record()

	for i := 1; i < len(stamps); i++ {
		assert.False(t, stamps[i].Before(stamps[i-1]), "updated_at went backwards at step %d", i)
	}
}

func TestSweepStaleMarksOldProcessingJobs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	s.SetClock(func() time.Time { return current })

	for _, id := range []string{"stuck", "fresh", "waiting"} {
		_, err := s.Create(ctx, id, "gs://b/"+id+".mp4")
		require.NoError(t, err)
	}
	_, err := s.TryAcquire(ctx, "stuck")
	require.NoError(t, err)

	// An hour passes; "fresh" is acquired only now.
	current = base.Add(time.Hour)
	_, err = s.TryAcquire(ctx, "fresh")
	require.NoError(t, err)

	marked, err := s.SweepStale(ctx, 45*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	stuck, err := s.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stuck.Status)
	assert.Contains(t, stuck.Error, "stalled")

	fresh, err := s.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, fresh.Status)

	// Queued jobs are not the sweep's business.
	waiting, err := s.Get(ctx, "waiting")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, waiting.Status)

	// The swept job is terminal now; a second sweep must not touch it.
	current = current.Add(2 * time.Hour)
	before, _ := s.Get(ctx, "stuck")
	_, err = s.SweepStale(ctx, 45*time.Minute)
	require.NoError(t, err)
	after, _ := s.Get(ctx, "stuck")
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestDeleteOlderThan(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	current := base
	s.SetClock(func() time.Time { return current })

	_, err := s.Create(ctx, "old", "gs://b/old.mp4")
	require.NoError(t, err)

	current = base.Add(15 * 24 * time.Hour)
	_, err = s.Create(ctx, "new", "gs://b/new.mp4")
	require.NoError(t, err)

	deleted, err := s.DeleteOlderThan(ctx, 14*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "new")
	assert.NoError(t, err)
}
