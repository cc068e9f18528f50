// Package lifecycle coordinates the job state machine around the store:
// lease acquisition, progress checkpointing, terminal transitions, and
// stale-job recovery.
package lifecycle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/framelens/personcrop/internal/jobstore"
	"github.com/framelens/personcrop/internal/models"
)

// maxErrorLen bounds what lands in the job record; ffmpeg stderr can be
// arbitrarily long.
const maxErrorLen = 500

const progressTTL = 2 * time.Hour

// Manager owns every status mutation a worker performs on a job. The
// acquire path absorbs at-least-once queue delivery: a duplicate or
// late delivery observes acquired=false and exits as a no-op success.
type Manager struct {
	store      jobstore.Store
	redis      *redis.Client // optional; nil disables checkpoints
	staleAfter time.Duration
}

// NewManager wires the manager to the durable store and, optionally, a
// Redis client for frame-progress checkpoints.
func NewManager(store jobstore.Store, redisClient *redis.Client, staleAfter time.Duration) *Manager {
	return &Manager{
		store:      store,
		redis:      redisClient,
		staleAfter: staleAfter,
	}
}

// Acquire attempts the queued -> processing transition. Exactly one
// caller wins a fresh job; everyone else gets (false, nil).
func (m *Manager) Acquire(ctx context.Context, id string) (bool, error) {
	acquired, err := m.store.TryAcquire(ctx, id)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", id, err)
	}
	if !acquired {
		logrus.WithField("job_id", id).Info("job already active or terminal, skipping")
	}
	return acquired, nil
}

// Complete records a successful run and the output location.
func (m *Manager) Complete(ctx context.Context, id, outputURI string) error {
	if err := m.store.MarkDone(ctx, id, outputURI); err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	m.clearProgress(ctx, id)
	logrus.WithFields(logrus.Fields{"job_id": id, "output_uri": outputURI}).Info("job done")
	return nil
}

// Fail records a processing error. The submitter only ever sees the
// stored message, never a raised exception, so it is kept short.
func (m *Manager) Fail(ctx context.Context, id string, cause error) error {
	msg := cause.Error()
	if len(msg) > maxErrorLen {
		msg = msg[len(msg)-maxErrorLen:]
	}
	if err := m.store.MarkFailed(ctx, id, msg); err != nil {
		return fmt.Errorf("fail %s: %w", id, err)
	}
	m.clearProgress(ctx, id)
	logrus.WithFields(logrus.Fields{"job_id": id, "error": msg}).Warn("job failed")
	return nil
}

// Get returns the job record.
func (m *Manager) Get(ctx context.Context, id string) (*models.Job, error) {
	return m.store.Get(ctx, id)
}

// Checkpoint publishes the running frame count. Best effort: losing a
// checkpoint only costs progress visibility, never correctness.
func (m *Manager) Checkpoint(ctx context.Context, id string, frames int) {
	if m.redis == nil {
		return
	}
	if err := m.redis.Set(ctx, progressKey(id), frames, progressTTL).Err(); err != nil {
		logrus.WithFields(logrus.Fields{"job_id": id, "error": err}).Debug("progress checkpoint dropped")
	}
}

// Progress returns the last checkpointed frame count, if any.
func (m *Manager) Progress(ctx context.Context, id string) (int, bool) {
	if m.redis == nil {
		return 0, false
	}
	val, err := m.redis.Get(ctx, progressKey(id)).Result()
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (m *Manager) clearProgress(ctx context.Context, id string) {
	if m.redis == nil {
		return
	}
	m.redis.Del(ctx, progressKey(id))
}

// SweepStale lazily reclaims jobs whose worker is presumed dead. It is
// called from the cleanup endpoint, not a timer.
func (m *Manager) SweepStale(ctx context.Context) (int, error) {
	marked, err := m.store.SweepStale(ctx, m.staleAfter)
	if err != nil {
		return 0, fmt.Errorf("sweep stale: %w", err)
	}
	if marked > 0 {
		logrus.WithField("marked", marked).Warn("reclaimed stale processing jobs")
	}
	return marked, nil
}

func progressKey(id string) string {
	return "personcrop:progress:" + id
}
