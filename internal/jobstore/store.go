// Package jobstore persists crop jobs and owns the guarded state
// transitions of the job lifecycle.
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/framelens/personcrop/internal/models"
)

// ErrNotFound is returned when the referenced job does not exist.
var ErrNotFound = errors.New("job not found")

// Store is the durable record of every job. All status mutations go
// through conditional updates so that concurrent workers cannot both
// win the same job and terminal states stay immutable.
type Store interface {
	// Create persists a new job in the queued state.
	Create(ctx context.Context, id, inputURI string) (*models.Job, error)

	// Get returns the current job record.
	Get(ctx context.Context, id string) (*models.Job, error)

	// TryAcquire atomically transitions queued -> processing. Exactly
	// one of any number of concurrent callers wins; the rest observe
	// acquired=false without error. Terminal jobs are never acquired.
	TryAcquire(ctx context.Context, id string) (bool, error)

	// MarkDone transitions processing -> done and records the output
	// location. A job that is no longer processing is left untouched.
	MarkDone(ctx context.Context, id, outputURI string) error

	// MarkFailed transitions processing -> failed with a short cause.
	// A job that is no longer processing is left untouched.
	MarkFailed(ctx context.Context, id, errMsg string) error

	// SweepStale fails processing jobs whose last update is older than
	// the threshold; their worker is presumed dead. Returns the number
	// of jobs marked.
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)

	// DeleteOlderThan removes jobs created before the retention cutoff.
	// Returns the number of jobs deleted.
	DeleteOlderThan(ctx context.Context, retention time.Duration) (int, error)

	Close() error
}
