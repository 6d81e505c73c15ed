package interfaces

import (
	"context"
	"time"
)

// Queue names. Forward crawling runs on the live queue so a deep historical
// import can never starve user-visible freshness.
const (
	QueueLive     = "live"
	QueueBackfill = "backfill"
)

// Job is one discrete, independently scheduled unit of crawl work. Delivery
// is at least once; job bodies must be idempotent.
type Job struct {
	Queue string
	Kind  string

	AccountID string

	// UniqueKey prevents duplicate concurrent runs of the same job for the
	// same account. The lock auto-releases after LockTTL even if the job
	// dies, to avoid permanent lockout. Empty means no lock.
	UniqueKey string
	LockTTL   time.Duration

	// Delay postpones dispatch; self-requeuing crawls use this instead of a
	// long-running loop.
	Delay time.Duration

	// MaxAttempts bounds retries; Backoff is the per-attempt delay schedule
	// (last entry repeats if attempts exceed its length).
	MaxAttempts int
	Backoff     []time.Duration

	// Timeout is the hard per-attempt deadline; a timed-out attempt counts
	// as a failed attempt, not a fatal error.
	Timeout time.Duration

	Run func(ctx context.Context) error

	// OnPermanentFailure fires after the final attempt fails.
	OnPermanentFailure func(err error)
}

// JobQueue is the scheduling contract the engine consumes. The bundled
// implementation is in-process; a distributed queue can replace it without
// touching the crawlers.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context) error
}
