package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/worksphere/mailsync/interfaces"
	er "github.com/worksphere/mailsync/internal/errors"
	"github.com/worksphere/mailsync/internal/logger"
	"github.com/worksphere/mailsync/internal/utils"
)

const (
	defaultQueueDepth  = 256
	defaultLockTTL     = 5 * time.Minute
	defaultRetryDelay  = time.Second
	defaultMaxAttempts = 1
)

// InProcessQueue is an at-least-once job scheduler backed by goroutine worker
// pools, one pool per named queue. It implements the scheduling contract the
// crawlers consume; swapping in a broker-backed queue only requires another
// implementation of the same interface.
type InProcessQueue struct {
	log logger.Logger

	mu    sync.Mutex
	locks map[string]time.Time

	queues map[string]chan interfaces.Job

	quit     chan struct{}
	quitOnce sync.Once

	// producers tracks delayed dispatch goroutines, workers tracks the pools.
	producers sync.WaitGroup
	workers   sync.WaitGroup
}

// NewInProcessQueue starts worker pools for the given queues. workerCounts
// maps queue name to pool size.
func NewInProcessQueue(log logger.Logger, workerCounts map[string]int) *InProcessQueue {
	q := &InProcessQueue{
		log:    log,
		locks:  make(map[string]time.Time),
		queues: make(map[string]chan interfaces.Job),
		quit:   make(chan struct{}),
	}

	for name, count := range workerCounts {
		ch := make(chan interfaces.Job, defaultQueueDepth)
		q.queues[name] = ch
		for i := 0; i < count; i++ {
			q.workers.Add(1)
			go q.worker(name, ch)
		}
	}

	return q
}

// Enqueue schedules a job. A job with a non-empty UniqueKey is dropped when
// another run holding the same key is still live, so overlapping crawls for
// one account never run concurrently.
func (q *InProcessQueue) Enqueue(ctx context.Context, job interfaces.Job) error {
	ch, ok := q.queues[job.Queue]
	if !ok {
		return fmt.Errorf("queue %s: %w", job.Queue, er.ErrQueueNotFound)
	}

	select {
	case <-q.quit:
		return er.ErrQueueShutdown
	default:
	}

	if job.Delay > 0 {
		q.producers.Add(1)
		go func() {
			defer q.producers.Done()
			select {
			case <-time.After(job.Delay):
				q.dispatch(ch, job)
			case <-q.quit:
			}
		}()
		return nil
	}

	if !q.acquireLock(job.UniqueKey, job.LockTTL, job.Timeout) {
		return fmt.Errorf("job %s key %s: %w", job.Kind, job.UniqueKey, er.ErrJobLocked)
	}

	select {
	case ch <- job:
		return nil
	case <-q.quit:
		q.releaseLock(job.UniqueKey)
		return er.ErrQueueShutdown
	}
}

// dispatch is the delayed-path entry: lock acquisition happens here, after
// the delay, so a self-requeuing job can schedule its successor before its
// own lock is released.
func (q *InProcessQueue) dispatch(ch chan interfaces.Job, job interfaces.Job) {
	if !q.acquireLock(job.UniqueKey, job.LockTTL, job.Timeout) {
		q.log.Warnf("job %s for %s dropped, lock %s still held", job.Kind, job.AccountID, job.UniqueKey)
		return
	}

	select {
	case ch <- job:
	case <-q.quit:
		q.releaseLock(job.UniqueKey)
	}
}

// acquireLock takes the unique-run lock for a key. The lock expires on its
// own after the TTL so a crashed run cannot lock an account out forever.
func (q *InProcessQueue) acquireLock(key string, ttl, jobTimeout time.Duration) bool {
	if key == "" {
		return true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if expiry, held := q.locks[key]; held && utils.Now().Before(expiry) {
		return false
	}

	if ttl <= 0 {
		ttl = jobTimeout
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	q.locks[key] = utils.Now().Add(ttl)
	return true
}

func (q *InProcessQueue) releaseLock(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.locks, key)
	q.mu.Unlock()
}

func (q *InProcessQueue) worker(queueName string, ch chan interfaces.Job) {
	defer q.workers.Done()

	for {
		select {
		case job := <-ch:
			q.runJob(queueName, job)
		case <-q.quit:
			// Drain whatever is already buffered, then exit.
			for {
				select {
				case job := <-ch:
					q.releaseLock(job.UniqueKey)
				default:
					return
				}
			}
		}
	}
}

// runJob executes one job with its retry schedule. Each attempt gets its own
// deadline; a timed-out attempt counts as a failure and retries like any
// other error.
func (q *InProcessQueue) runJob(queueName string, job interfaces.Job) {
	defer q.releaseLock(job.UniqueKey)

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = q.runAttempt(job)
		if err == nil {
			return
		}

		q.log.Warnf("[%s] job %s for %s failed (attempt %d/%d): %v",
			queueName, job.Kind, job.AccountID, attempt, maxAttempts, err)

		if attempt == maxAttempts {
			break
		}

		select {
		case <-time.After(retryDelay(job.Backoff, attempt)):
		case <-q.quit:
			return
		}
	}

	q.log.Errorf("[%s] job %s for %s permanently failed: %v", queueName, job.Kind, job.AccountID, err)
	if job.OnPermanentFailure != nil {
		job.OnPermanentFailure(err)
	}
}

func (q *InProcessQueue) runAttempt(job interfaces.Job) (err error) {
	ctx := context.Background()
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", job.Kind, r)
		}
	}()

	return job.Run(ctx)
}

// retryDelay indexes the backoff schedule by attempt, repeating the last
// entry once the schedule runs out.
func retryDelay(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		return defaultRetryDelay
	}
	idx := attempt - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

// Shutdown stops intake and waits for in-flight jobs until the context
// expires. Buffered jobs that never started are discarded; at-least-once
// delivery means the next crawl tick reschedules them.
func (q *InProcessQueue) Shutdown(ctx context.Context) error {
	q.quitOnce.Do(func() {
		close(q.quit)
	})

	done := make(chan struct{})
	go func() {
		q.producers.Wait()
		q.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
