package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pendingKey    = "billing:queue"
	processingKey = "billing:processing"
	delayedKey    = "billing:delayed"
	jobKeyPrefix  = "billing:job:"
	dedupPrefix   = "billing:dedup:"

	jobTTL   = 7 * 24 * time.Hour
	dedupTTL = 7 * 24 * time.Hour

	// Deliveries sitting in the processing list longer than this are
	// assumed to belong to a crashed worker and are requeued.
	stuckAge      = 5 * time.Minute
	sweepInterval = time.Minute
	moveInterval  = 500 * time.Millisecond
)

// Consumer receives deliveries. HandleJob returning an error counts as a
// failed attempt and triggers the backoff policy; HandleDead fires once
// when the final attempt has failed.
type Consumer interface {
	HandleJob(ctx context.Context, job *Job) error
	HandleDead(ctx context.Context, job *Job, cause error)
}

type Options struct {
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
}

// Queue is a durable at-least-once job queue over a Redis list pair.
// Pending jobs live in billing:queue; a BRPOPLPUSH moves each delivery
// into billing:processing so a crash between pop and completion leaves the
// job recoverable by the stuck sweeper. Retries go through a delayed
// sorted set scored by their due time.
type Queue struct {
	client *redis.Client
	log    *zap.Logger
	opts   Options

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func New(client *redis.Client, log *zap.Logger, opts Options) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	return &Queue{
		client: client,
		log:    log.Named("queue"),
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// Enqueue adds a job keyed by dedupKey. The second return is false when an
// entry with the same dedup key was enqueued before; callers treat that as
// an absorbed duplicate, not an error.
func (q *Queue) Enqueue(ctx context.Context, id, kind string, payload json.RawMessage, dedupKey string) (bool, error) {
	ok, err := q.client.SetNX(ctx, dedupPrefix+dedupKey, id, dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	if !ok {
		jobsDeduplicated.Inc()
		return false, nil
	}

	job := &Job{
		ID:          id,
		Kind:        kind,
		Payload:     payload,
		MaxAttempts: q.opts.MaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKeyPrefix+job.ID, data, jobTTL)
	pipe.LPush(ctx, pendingKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}

	jobsEnqueued.Inc()
	return true, nil
}

// Start launches the worker pool, the delayed-job mover and the stuck
// sweeper. Idempotent.
func (q *Queue) Start(consumer Consumer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true

	q.log.Info("starting workers", zap.Int("concurrency", q.opts.Concurrency))
	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(i, consumer)
	}
	q.wg.Add(2)
	go q.delayedMover()
	go q.stuckSweeper()
}

func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	q.log.Info("workers stopped")
}

func (q *Queue) worker(id int, consumer Consumer) {
	defer q.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		job, err := q.dequeue(ctx)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				q.log.Error("dequeue failed", zap.Int("worker", id), zap.Error(err))
				time.Sleep(time.Second)
			}
			continue
		}
		if job == nil {
			continue
		}
		q.process(ctx, job, consumer)
	}
}

func (q *Queue) dequeue(ctx context.Context) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, pendingKey, processingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}

	data, err := q.client.Get(ctx, jobKeyPrefix+id).Result()
	if err != nil {
		// Job body expired or was removed; drop the stray list entry.
		q.client.LRem(ctx, processingKey, 1, id)
		return nil, fmt.Errorf("job body missing for %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		q.client.LRem(ctx, processingKey, 1, id)
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) process(ctx context.Context, job *Job, consumer Consumer) {
	job.Attempts++
	job.StartedAt = time.Now().UTC()
	q.persist(ctx, job)

	err := consumer.HandleJob(ctx, job)
	if err == nil {
		jobsProcessed.WithLabelValues("ok").Inc()
		q.finish(ctx, job.ID)
		return
	}

	job.LastError = err.Error()
	jobsProcessed.WithLabelValues("error").Inc()

	if job.FinalAttempt() {
		q.log.Warn("job dead-lettered",
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.Int("attempts", job.Attempts),
			zap.Error(err))
		jobsDeadLettered.Inc()
		consumer.HandleDead(ctx, job, err)
		q.finish(ctx, job.ID)
		return
	}

	delay := q.backoff(job.Attempts)
	q.log.Info("job retry scheduled",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempts),
		zap.Duration("delay", delay),
		zap.Error(err))

	q.persist(ctx, job)
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey, 1, job.ID)
	pipe.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("retry scheduling failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (q *Queue) backoff(attempt int) time.Duration {
	return q.opts.BackoffBase * time.Duration(math.Pow(2, float64(attempt-1)))
}

func (q *Queue) persist(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		q.log.Error("marshal job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if err := q.client.Set(ctx, jobKeyPrefix+job.ID, data, jobTTL).Err(); err != nil {
		q.log.Error("persist job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// finish removes a completed or dead-lettered delivery. The dedup key is
// kept so late provider retries stay absorbed.
func (q *Queue) finish(ctx context.Context, id string) {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey, 1, id)
	pipe.Del(ctx, jobKeyPrefix+id)
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("job cleanup failed", zap.String("job_id", id), zap.Error(err))
	}
}

// delayedMover promotes due retries back onto the pending list.
func (q *Queue) delayedMover() {
	defer q.wg.Done()
	ticker := time.NewTicker(moveInterval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.moveDue(ctx)
		}
	}
}

func (q *Queue) moveDue(ctx context.Context) {
	now := float64(time.Now().UnixMilli())
	ids, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		q.log.Error("delayed scan failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, delayedKey, id).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, pendingKey, id).Err(); err != nil {
			q.log.Error("delayed requeue failed", zap.String("job_id", id), zap.Error(err))
		}
	}
}

// stuckSweeper recovers deliveries orphaned in the processing list by a
// crashed worker. Requeued deliveries keep their attempt count.
func (q *Queue) stuckSweeper() {
	defer q.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.sweepOnce(ctx)
		}
	}
}

func (q *Queue) sweepOnce(ctx context.Context) {
	ids, err := q.client.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		q.log.Error("sweeper scan failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, id := range ids {
		data, err := q.client.Get(ctx, jobKeyPrefix+id).Result()
		if err != nil {
			q.client.LRem(ctx, processingKey, 1, id)
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			q.client.LRem(ctx, processingKey, 1, id)
			continue
		}
		started := job.StartedAt
		if started.IsZero() {
			started = job.EnqueuedAt
		}
		if now.Sub(started) < stuckAge {
			continue
		}
		q.log.Warn("recovering stuck job", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempts))
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, processingKey, 1, id)
		pipe.LPush(ctx, pendingKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			q.log.Error("stuck recovery failed", zap.String("job_id", id), zap.Error(err))
		}
	}
}
