package engine

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/area-platform/areaengine/internal/models"
	"github.com/area-platform/areaengine/internal/service"
	"github.com/area-platform/areaengine/internal/settings"
	log "github.com/sirupsen/logrus"
)

const (
	defaultReactionWorkers = 4
	defaultQueueCapacity   = 64
	maxReactionAttempts    = 3
	baseBackoff            = time.Second
)

// Job is one queued reaction execution.
type Job struct {
	AreaID      string
	UserID      string
	Provider    string
	Kind        string
	Params      map[string]any
	TriggerData map[string]any
	EnqueuedAt  time.Time
}

// Recorder persists evaluation and reaction outcomes. Implemented by
// store.ExecutionStore.
type Recorder interface {
	Record(ctx context.Context, areaID, phase, outcome, errorKind, message string, attempts int, detail map[string]any) error
}

// Executor drains reaction jobs on a worker pool separate from trigger
// evaluation. Jobs are sharded by Area so reactions for one Area run in
// enqueue order; each shard is a bounded queue that rejects when full.
type Executor struct {
	registry *service.Registry
	recorder Recorder
	shards   []chan Job
	wg       sync.WaitGroup
	sleep    func(ctx context.Context, d time.Duration) bool

	enqueued  atomic.Int64
	dropped   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewExecutor constructs an executor with the given worker count and per-shard
// queue capacity. Zero values fall back to defaults.
func NewExecutor(registry *service.Registry, recorder Recorder, workers, capacity int) *Executor {
	if workers <= 0 {
		workers = defaultReactionWorkers
	}
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	shards := make([]chan Job, workers)
	for i := range shards {
		shards[i] = make(chan Job, capacity)
	}
	return &Executor{
		registry: registry,
		recorder: recorder,
		shards:   shards,
		sleep:    sleepCtx,
	}
}

// Start launches one worker per shard. Workers exit when ctx is cancelled.
func (e *Executor) Start(ctx context.Context) {
	for i := range e.shards {
		e.wg.Add(1)
		go e.worker(ctx, e.shards[i])
	}
	log.Infof("executor started (workers=%d capacity=%d)", len(e.shards), cap(e.shards[0]))
}

// Wait blocks until all workers have exited.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Enqueue routes a job to its Area's shard without blocking. Returns false
// when the shard is full; the caller records the drop.
func (e *Executor) Enqueue(job Job) bool {
	shard := e.shards[shardIndex(job.AreaID, len(e.shards))]
	select {
	case shard <- job:
		e.enqueued.Add(1)
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// QueueDepth returns the total number of queued jobs across shards.
func (e *Executor) QueueDepth() int {
	depth := 0
	for _, shard := range e.shards {
		depth += len(shard)
	}
	return depth
}

// Stats returns cumulative executor counters.
func (e *Executor) Stats() (enqueued, dropped, succeeded, failed int64) {
	return e.enqueued.Load(), e.dropped.Load(), e.succeeded.Load(), e.failed.Load()
}

func (e *Executor) worker(ctx context.Context, shard chan Job) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-shard:
			e.process(ctx, job)
		}
	}
}

func (e *Executor) process(ctx context.Context, job Job) {
	adapter, errResolve := e.registry.Resolve(job.Provider)
	if errResolve != nil {
		e.failed.Add(1)
		e.record(job.AreaID, models.ExecutionOutcomeFailed, errResolve, 0, nil)
		return
	}

	req := service.ReactionRequest{
		AreaID:      job.AreaID,
		UserID:      job.UserID,
		Kind:        job.Kind,
		Params:      job.Params,
		TriggerData: job.TriggerData,
	}

	timeout := time.Duration(settings.DBConfigInt(settings.ReactionTimeoutSecondsKey, settings.DefaultReactionTimeoutSeconds)) * time.Second
	var lastErr error
	attemptsUsed := 0
	for attempt := 1; attempt <= maxReactionAttempts; attempt++ {
		attemptsUsed = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, errExecute := adapter.ExecuteReaction(attemptCtx, req)
		cancel()

		if errExecute == nil {
			e.succeeded.Add(1)
			e.record(job.AreaID, models.ExecutionOutcomeSuccess, nil, attempt, result.Detail)
			return
		}
		lastErr = errExecute

		if !service.IsRetryable(errExecute) || attempt == maxReactionAttempts {
			break
		}
		log.WithError(errExecute).Warnf("executor: reaction attempt %d failed, retrying (area=%s provider=%s)", attempt, job.AreaID, job.Provider)
		if !e.sleep(ctx, backoffDelay(attempt)) {
			lastErr = ctx.Err()
			break
		}
	}

	e.failed.Add(1)
	e.record(job.AreaID, models.ExecutionOutcomeFailed, lastErr, attemptsUsed, nil)
}

func (e *Executor) record(areaID, outcome string, errOutcome error, attempts int, detail map[string]any) {
	kind := ""
	message := ""
	if errOutcome != nil {
		kind = string(service.KindOf(errOutcome))
		message = errOutcome.Error()
		log.WithError(errOutcome).Warnf("executor: reaction %s (area=%s kind=%s)", outcome, areaID, kind)
	}
	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errRecord := e.recorder.Record(recordCtx, areaID, models.ExecutionPhaseReaction, outcome, kind, message, attempts, detail); errRecord != nil {
		log.WithError(errRecord).Warnf("executor: record outcome failed (area=%s)", areaID)
	}
}

// backoffDelay grows exponentially with ±20% jitter.
func backoffDelay(attempt int) time.Duration {
	delay := baseBackoff << (attempt - 1)
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func shardIndex(areaID string, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(areaID))
	return int(h.Sum32() % uint32(shards))
}
