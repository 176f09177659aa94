package engine

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/area-platform/areaengine/internal/config"
	"github.com/area-platform/areaengine/internal/models"
	"github.com/area-platform/areaengine/internal/service"
	"github.com/area-platform/areaengine/internal/settings"
	"github.com/area-platform/areaengine/internal/store"
	log "github.com/sirupsen/logrus"
)

// LeaderLock gates tick dispatch when multiple engine replicas share a store.
// Non-leaders skip the tick instead of double-polling.
type LeaderLock interface {
	// TryAcquire acquires or extends leadership for one tick. Returns false
	// when another replica holds the lock.
	TryAcquire(ctx context.Context) bool
}

// Scheduler drives the evaluation loop: on every tick it lists active Areas
// and fans evaluation out to a bounded pool, with at most one in-flight
// evaluation per Area.
type Scheduler struct {
	areas    *store.AreaStore
	states   *store.TriggerStateStore
	registry *service.Registry
	executor *Executor
	recorder Recorder
	leader   LeaderLock // nil when running a single instance
	defaults config.EngineConfig
	now      func() time.Time

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	providerSemMu sync.Mutex
	providerSems  map[string]chan struct{}

	lastTick  atomic.Int64 // unix seconds
	evaluated atomic.Int64
	triggered atomic.Int64
	errored   atomic.Int64
}

// NewScheduler constructs a scheduler. leader may be nil.
func NewScheduler(areas *store.AreaStore, states *store.TriggerStateStore, registry *service.Registry, executor *Executor, recorder Recorder, leader LeaderLock, defaults config.EngineConfig) *Scheduler {
	return &Scheduler{
		areas:        areas,
		states:       states,
		registry:     registry,
		executor:     executor,
		recorder:     recorder,
		leader:       leader,
		defaults:     defaults,
		now:          time.Now,
		inflight:     map[string]struct{}{},
		providerSems: map[string]chan struct{}{},
	}
}

// Run executes the tick loop until ctx is cancelled. In-flight evaluations
// from the final tick are drained before returning.
func (s *Scheduler) Run(ctx context.Context) {
	log.Infof("scheduler started (tick=%s)", s.tickInterval())
	for {
		if ctx.Err() != nil {
			return
		}
		s.tick(ctx)
		timer := time.NewTimer(s.tickInterval())
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// Stats reports scheduler counters and the last tick time.
func (s *Scheduler) Stats() (lastTick time.Time, evaluated, triggered, errored int64) {
	if unix := s.lastTick.Load(); unix > 0 {
		lastTick = time.Unix(unix, 0).UTC()
	}
	return lastTick, s.evaluated.Load(), s.triggered.Load(), s.errored.Load()
}

func (s *Scheduler) tickInterval() time.Duration {
	fallback := s.defaults.TickIntervalSeconds
	if fallback <= 0 {
		fallback = settings.DefaultTickIntervalSeconds
	}
	return time.Duration(settings.DBConfigInt(settings.TickIntervalSecondsKey, fallback)) * time.Second
}

func (s *Scheduler) evalConcurrency() int {
	fallback := s.defaults.EvalConcurrency
	if fallback <= 0 {
		fallback = settings.DefaultEvalConcurrency
	}
	return settings.DBConfigInt(settings.EvalConcurrencyKey, fallback)
}

func (s *Scheduler) checkTimeout() time.Duration {
	timeout := time.Duration(settings.DBConfigInt(settings.CheckTimeoutSecondsKey, settings.DefaultCheckTimeoutSeconds)) * time.Second
	// A provider call must never outlive the tick interval.
	if tick := s.tickInterval(); timeout > tick {
		timeout = tick
	}
	return timeout
}

// tick dispatches one evaluation pass and waits for it to finish.
func (s *Scheduler) tick(ctx context.Context) {
	if s.leader != nil && !s.leader.TryAcquire(ctx) {
		log.Debug("scheduler: not leader, skipping tick")
		return
	}
	s.lastTick.Store(s.now().Unix())

	areas, errList := s.areas.ListActive(ctx)
	if errList != nil {
		// Store unavailability is a global condition: no dispatch this tick.
		log.WithError(errList).Warn("scheduler: list active areas failed, pausing tick")
		return
	}

	sem := make(chan struct{}, s.evalConcurrency())
	checkTimeout := s.checkTimeout()
	var wg sync.WaitGroup

	for i := range areas {
		area := areas[i]
		if !s.markInFlight(area.ID) {
			// Previous evaluation still running; never evaluate an Area
			// concurrently with itself.
			log.Debugf("scheduler: area %s still in flight, skipping", area.ID)
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			s.unmarkInFlight(area.ID)
			wg.Wait()
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.unmarkInFlight(area.ID)
			s.evaluate(ctx, area, checkTimeout)
		}()
	}
	wg.Wait()
}

// EvaluateNow runs a single out-of-band evaluation for one Area, honoring the
// in-flight guard. Used by the ops surface.
func (s *Scheduler) EvaluateNow(ctx context.Context, areaID string) error {
	area, errGet := s.areas.Get(ctx, areaID)
	if errGet != nil {
		return errGet
	}
	if !s.markInFlight(area.ID) {
		return service.Errorf("engine", service.KindInternal, "area %s evaluation already in flight", area.ID)
	}
	defer s.unmarkInFlight(area.ID)
	s.evaluate(ctx, area, s.checkTimeout())
	return nil
}

func (s *Scheduler) markInFlight(areaID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[areaID]; busy {
		return false
	}
	s.inflight[areaID] = struct{}{}
	return true
}

func (s *Scheduler) unmarkInFlight(areaID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, areaID)
}

// providerSem returns the per-provider semaphore, or nil when the provider
// declares no cap beyond the shared pool.
func (s *Scheduler) providerSem(name string, max int) chan struct{} {
	if max <= 0 {
		return nil
	}
	s.providerSemMu.Lock()
	defer s.providerSemMu.Unlock()
	sem, ok := s.providerSems[name]
	if !ok {
		sem = make(chan struct{}, max)
		s.providerSems[name] = sem
	}
	return sem
}

func (s *Scheduler) evaluate(ctx context.Context, area models.Area, checkTimeout time.Duration) {
	s.evaluated.Add(1)

	adapter, errResolve := s.registry.Resolve(area.ActionProvider)
	if errResolve != nil {
		s.disableArea(ctx, area, errResolve)
		return
	}
	descriptor := adapter.Descriptor()
	if _, ok := descriptor.TriggerSpec(area.ActionKind); !ok {
		s.disableArea(ctx, area, service.Errorf(area.ActionProvider, service.KindConfiguration,
			"provider %q has no trigger %q", area.ActionProvider, area.ActionKind))
		return
	}

	if sem := s.providerSem(descriptor.Name, descriptor.MaxConcurrent); sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			return
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	result, errCheck := adapter.CheckTrigger(checkCtx, service.TriggerRequest{
		AreaID: area.ID,
		UserID: area.OwnerID,
		Kind:   area.ActionKind,
		Params: decodeParams(area.ActionParams),
		Since:  area.LastTriggeredAt,
		State:  s.states.ForArea(area.ID),
	})
	if errCheck != nil {
		s.errored.Add(1)
		if service.IsPermanentForArea(errCheck) {
			s.disableArea(ctx, area, errCheck)
			return
		}
		// Transient: cursor untouched, try again next tick.
		log.WithError(errCheck).Warnf("scheduler: trigger check failed (area=%s provider=%s)", area.ID, area.ActionProvider)
		s.record(ctx, area.ID, models.ExecutionPhaseTrigger, models.ExecutionOutcomeFailed, errCheck, nil)
		return
	}

	if !result.Occurred {
		log.Debugf("scheduler: area %s idle", area.ID)
		return
	}

	job := Job{
		AreaID:      area.ID,
		UserID:      area.OwnerID,
		Provider:    area.ReactionProvider,
		Kind:        area.ReactionKind,
		Params:      decodeParams(area.ReactionParams),
		TriggerData: result.Data,
		EnqueuedAt:  s.now(),
	}
	if !s.executor.Enqueue(job) {
		// Shedding load beats unbounded growth; the occurrence is recorded as
		// dropped and the cursor stays put so the next tick retries it.
		s.errored.Add(1)
		errDrop := service.Errorf("engine", service.KindInternal, "reaction queue full, job dropped")
		log.Warnf("scheduler: reaction queue full, dropping occurrence (area=%s)", area.ID)
		s.record(ctx, area.ID, models.ExecutionPhaseTrigger, models.ExecutionOutcomeDropped, errDrop, result.Data)
		return
	}

	// Advance the cursor only after the reaction is queued. A crash between
	// detection and this point re-fires next tick (at-least-once).
	cursor := result.OccurredAt
	if cursor.IsZero() {
		cursor = s.now()
	}
	if errAdvance := s.areas.AdvanceCursor(ctx, area.ID, cursor); errAdvance != nil {
		log.WithError(errAdvance).Warnf("scheduler: advance cursor failed (area=%s)", area.ID)
	}
	s.triggered.Add(1)
	s.record(ctx, area.ID, models.ExecutionPhaseTrigger, models.ExecutionOutcomeTriggered, nil, result.Data)
}

func (s *Scheduler) disableArea(ctx context.Context, area models.Area, errCause error) {
	s.errored.Add(1)
	log.WithError(errCause).Warnf("scheduler: disabling area %s (%s)", area.ID, service.KindOf(errCause))
	if errDisable := s.areas.Disable(ctx, area.ID, errCause.Error()); errDisable != nil {
		log.WithError(errDisable).Warnf("scheduler: disable area failed (area=%s)", area.ID)
	}
	s.record(ctx, area.ID, models.ExecutionPhaseTrigger, models.ExecutionOutcomeSkipped, errCause, nil)
}

func (s *Scheduler) record(ctx context.Context, areaID, phase, outcome string, errOutcome error, detail map[string]any) {
	kind := ""
	message := ""
	if errOutcome != nil {
		kind = string(service.KindOf(errOutcome))
		message = errOutcome.Error()
	}
	if errRecord := s.recorder.Record(ctx, areaID, phase, outcome, kind, message, 0, detail); errRecord != nil {
		log.WithError(errRecord).Warnf("scheduler: record outcome failed (area=%s)", areaID)
	}
}

func decodeParams(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var params map[string]any
	if errUnmarshal := json.Unmarshal(raw, &params); errUnmarshal != nil {
		return map[string]any{}
	}
	return params
}
