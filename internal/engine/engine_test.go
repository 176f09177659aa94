package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/area-platform/areaengine/internal/config"
	"github.com/area-platform/areaengine/internal/db"
	"github.com/area-platform/areaengine/internal/models"
	"github.com/area-platform/areaengine/internal/service"
	"github.com/area-platform/areaengine/internal/store"
	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// memoryRecorder collects outcomes in memory.
type memoryRecorder struct {
	mu   sync.Mutex
	rows []recordedOutcome
}

type recordedOutcome struct {
	AreaID   string
	Phase    string
	Outcome  string
	Kind     string
	Attempts int
}

func (r *memoryRecorder) Record(ctx context.Context, areaID, phase, outcome, errorKind, message string, attempts int, detail map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, recordedOutcome{AreaID: areaID, Phase: phase, Outcome: outcome, Kind: errorKind, Attempts: attempts})
	return nil
}

func (r *memoryRecorder) outcomes(areaID, phase string) []recordedOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedOutcome
	for _, row := range r.rows {
		if row.AreaID == areaID && row.Phase == phase {
			out = append(out, row)
		}
	}
	return out
}

// fakeAdapter scripts trigger and reaction behavior per test.
type fakeAdapter struct {
	name       string
	checkFn    func(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error)
	reactFn    func(ctx context.Context, req service.ReactionRequest) (service.ReactionResult, error)
	checks     atomic.Int64
	reactions  atomic.Int64
	inFlight   atomic.Int64
	maxInFlight atomic.Int64
}

func (a *fakeAdapter) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:      a.name,
		Triggers:  []service.OperationSpec{{Kind: "tick"}},
		Reactions: []service.OperationSpec{{Kind: "do"}},
	}
}

func (a *fakeAdapter) CheckTrigger(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
	a.checks.Add(1)
	current := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		max := a.maxInFlight.Load()
		if current <= max || a.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}
	if a.checkFn == nil {
		return service.TriggerResult{}, nil
	}
	return a.checkFn(ctx, req)
}

func (a *fakeAdapter) ExecuteReaction(ctx context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
	a.reactions.Add(1)
	if a.reactFn == nil {
		return service.ReactionResult{}, nil
	}
	return a.reactFn(ctx, req)
}

type testRig struct {
	conn      *gorm.DB
	areas     *store.AreaStore
	states    *store.TriggerStateStore
	registry  *service.Registry
	executor  *Executor
	recorder  *memoryRecorder
	scheduler *Scheduler
}

func newTestRig(t *testing.T, adapters ...service.Adapter) *testRig {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	registry := service.NewRegistry()
	for _, adapter := range adapters {
		if errRegister := registry.Register(adapter); errRegister != nil {
			t.Fatalf("register: %v", errRegister)
		}
	}
	registry.Seal()

	recorder := &memoryRecorder{}
	executor := NewExecutor(registry, recorder, 2, 4)
	executor.sleep = func(ctx context.Context, d time.Duration) bool { return true }
	areas := store.NewAreaStore(conn)
	states := store.NewTriggerStateStore(conn)
	scheduler := NewScheduler(areas, states, registry, executor, recorder, nil, config.EngineConfig{})

	return &testRig{
		conn:      conn,
		areas:     areas,
		states:    states,
		registry:  registry,
		executor:  executor,
		recorder:  recorder,
		scheduler: scheduler,
	}
}

func (r *testRig) seedArea(t *testing.T, id, actionProvider, reactionProvider string) models.Area {
	t.Helper()
	area := models.Area{
		ID:               id,
		OwnerID:          "user-1",
		ActionProvider:   actionProvider,
		ActionKind:       "tick",
		ActionParams:     datatypes.JSON(`{}`),
		ReactionProvider: reactionProvider,
		ReactionKind:     "do",
		ReactionParams:   datatypes.JSON(`{}`),
		Active:           true,
	}
	if errCreate := r.conn.Create(&area).Error; errCreate != nil {
		t.Fatalf("seed area: %v", errCreate)
	}
	return area
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestTickTriggersReactionAndAdvancesCursor(t *testing.T) {
	occurredAt := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	trigger := &fakeAdapter{name: "src", checkFn: func(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
		return service.TriggerResult{
			Occurred:   true,
			OccurredAt: occurredAt,
			Data:       map[string]any{"id": "item-1"},
		}, nil
	}}
	reaction := &fakeAdapter{name: "dst"}
	rig := newTestRig(t, trigger, reaction)
	rig.seedArea(t, "a1", "src", "dst")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.executor.Start(ctx)

	rig.scheduler.tick(ctx)

	area, errGet := rig.areas.Get(ctx, "a1")
	if errGet != nil {
		t.Fatalf("get area: %v", errGet)
	}
	if area.LastTriggeredAt == nil || !area.LastTriggeredAt.Equal(occurredAt) {
		t.Fatalf("cursor: got %v want %v", area.LastTriggeredAt, occurredAt)
	}

	waitUntil(t, time.Second, func() bool { return reaction.reactions.Load() == 1 })

	triggered := rig.recorder.outcomes("a1", models.ExecutionPhaseTrigger)
	if len(triggered) != 1 || triggered[0].Outcome != models.ExecutionOutcomeTriggered {
		t.Fatalf("trigger outcomes: %+v", triggered)
	}
	waitUntil(t, time.Second, func() bool {
		rows := rig.recorder.outcomes("a1", models.ExecutionPhaseReaction)
		return len(rows) == 1 && rows[0].Outcome == models.ExecutionOutcomeSuccess
	})
}

func TestNoSelfConcurrency(t *testing.T) {
	release := make(chan struct{})
	trigger := &fakeAdapter{name: "src", checkFn: func(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return service.TriggerResult{}, nil
	}}
	reaction := &fakeAdapter{name: "dst"}
	rig := newTestRig(t, trigger, reaction)
	rig.seedArea(t, "a1", "src", "dst")

	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rig.scheduler.tick(ctx)
		}()
	}

	// Both ticks have dispatched; only one evaluation may be in flight.
	waitUntil(t, time.Second, func() bool { return trigger.checks.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if got := trigger.checks.Load(); got != 1 {
		t.Fatalf("checks while first evaluation blocked: got %d want 1", got)
	}
	close(release)
	wg.Wait()

	if max := trigger.maxInFlight.Load(); max > 1 {
		t.Fatalf("max in-flight evaluations: got %d want 1", max)
	}
}

func TestIsolationFaultyAreaDoesNotBlockOthers(t *testing.T) {
	broken := &fakeAdapter{name: "broken", checkFn: func(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
		return service.TriggerResult{}, service.Errorf("broken", service.KindAuthorization, "token revoked")
	}}
	healthy := &fakeAdapter{name: "healthy"}
	reaction := &fakeAdapter{name: "dst"}
	rig := newTestRig(t, broken, healthy, reaction)
	rig.seedArea(t, "bad", "broken", "dst")
	rig.seedArea(t, "good", "healthy", "dst")

	ctx := context.Background()
	rig.scheduler.tick(ctx)

	if healthy.checks.Load() != 1 {
		t.Fatalf("healthy area not evaluated: checks=%d", healthy.checks.Load())
	}

	// The broken area is disabled and skipped on later ticks.
	skipped := rig.recorder.outcomes("bad", models.ExecutionPhaseTrigger)
	if len(skipped) != 1 || skipped[0].Outcome != models.ExecutionOutcomeSkipped || skipped[0].Kind != string(service.KindAuthorization) {
		t.Fatalf("broken outcomes: %+v", skipped)
	}

	rig.scheduler.tick(ctx)
	if broken.checks.Load() != 1 {
		t.Fatalf("disabled area evaluated again: checks=%d", broken.checks.Load())
	}
	if healthy.checks.Load() != 2 {
		t.Fatalf("healthy area not evaluated on second tick: checks=%d", healthy.checks.Load())
	}
}

func TestUnknownProviderDisablesArea(t *testing.T) {
	reaction := &fakeAdapter{name: "dst"}
	rig := newTestRig(t, reaction)
	rig.seedArea(t, "a1", "ghost", "dst")

	ctx := context.Background()
	rig.scheduler.tick(ctx)

	area, errGet := rig.areas.Get(ctx, "a1")
	if errGet != nil {
		t.Fatalf("get area: %v", errGet)
	}
	if area.DisabledAt == nil {
		t.Fatal("area not disabled after configuration error")
	}
	rows := rig.recorder.outcomes("a1", models.ExecutionPhaseTrigger)
	if len(rows) != 1 || rows[0].Kind != string(service.KindConfiguration) {
		t.Fatalf("outcomes: %+v", rows)
	}
}

func TestTransientCheckErrorLeavesCursorUntouched(t *testing.T) {
	trigger := &fakeAdapter{name: "src", checkFn: func(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
		return service.TriggerResult{}, service.Errorf("src", service.KindTransient, "rate limited")
	}}
	reaction := &fakeAdapter{name: "dst"}
	rig := newTestRig(t, trigger, reaction)
	rig.seedArea(t, "a1", "src", "dst")

	ctx := context.Background()
	rig.scheduler.tick(ctx)

	area, errGet := rig.areas.Get(ctx, "a1")
	if errGet != nil {
		t.Fatalf("get area: %v", errGet)
	}
	if area.LastTriggeredAt != nil {
		t.Fatalf("cursor moved on transient error: %v", area.LastTriggeredAt)
	}
	if area.DisabledAt != nil {
		t.Fatal("area disabled on transient error")
	}

	// Next tick retries.
	rig.scheduler.tick(ctx)
	if trigger.checks.Load() != 2 {
		t.Fatalf("checks: got %d want 2", trigger.checks.Load())
	}
}

func TestMonotonicCursorAcrossTicks(t *testing.T) {
	var fireAt atomic.Value
	fireAt.Store(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	trigger := &fakeAdapter{name: "src", checkFn: func(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
		at := fireAt.Load().(time.Time)
		// Honors the cursor contract: only items strictly newer than Since.
		if req.Since != nil && !at.After(*req.Since) {
			return service.TriggerResult{}, nil
		}
		return service.TriggerResult{Occurred: true, OccurredAt: at}, nil
	}}
	reaction := &fakeAdapter{name: "dst"}
	rig := newTestRig(t, trigger, reaction)
	rig.seedArea(t, "a1", "src", "dst")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.executor.Start(ctx)

	rig.scheduler.tick(ctx)
	area, _ := rig.areas.Get(ctx, "a1")
	first := area.LastTriggeredAt
	if first == nil {
		t.Fatal("cursor not set after first fire")
	}

	// Unchanged provider state: re-running the check must not fire again.
	rig.scheduler.tick(ctx)
	area, _ = rig.areas.Get(ctx, "a1")
	if !area.LastTriggeredAt.Equal(*first) {
		t.Fatalf("cursor changed without a new occurrence: %v -> %v", first, area.LastTriggeredAt)
	}

	// A newer occurrence advances the cursor forward, never backward.
	fireAt.Store(first.Add(time.Hour))
	rig.scheduler.tick(ctx)
	area, _ = rig.areas.Get(ctx, "a1")
	if !area.LastTriggeredAt.After(*first) {
		t.Fatalf("cursor did not advance: %v", area.LastTriggeredAt)
	}
}

func TestQueueSaturationDropsOccurrence(t *testing.T) {
	trigger := &fakeAdapter{name: "src", checkFn: func(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
		return service.TriggerResult{Occurred: true}, nil
	}}
	reaction := &fakeAdapter{name: "dst"}
	rig := newTestRig(t, trigger, reaction)
	rig.seedArea(t, "a1", "src", "dst")

	// Single shard of capacity 1, workers never started: the second enqueue
	// must be rejected immediately.
	rig.scheduler.executor = NewExecutor(rig.registry, rig.recorder, 1, 1)

	ctx := context.Background()
	rig.scheduler.tick(ctx)
	area, _ := rig.areas.Get(ctx, "a1")
	firstCursor := area.LastTriggeredAt
	if firstCursor == nil {
		t.Fatal("cursor not advanced for queued occurrence")
	}

	rig.scheduler.tick(ctx)

	rows := rig.recorder.outcomes("a1", models.ExecutionPhaseTrigger)
	if len(rows) != 2 {
		t.Fatalf("outcomes: %+v", rows)
	}
	if rows[0].Outcome != models.ExecutionOutcomeTriggered {
		t.Fatalf("first outcome: %+v", rows[0])
	}
	if rows[1].Outcome != models.ExecutionOutcomeDropped {
		t.Fatalf("second outcome: %+v", rows[1])
	}

	// A dropped occurrence must not consume the cursor.
	area, _ = rig.areas.Get(ctx, "a1")
	if !area.LastTriggeredAt.Equal(*firstCursor) {
		t.Fatalf("cursor advanced for dropped occurrence: %v", area.LastTriggeredAt)
	}
}

func TestReactionRetriesTransientThenSucceedsOnce(t *testing.T) {
	var sideEffects atomic.Int64
	var attempts atomic.Int64
	reaction := &fakeAdapter{name: "dst", reactFn: func(ctx context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
		if attempts.Add(1) <= 2 {
			return service.ReactionResult{}, service.Errorf("dst", service.KindTransient, "503 from provider")
		}
		sideEffects.Add(1)
		return service.ReactionResult{}, nil
	}}
	rig := newTestRig(t, reaction)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.executor.Start(ctx)

	if ok := rig.executor.Enqueue(Job{AreaID: "a1", UserID: "user-1", Provider: "dst", Kind: "do"}); !ok {
		t.Fatal("enqueue rejected")
	}

	waitUntil(t, time.Second, func() bool {
		rows := rig.recorder.outcomes("a1", models.ExecutionPhaseReaction)
		return len(rows) == 1
	})

	rows := rig.recorder.outcomes("a1", models.ExecutionPhaseReaction)
	if rows[0].Outcome != models.ExecutionOutcomeSuccess || rows[0].Attempts != 3 {
		t.Fatalf("reaction outcome: %+v", rows[0])
	}
	if sideEffects.Load() != 1 {
		t.Fatalf("side effects: got %d want 1", sideEffects.Load())
	}
}

func TestReactionPermanentErrorNotRetried(t *testing.T) {
	var attempts atomic.Int64
	reaction := &fakeAdapter{name: "dst", reactFn: func(ctx context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
		attempts.Add(1)
		return service.ReactionResult{}, service.Errorf("dst", service.KindPermanent, "invalid params")
	}}
	rig := newTestRig(t, reaction)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.executor.Start(ctx)

	rig.executor.Enqueue(Job{AreaID: "a1", Provider: "dst", Kind: "do"})

	waitUntil(t, time.Second, func() bool {
		rows := rig.recorder.outcomes("a1", models.ExecutionPhaseReaction)
		return len(rows) == 1
	})
	rows := rig.recorder.outcomes("a1", models.ExecutionPhaseReaction)
	if rows[0].Outcome != models.ExecutionOutcomeFailed || rows[0].Attempts != 1 {
		t.Fatalf("reaction outcome: %+v", rows[0])
	}
	if attempts.Load() != 1 {
		t.Fatalf("attempts: got %d want 1", attempts.Load())
	}
}

func TestReactionRetryCeiling(t *testing.T) {
	var attempts atomic.Int64
	reaction := &fakeAdapter{name: "dst", reactFn: func(ctx context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
		attempts.Add(1)
		return service.ReactionResult{}, service.Errorf("dst", service.KindTransient, "timeout")
	}}
	rig := newTestRig(t, reaction)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.executor.Start(ctx)

	rig.executor.Enqueue(Job{AreaID: "a1", Provider: "dst", Kind: "do"})

	waitUntil(t, time.Second, func() bool {
		rows := rig.recorder.outcomes("a1", models.ExecutionPhaseReaction)
		return len(rows) == 1
	})
	rows := rig.recorder.outcomes("a1", models.ExecutionPhaseReaction)
	if rows[0].Outcome != models.ExecutionOutcomeFailed || rows[0].Attempts != maxReactionAttempts {
		t.Fatalf("reaction outcome: %+v", rows[0])
	}
	if attempts.Load() != maxReactionAttempts {
		t.Fatalf("attempts: got %d want %d", attempts.Load(), maxReactionAttempts)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	rig := newTestRig(t, &fakeAdapter{name: "src"}, &fakeAdapter{name: "dst"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rig.scheduler.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestEvaluateNowRespectsInFlightGuard(t *testing.T) {
	release := make(chan struct{})
	trigger := &fakeAdapter{name: "src", checkFn: func(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return service.TriggerResult{}, nil
	}}
	reaction := &fakeAdapter{name: "dst"}
	rig := newTestRig(t, trigger, reaction)
	rig.seedArea(t, "a1", "src", "dst")

	ctx := context.Background()
	go func() {
		_ = rig.scheduler.EvaluateNow(ctx, "a1")
	}()
	waitUntil(t, time.Second, func() bool { return trigger.checks.Load() == 1 })

	if errSecond := rig.scheduler.EvaluateNow(ctx, "a1"); errSecond == nil {
		t.Fatal("expected in-flight rejection")
	}
	close(release)
}
