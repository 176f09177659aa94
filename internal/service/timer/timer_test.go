package timer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/area-platform/areaengine/internal/service"
)

type memState struct {
	raw json.RawMessage
}

func (m *memState) Snapshot(_ context.Context) (json.RawMessage, error) {
	return m.raw, nil
}

func (m *memState) Save(_ context.Context, snapshot json.RawMessage) error {
	m.raw = append(json.RawMessage(nil), snapshot...)
	return nil
}

func TestEveryIntervalBaselinesFirst(t *testing.T) {
	adapter := New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }

	state := &memState{}
	req := service.TriggerRequest{
		Kind:   "every_interval",
		Params: map[string]any{"minutes": 15},
		State:  state,
	}

	result, err := adapter.CheckTrigger(context.Background(), req)
	if err != nil {
		t.Fatalf("baseline check: %v", err)
	}
	if result.Occurred {
		t.Fatal("first evaluation must not fire")
	}

	// Not enough time elapsed since baseline.
	now = now.Add(10 * time.Minute)
	result, err = adapter.CheckTrigger(context.Background(), req)
	if err != nil {
		t.Fatalf("early check: %v", err)
	}
	if result.Occurred {
		t.Fatal("fired before the interval elapsed")
	}

	now = now.Add(6 * time.Minute)
	result, err = adapter.CheckTrigger(context.Background(), req)
	if err != nil {
		t.Fatalf("due check: %v", err)
	}
	if !result.Occurred {
		t.Fatal("did not fire after the interval elapsed")
	}
	if !result.OccurredAt.Equal(now) {
		t.Fatalf("wrong OccurredAt %v", result.OccurredAt)
	}
}

func TestEveryIntervalHonorsCursor(t *testing.T) {
	adapter := New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }

	cursor := now.Add(-20 * time.Minute)
	result, err := adapter.CheckTrigger(context.Background(), service.TriggerRequest{
		Kind:   "every_interval",
		Params: map[string]any{"minutes": 15},
		Since:  &cursor,
		State:  &memState{},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Occurred {
		t.Fatal("did not fire with an elapsed cursor")
	}
}

func TestEveryIntervalRejectsBadMinutes(t *testing.T) {
	adapter := New()
	_, err := adapter.CheckTrigger(context.Background(), service.TriggerRequest{
		Kind:   "every_interval",
		Params: map[string]any{"minutes": 0},
		State:  &memState{},
	})
	if service.KindOf(err) != service.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestAtTimeFiresOncePerDay(t *testing.T) {
	adapter := New()
	now := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }

	state := &memState{}
	req := service.TriggerRequest{
		Kind:   "at_time",
		Params: map[string]any{"time": "09:30"},
		State:  state,
	}

	// Before the wall-clock time: nothing.
	result, err := adapter.CheckTrigger(context.Background(), req)
	if err != nil {
		t.Fatalf("early check: %v", err)
	}
	if result.Occurred {
		t.Fatal("fired before the scheduled time")
	}

	// After it: fires once.
	now = time.Date(2026, 8, 1, 9, 45, 0, 0, time.UTC)
	result, err = adapter.CheckTrigger(context.Background(), req)
	if err != nil {
		t.Fatalf("due check: %v", err)
	}
	if !result.Occurred {
		t.Fatal("did not fire after the scheduled time")
	}
	want := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	if !result.OccurredAt.Equal(want) {
		t.Fatalf("OccurredAt = %v, want %v", result.OccurredAt, want)
	}

	// Same day, later tick: no second fire.
	now = time.Date(2026, 8, 1, 18, 0, 0, 0, time.UTC)
	result, err = adapter.CheckTrigger(context.Background(), req)
	if err != nil {
		t.Fatalf("repeat check: %v", err)
	}
	if result.Occurred {
		t.Fatal("fired twice on the same day")
	}

	// Next day fires again.
	now = time.Date(2026, 8, 2, 9, 31, 0, 0, time.UTC)
	result, err = adapter.CheckTrigger(context.Background(), req)
	if err != nil {
		t.Fatalf("next-day check: %v", err)
	}
	if !result.Occurred {
		t.Fatal("did not fire on the next day")
	}
}

func TestAtTimeRejectsBadSpec(t *testing.T) {
	adapter := New()
	_, err := adapter.CheckTrigger(context.Background(), service.TriggerRequest{
		Kind:   "at_time",
		Params: map[string]any{"time": "9h30"},
		State:  &memState{},
	})
	if service.KindOf(err) != service.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestTimerHasNoReactions(t *testing.T) {
	adapter := New()
	_, err := adapter.ExecuteReaction(context.Background(), service.ReactionRequest{Kind: "anything"})
	if service.KindOf(err) != service.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if len(adapter.Descriptor().Reactions) != 0 {
		t.Fatal("timer must declare no reactions")
	}
}
