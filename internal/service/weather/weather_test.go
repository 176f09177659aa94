package weather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

func newTestAdapter(t *testing.T, temp *float64) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != "key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name": "Lyon",
			"main": map[string]any{"temp": *temp},
		})
	}))
	t.Cleanup(srv.Close)
	adapter := New(srv.Client(), "key-1")
	adapter.APIBase = srv.URL
	adapter.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return adapter
}

func TestTemperatureAboveFiresOnCrossing(t *testing.T) {
	temp := 18.0
	adapter := newTestAdapter(t, &temp)
	state := &memState{}
	req := service.TriggerRequest{
		Kind:   "temperature_above",
		Params: map[string]any{"city": "Lyon", "threshold": 25},
		State:  state,
	}

	// Baseline below threshold.
	result, err := adapter.CheckTrigger(context.Background(), req)
	if err != nil {
		t.Fatalf("baseline check: %v", err)
	}
	if result.Occurred {
		t.Fatal("baseline evaluation must not fire")
	}

	// Crossing fires.
	temp = 27.5
	result, err = adapter.CheckTrigger(context.Background(), req)
	if err != nil {
		t.Fatalf("crossing check: %v", err)
	}
	if !result.Occurred {
		t.Fatal("crossing above the threshold did not fire")
	}
	if got := result.Data["temperature"]; got != 27.5 {
		t.Fatalf("expected temperature 27.5, got %v", got)
	}

	// Still above: no repeat fire.
	temp = 29.0
	result, err = adapter.CheckTrigger(context.Background(), req)
	if err != nil {
		t.Fatalf("sustained check: %v", err)
	}
	if result.Occurred {
		t.Fatal("fired again while staying above the threshold")
	}

	// Drop below then cross again fires once more.
	temp = 20.0
	if _, err = adapter.CheckTrigger(context.Background(), req); err != nil {
		t.Fatalf("cooldown check: %v", err)
	}
	temp = 26.0
	result, err = adapter.CheckTrigger(context.Background(), req)
	if err != nil {
		t.Fatalf("second crossing check: %v", err)
	}
	if !result.Occurred {
		t.Fatal("second crossing did not fire")
	}
}

func TestTemperatureAboveAlreadyHotBaselineDoesNotFire(t *testing.T) {
	temp := 30.0
	adapter := newTestAdapter(t, &temp)
	state := &memState{}
	req := service.TriggerRequest{
		Kind:   "temperature_above",
		Params: map[string]any{"city": "Lyon", "threshold": 25},
		State:  state,
	}

	for i := 0; i < 3; i++ {
		result, err := adapter.CheckTrigger(context.Background(), req)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if result.Occurred {
			t.Fatalf("check %d fired without a crossing", i)
		}
	}
}

func TestTemperatureAboveBadKeyIsAuthorization(t *testing.T) {
	temp := 18.0
	adapter := newTestAdapter(t, &temp)
	adapter.apiKey = "wrong"
	_, err := adapter.CheckTrigger(context.Background(), service.TriggerRequest{
		Kind:   "temperature_above",
		Params: map[string]any{"city": "Lyon", "threshold": 25},
		State:  &memState{},
	})
	if service.KindOf(err) != service.KindAuthorization {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestTemperatureAboveMissingParams(t *testing.T) {
	adapter := New(nil, "key-1")
	_, err := adapter.CheckTrigger(context.Background(), service.TriggerRequest{
		Kind:   "temperature_above",
		Params: map[string]any{"city": "Lyon"},
		State:  &memState{},
	})
	if service.KindOf(err) != service.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
