// Package timer implements the clock-driven ServiceAdapter. It needs no
// credential and makes no network calls.
package timer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/area-platform/areaengine/internal/service"
)

const providerName = "timer"

// Adapter is the timer ServiceAdapter.
type Adapter struct {
	now func() time.Time
}

// New constructs the timer adapter.
func New() *Adapter {
	return &Adapter{now: time.Now}
}

// Descriptor declares the timer capability set.
func (a *Adapter) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:               providerName,
		RequiresCredential: false,
		MaxConcurrent:      16,
		Triggers: []service.OperationSpec{
			{
				Kind:        "every_interval",
				Description: "Fires when the configured interval has elapsed",
				Params: []service.ParamSpec{
					{Name: "minutes", Type: service.ParamNumber, Required: true},
				},
			},
			{
				Kind:        "at_time",
				Description: "Fires once per day at a wall-clock time",
				Params: []service.ParamSpec{
					{Name: "time", Type: service.ParamString, Required: true},
				},
			},
		},
	}
}

// dailyState remembers the last civil date at_time fired on.
type dailyState struct {
	LastFiredDate string `json:"last_fired_date"`
}

// CheckTrigger evaluates the every_interval and at_time triggers.
func (a *Adapter) CheckTrigger(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
	switch req.Kind {
	case "every_interval":
		return a.checkInterval(ctx, req)
	case "at_time":
		return a.checkAtTime(ctx, req)
	default:
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "unknown trigger %q", req.Kind)
	}
}

func (a *Adapter) checkInterval(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
	minutes, okMinutes := service.NumberParam(req.Params, "minutes")
	if !okMinutes || minutes <= 0 {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "minutes must be a positive number")
	}

	now := a.now()
	since, ok, errSince := service.EffectiveSince(ctx, req, now)
	if errSince != nil {
		return service.TriggerResult{}, errSince
	}
	if !ok {
		return service.TriggerResult{}, nil
	}

	interval := time.Duration(minutes * float64(time.Minute))
	if now.Sub(since) < interval {
		return service.TriggerResult{}, nil
	}
	return service.TriggerResult{
		Occurred:   true,
		OccurredAt: now,
		Data: map[string]any{
			"fired_at": now.Format(time.RFC3339),
			"elapsed":  now.Sub(since).String(),
		},
	}, nil
}

func (a *Adapter) checkAtTime(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
	spec := service.StringParam(req.Params, "time")
	wall, errParse := time.Parse("15:04", spec)
	if errParse != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "time must be HH:MM, got %q", spec)
	}

	now := a.now()
	today := now.Format("2006-01-02")
	target := time.Date(now.Year(), now.Month(), now.Day(), wall.Hour(), wall.Minute(), 0, 0, now.Location())
	if now.Before(target) {
		return service.TriggerResult{}, nil
	}

	var prev dailyState
	raw, errState := req.State.Snapshot(ctx)
	if errState != nil {
		return service.TriggerResult{}, errState
	}
	if len(raw) > 0 {
		if errUnmarshal := json.Unmarshal(raw, &prev); errUnmarshal != nil {
			prev = dailyState{}
		}
	}
	if prev.LastFiredDate == today {
		return service.TriggerResult{}, nil
	}

	encoded, errEncode := json.Marshal(dailyState{LastFiredDate: today})
	if errEncode != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindInternal, "encode state: %v", errEncode)
	}
	if errSave := req.State.Save(ctx, encoded); errSave != nil {
		return service.TriggerResult{}, errSave
	}
	return service.TriggerResult{
		Occurred:   true,
		OccurredAt: target,
		Data: map[string]any{
			"scheduled_for": target.Format(time.RFC3339),
			"fired_at":      now.Format(time.RFC3339),
		},
	}, nil
}

// ExecuteReaction always fails: the timer exposes no reactions.
func (a *Adapter) ExecuteReaction(_ context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
	return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "timer has no reaction %q", req.Kind)
}
