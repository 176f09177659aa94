package service

import (
	"context"
	"encoding/json"
	"time"
)

// baselineState is the snapshot written by timestamp-cursor adapters on their
// first evaluation.
type baselineState struct {
	BaselineAt time.Time `json:"baseline_at"`
}

// EffectiveSince resolves the exclusive lower bound for "new" occurrences.
//
// When the Area has fired before, the cursor itself is the bound. On the first
// evaluation (nil cursor) the current instant is recorded as a baseline in the
// trigger state so the Area never fires retroactively; ok is false for exactly
// that call and the caller must report no occurrence. Later evaluations that
// still have a nil cursor fall back to the recorded baseline.
func EffectiveSince(ctx context.Context, req TriggerRequest, now time.Time) (time.Time, bool, error) {
	if req.Since != nil {
		return *req.Since, true, nil
	}

	raw, errGet := req.State.Snapshot(ctx)
	if errGet != nil {
		return time.Time{}, false, Errorf("", KindInternal, "load trigger state: %v", errGet)
	}
	if len(raw) > 0 {
		var state baselineState
		if errUnmarshal := json.Unmarshal(raw, &state); errUnmarshal == nil && !state.BaselineAt.IsZero() {
			return state.BaselineAt, true, nil
		}
	}

	encoded, errMarshal := json.Marshal(baselineState{BaselineAt: now.UTC()})
	if errMarshal != nil {
		return time.Time{}, false, Errorf("", KindInternal, "encode trigger state: %v", errMarshal)
	}
	if errSave := req.State.Save(ctx, encoded); errSave != nil {
		return time.Time{}, false, Errorf("", KindInternal, "save trigger state: %v", errSave)
	}
	return time.Time{}, false, nil
}
