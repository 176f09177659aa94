// Package twitch implements the Twitch ServiceAdapter. Twitch contributes a
// trigger only; it has no reactions.
package twitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/area-platform/areaengine/internal/service"
)

const providerName = "twitch"

const defaultAPIBase = "https://api.twitch.tv"

// Adapter is the Twitch ServiceAdapter. Helix requires the app Client-Id
// header alongside the user token.
type Adapter struct {
	client   *service.Client
	clientID string
	// APIBase is overridable for tests.
	APIBase string
	now     func() time.Time
}

// New constructs the Twitch adapter. clientID is the OAuth application id
// from provider configuration.
func New(client *service.Client, clientID string) *Adapter {
	return &Adapter{client: client, clientID: clientID, APIBase: defaultAPIBase, now: time.Now}
}

// Descriptor declares the Twitch capability set.
func (a *Adapter) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:               providerName,
		RequiresCredential: true,
		MaxConcurrent:      4,
		Triggers: []service.OperationSpec{
			{
				Kind:        "stream_live",
				Description: "A channel goes live",
				Params: []service.ParamSpec{
					{Name: "channel", Type: service.ParamString, Required: true},
				},
			},
		},
	}
}

// liveState tracks the previous observation so the trigger fires on the
// offline to live edge, not on every tick the stream stays up.
type liveState struct {
	Live      bool      `json:"live"`
	Observed  time.Time `json:"observed"`
	Baselined bool      `json:"baselined"`
}

type streamsResponse struct {
	Data []struct {
		UserLogin string    `json:"user_login"`
		Title     string    `json:"title"`
		GameName  string    `json:"game_name"`
		StartedAt time.Time `json:"started_at"`
	} `json:"data"`
}

// CheckTrigger evaluates the stream_live trigger.
func (a *Adapter) CheckTrigger(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
	if req.Kind != "stream_live" {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "unknown trigger %q", req.Kind)
	}
	channel := service.StringParam(req.Params, "channel")
	if channel == "" {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "channel is required")
	}
	if a.clientID == "" {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "twitch client id is not configured")
	}

	headers := http.Header{}
	headers.Set("Client-Id", a.clientID)

	target := a.APIBase + "/helix/streams?user_login=" + url.QueryEscape(channel)
	status, payload, errDo := a.client.Do(ctx, req.UserID, providerName, http.MethodGet, target, headers, nil)
	if errDo != nil {
		return service.TriggerResult{}, errDo
	}
	if status != http.StatusOK {
		return service.TriggerResult{}, service.StatusError(providerName, status, string(payload))
	}

	var streams streamsResponse
	if errUnmarshal := json.Unmarshal(payload, &streams); errUnmarshal != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindTransient, "decode streams: %v", errUnmarshal)
	}
	liveNow := len(streams.Data) > 0

	var prev liveState
	raw, errState := req.State.Snapshot(ctx)
	if errState != nil {
		return service.TriggerResult{}, errState
	}
	if len(raw) > 0 {
		if errUnmarshal := json.Unmarshal(raw, &prev); errUnmarshal != nil {
			prev = liveState{}
		}
	}

	next := liveState{Live: liveNow, Observed: a.now(), Baselined: true}
	encoded, errEncode := json.Marshal(next)
	if errEncode != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindInternal, "encode state: %v", errEncode)
	}
	if errSave := req.State.Save(ctx, encoded); errSave != nil {
		return service.TriggerResult{}, errSave
	}

	// First observation baselines. A stream that is already live when the
	// Area is created does not fire.
	if !prev.Baselined || prev.Live || !liveNow {
		return service.TriggerResult{}, nil
	}

	stream := streams.Data[0]
	occurredAt := stream.StartedAt
	if occurredAt.IsZero() {
		occurredAt = next.Observed
	}
	return service.TriggerResult{
		Occurred:   true,
		OccurredAt: occurredAt,
		Data: map[string]any{
			"channel": stream.UserLogin,
			"title":   stream.Title,
			"game":    stream.GameName,
		},
	}, nil
}

// ExecuteReaction always fails: Twitch exposes no reactions.
func (a *Adapter) ExecuteReaction(_ context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
	return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "twitch has no reaction %q", req.Kind)
}
