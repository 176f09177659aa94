// Package weather implements the weather ServiceAdapter. Unlike the OAuth
// providers it authenticates with an application API key, so it carries its
// own HTTP client instead of the shared token-aware one.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/area-platform/areaengine/internal/service"
)

const providerName = "weather"

const defaultAPIBase = "https://api.openweathermap.org"

const maxResponseBytes = 1 << 20

// Adapter is the weather ServiceAdapter.
type Adapter struct {
	httpClient *http.Client
	apiKey     string
	// APIBase is overridable for tests.
	APIBase string
	now     func() time.Time
}

// New constructs the weather adapter. apiKey comes from provider
// configuration, not from per-user credentials.
func New(httpClient *http.Client, apiKey string) *Adapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{httpClient: httpClient, apiKey: apiKey, APIBase: defaultAPIBase, now: time.Now}
}

// Descriptor declares the weather capability set.
func (a *Adapter) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:               providerName,
		RequiresCredential: false,
		MaxConcurrent:      4,
		Triggers: []service.OperationSpec{
			{
				Kind:        "temperature_above",
				Description: "Temperature in a city crosses above a threshold",
				Params: []service.ParamSpec{
					{Name: "city", Type: service.ParamString, Required: true},
					{Name: "threshold", Type: service.ParamNumber, Required: true},
				},
			},
		},
	}
}

// thresholdState remembers whether the last observation was already above the
// threshold, so the trigger fires on the crossing, not every hot tick.
type thresholdState struct {
	Above     bool      `json:"above"`
	Observed  time.Time `json:"observed"`
	Baselined bool      `json:"baselined"`
}

type currentWeather struct {
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Name string `json:"name"`
}

// CheckTrigger evaluates the temperature_above trigger.
func (a *Adapter) CheckTrigger(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
	if req.Kind != "temperature_above" {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "unknown trigger %q", req.Kind)
	}
	city := service.StringParam(req.Params, "city")
	if city == "" {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "city is required")
	}
	threshold, okThreshold := service.NumberParam(req.Params, "threshold")
	if !okThreshold {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "threshold is required")
	}
	if a.apiKey == "" {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "weather api key is not configured")
	}

	query := url.Values{}
	query.Set("q", city)
	query.Set("units", "metric")
	query.Set("appid", a.apiKey)
	target := a.APIBase + "/data/2.5/weather?" + query.Encode()

	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if errReq != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindInternal, "build request: %v", errReq)
	}
	resp, errDo := a.httpClient.Do(httpReq)
	if errDo != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindTransient, "request failed: %v", errDo)
	}
	defer resp.Body.Close()
	payload, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindTransient, "read response: %v", errRead)
	}
	if resp.StatusCode != http.StatusOK {
		return service.TriggerResult{}, service.StatusError(providerName, resp.StatusCode, string(payload))
	}

	var current currentWeather
	if errUnmarshal := json.Unmarshal(payload, &current); errUnmarshal != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindTransient, "decode weather: %v", errUnmarshal)
	}
	above := current.Main.Temp > threshold

	var prev thresholdState
	raw, errState := req.State.Snapshot(ctx)
	if errState != nil {
		return service.TriggerResult{}, errState
	}
	if len(raw) > 0 {
		if errUnmarshal := json.Unmarshal(raw, &prev); errUnmarshal != nil {
			prev = thresholdState{}
		}
	}

	next := thresholdState{Above: above, Observed: a.now(), Baselined: true}
	encoded, errEncode := json.Marshal(next)
	if errEncode != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindInternal, "encode state: %v", errEncode)
	}
	if errSave := req.State.Save(ctx, encoded); errSave != nil {
		return service.TriggerResult{}, errSave
	}

	// Fire only on the below to above crossing after a baseline exists.
	if !prev.Baselined || prev.Above || !above {
		return service.TriggerResult{}, nil
	}
	return service.TriggerResult{
		Occurred:   true,
		OccurredAt: next.Observed,
		Data: map[string]any{
			"city":        current.Name,
			"temperature": current.Main.Temp,
			"threshold":   threshold,
			"summary":     fmt.Sprintf("%s at %s above %s", current.Name, formatTemp(current.Main.Temp), formatTemp(threshold)),
		},
	}, nil
}

// ExecuteReaction always fails: the weather provider exposes no reactions.
func (a *Adapter) ExecuteReaction(_ context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
	return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "weather has no reaction %q", req.Kind)
}

func formatTemp(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "C"
}
