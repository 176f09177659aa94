// Package spotify implements the Spotify ServiceAdapter: library watch
// trigger and playlist reaction.
package spotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/area-platform/areaengine/internal/service"
)

const providerName = "spotify"

const defaultAPIBase = "https://api.spotify.com"

// Adapter is the Spotify ServiceAdapter.
type Adapter struct {
	client *service.Client
	// APIBase is overridable for tests.
	APIBase string
	now     func() time.Time
}

// New constructs the Spotify adapter.
func New(client *service.Client) *Adapter {
	return &Adapter{client: client, APIBase: defaultAPIBase, now: time.Now}
}

// Descriptor declares the Spotify capability set.
func (a *Adapter) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:               providerName,
		RequiresCredential: true,
		MaxConcurrent:      4,
		Triggers: []service.OperationSpec{
			{
				Kind:        "new_saved_track",
				Description: "A track is saved to the library",
			},
		},
		Reactions: []service.OperationSpec{
			{
				Kind:        "add_to_playlist",
				Description: "Add a track to a playlist",
				Params: []service.ParamSpec{
					{Name: "playlist_id", Type: service.ParamString, Required: true},
					{Name: "track_uri", Type: service.ParamString, Required: false},
				},
			},
		},
	}
}

// savedState remembers the most recently seen saved track so the trigger
// fires once per new save rather than on every tick.
type savedState struct {
	LastTrackID string    `json:"last_track_id"`
	AddedAt     time.Time `json:"added_at"`
	Baselined   bool      `json:"baselined"`
}

type savedTracksResponse struct {
	Items []struct {
		AddedAt time.Time `json:"added_at"`
		Track   struct {
			ID      string `json:"id"`
			URI     string `json:"uri"`
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"track"`
	} `json:"items"`
}

// CheckTrigger evaluates the new_saved_track trigger.
func (a *Adapter) CheckTrigger(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
	if req.Kind != "new_saved_track" {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "unknown trigger %q", req.Kind)
	}

	target := a.APIBase + "/v1/me/tracks?limit=1"
	status, payload, errDo := a.client.Do(ctx, req.UserID, providerName, http.MethodGet, target, nil, nil)
	if errDo != nil {
		return service.TriggerResult{}, errDo
	}
	if status != http.StatusOK {
		return service.TriggerResult{}, service.StatusError(providerName, status, string(payload))
	}

	var saved savedTracksResponse
	if errUnmarshal := json.Unmarshal(payload, &saved); errUnmarshal != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindTransient, "decode saved tracks: %v", errUnmarshal)
	}

	var prev savedState
	raw, errState := req.State.Snapshot(ctx)
	if errState != nil {
		return service.TriggerResult{}, errState
	}
	if len(raw) > 0 {
		if errUnmarshal := json.Unmarshal(raw, &prev); errUnmarshal != nil {
			prev = savedState{}
		}
	}

	next := savedState{Baselined: true}
	if len(saved.Items) > 0 {
		next.LastTrackID = saved.Items[0].Track.ID
		next.AddedAt = saved.Items[0].AddedAt
	}
	encoded, errEncode := json.Marshal(next)
	if errEncode != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindInternal, "encode state: %v", errEncode)
	}
	if errSave := req.State.Save(ctx, encoded); errSave != nil {
		return service.TriggerResult{}, errSave
	}

	if !prev.Baselined || len(saved.Items) == 0 {
		return service.TriggerResult{}, nil
	}
	item := saved.Items[0]
	if item.Track.ID == prev.LastTrackID {
		return service.TriggerResult{}, nil
	}

	artists := make([]string, 0, len(item.Track.Artists))
	for _, artist := range item.Track.Artists {
		artists = append(artists, artist.Name)
	}
	occurredAt := item.AddedAt
	if occurredAt.IsZero() {
		occurredAt = a.now()
	}
	return service.TriggerResult{
		Occurred:   true,
		OccurredAt: occurredAt,
		Data: map[string]any{
			"track_id":  item.Track.ID,
			"track_uri": item.Track.URI,
			"name":      item.Track.Name,
			"artists":   artists,
		},
	}, nil
}

// ExecuteReaction performs the add_to_playlist reaction. When the Area gives
// no track_uri the URI is taken from the trigger payload, so a saved track
// flows straight into the target playlist.
func (a *Adapter) ExecuteReaction(ctx context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
	if req.Kind != "add_to_playlist" {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "unknown reaction %q", req.Kind)
	}
	playlistID := service.StringParam(req.Params, "playlist_id")
	if playlistID == "" {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "playlist_id is required")
	}
	trackURI := service.StringParam(req.Params, "track_uri")
	if trackURI == "" {
		if fromTrigger, okURI := req.TriggerData["track_uri"].(string); okURI {
			trackURI = fromTrigger
		}
	}
	if trackURI == "" {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "track_uri is required when the trigger carries no track")
	}

	body, errMarshal := json.Marshal(map[string]any{"uris": []string{trackURI}})
	if errMarshal != nil {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindInternal, "encode request: %v", errMarshal)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	target := a.APIBase + "/v1/playlists/" + url.PathEscape(playlistID) + "/tracks"
	status, payload, errDo := a.client.Do(ctx, req.UserID, providerName, http.MethodPost, target, headers, body)
	if errDo != nil {
		return service.ReactionResult{}, errDo
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return service.ReactionResult{}, service.StatusError(providerName, status, string(payload))
	}
	return service.ReactionResult{Detail: map[string]any{"playlist_id": playlistID, "track_uri": trackURI}}, nil
}
