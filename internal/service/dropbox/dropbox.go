// Package dropbox implements the Dropbox ServiceAdapter: folder watch trigger
// and folder creation reaction.
package dropbox

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/area-platform/areaengine/internal/service"
)

const providerName = "dropbox"

const defaultAPIBase = "https://api.dropboxapi.com"

// Adapter is the Dropbox ServiceAdapter.
type Adapter struct {
	client *service.Client
	// APIBase is overridable for tests.
	APIBase string
	now     func() time.Time
}

// New constructs the Dropbox adapter.
func New(client *service.Client) *Adapter {
	return &Adapter{client: client, APIBase: defaultAPIBase, now: time.Now}
}

// Descriptor declares the Dropbox capability set.
func (a *Adapter) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:               providerName,
		RequiresCredential: true,
		// Dropbox rate limits per app aggressively; keep a tight cap.
		MaxConcurrent: 2,
		Triggers: []service.OperationSpec{
			{
				Kind:        "new_file",
				Description: "A file appears in a folder",
				Params: []service.ParamSpec{
					{Name: "folder", Type: service.ParamString, Required: true},
				},
			},
		},
		Reactions: []service.OperationSpec{
			{
				Kind:        "create_folder",
				Description: "Create a folder",
				Params: []service.ParamSpec{
					{Name: "path", Type: service.ParamString, Required: true},
				},
			},
		},
	}
}

type folderEntry struct {
	Tag            string    `json:".tag"`
	Name           string    `json:"name"`
	PathDisplay    string    `json:"path_display"`
	ServerModified time.Time `json:"server_modified"`
}

type folderListing struct {
	Entries []folderEntry `json:"entries"`
}

// CheckTrigger evaluates the new_file trigger.
func (a *Adapter) CheckTrigger(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
	if req.Kind != "new_file" {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "unknown trigger %q", req.Kind)
	}
	folder := service.StringParam(req.Params, "folder")
	if folder == "" {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "folder is required")
	}

	since, ok, errSince := service.EffectiveSince(ctx, req, a.now())
	if errSince != nil {
		return service.TriggerResult{}, errSince
	}
	if !ok {
		return service.TriggerResult{}, nil
	}

	body, errMarshal := json.Marshal(map[string]any{"path": folder})
	if errMarshal != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindInternal, "encode request: %v", errMarshal)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	target := a.APIBase + "/2/files/list_folder"
	status, payload, errDo := a.client.Do(ctx, req.UserID, providerName, http.MethodPost, target, headers, body)
	if errDo != nil {
		return service.TriggerResult{}, errDo
	}
	if status != http.StatusOK {
		return service.TriggerResult{}, service.StatusError(providerName, status, string(payload))
	}

	var listing folderListing
	if errUnmarshal := json.Unmarshal(payload, &listing); errUnmarshal != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindTransient, "decode listing: %v", errUnmarshal)
	}

	var newest *folderEntry
	for i := range listing.Entries {
		entry := &listing.Entries[i]
		if entry.Tag != "file" || !entry.ServerModified.After(since) {
			continue
		}
		if newest == nil || entry.ServerModified.After(newest.ServerModified) {
			newest = entry
		}
	}
	if newest == nil {
		return service.TriggerResult{}, nil
	}
	return service.TriggerResult{
		Occurred:   true,
		OccurredAt: newest.ServerModified,
		Data: map[string]any{
			"name": newest.Name,
			"path": newest.PathDisplay,
		},
	}, nil
}

// ExecuteReaction performs the create_folder reaction. Dropbox returns a
// conflict when the folder already exists, which counts as success under
// at-least-once delivery.
func (a *Adapter) ExecuteReaction(ctx context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
	if req.Kind != "create_folder" {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "unknown reaction %q", req.Kind)
	}
	path := service.StringParam(req.Params, "path")
	if path == "" {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "path is required")
	}

	body, errMarshal := json.Marshal(map[string]any{"path": path, "autorename": false})
	if errMarshal != nil {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindInternal, "encode request: %v", errMarshal)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	target := a.APIBase + "/2/files/create_folder_v2"
	status, payload, errDo := a.client.Do(ctx, req.UserID, providerName, http.MethodPost, target, headers, body)
	if errDo != nil {
		return service.ReactionResult{}, errDo
	}
	switch status {
	case http.StatusOK:
		return service.ReactionResult{Detail: map[string]any{"path": path}}, nil
	case http.StatusConflict:
		// Already exists: an earlier attempt (or duplicate delivery) made it.
		return service.ReactionResult{Detail: map[string]any{"path": path, "already_existed": true}}, nil
	default:
		return service.ReactionResult{}, service.StatusError(providerName, status, string(payload))
	}
}
