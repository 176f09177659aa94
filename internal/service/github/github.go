// Package github implements the GitHub ServiceAdapter: issue triggers and
// issue/comment reactions against the REST v3 API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/area-platform/areaengine/internal/service"
)

const providerName = "github"

const defaultAPIBase = "https://api.github.com"

// Adapter is the GitHub ServiceAdapter.
type Adapter struct {
	client *service.Client
	// APIBase is overridable for tests.
	APIBase string
	now     func() time.Time
}

// New constructs the GitHub adapter.
func New(client *service.Client) *Adapter {
	return &Adapter{client: client, APIBase: defaultAPIBase, now: time.Now}
}

// Descriptor declares the GitHub capability set.
func (a *Adapter) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:               providerName,
		RequiresCredential: true,
		Triggers: []service.OperationSpec{
			{
				Kind:        "new_issue",
				Description: "An issue is opened in a repository",
				Params: []service.ParamSpec{
					{Name: "repository", Type: service.ParamString, Required: true},
				},
			},
			{
				Kind:        "new_star",
				Description: "A repository gains stargazers",
				Params: []service.ParamSpec{
					{Name: "repository", Type: service.ParamString, Required: true},
				},
			},
		},
		Reactions: []service.OperationSpec{
			{
				Kind:        "create_issue",
				Description: "Open an issue in a repository",
				Params: []service.ParamSpec{
					{Name: "repository", Type: service.ParamString, Required: true},
					{Name: "title", Type: service.ParamString, Required: true},
					{Name: "body", Type: service.ParamString},
				},
			},
			{
				Kind:        "create_comment",
				Description: "Comment on an issue",
				Params: []service.ParamSpec{
					{Name: "repository", Type: service.ParamString, Required: true},
					{Name: "issue_number", Type: service.ParamNumber, Required: true},
					{Name: "body", Type: service.ParamString, Required: true},
				},
			},
		},
	}
}

type issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
}

type repoInfo struct {
	StargazersCount int `json:"stargazers_count"`
}

type starState struct {
	Stargazers int `json:"stargazers"`
}

// CheckTrigger evaluates one GitHub trigger kind.
func (a *Adapter) CheckTrigger(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
	switch req.Kind {
	case "new_issue":
		return a.checkNewIssue(ctx, req)
	case "new_star":
		return a.checkNewStar(ctx, req)
	default:
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "unknown trigger %q", req.Kind)
	}
}

func (a *Adapter) checkNewIssue(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
	repository := service.StringParam(req.Params, "repository")
	if repository == "" {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "repository is required")
	}

	since, ok, errSince := service.EffectiveSince(ctx, req, a.now())
	if errSince != nil {
		return service.TriggerResult{}, errSince
	}
	if !ok {
		return service.TriggerResult{}, nil
	}

	query := url.Values{}
	query.Set("state", "all")
	query.Set("sort", "created")
	query.Set("direction", "desc")
	query.Set("since", since.UTC().Format(time.RFC3339))
	target := fmt.Sprintf("%s/repos/%s/issues?%s", a.APIBase, repository, query.Encode())

	status, payload, errDo := a.client.Do(ctx, req.UserID, providerName, http.MethodGet, target, acceptHeader(), nil)
	if errDo != nil {
		return service.TriggerResult{}, errDo
	}
	if status != http.StatusOK {
		return service.TriggerResult{}, service.StatusError(providerName, status, string(payload))
	}

	var issues []issue
	if errUnmarshal := json.Unmarshal(payload, &issues); errUnmarshal != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindTransient, "decode issues: %v", errUnmarshal)
	}

	// The since parameter covers updates too; keep strictly newer creations.
	var newest *issue
	for i := range issues {
		if !issues[i].CreatedAt.After(since) {
			continue
		}
		if newest == nil || issues[i].CreatedAt.After(newest.CreatedAt) {
			newest = &issues[i]
		}
	}
	if newest == nil {
		return service.TriggerResult{}, nil
	}
	return service.TriggerResult{
		Occurred:   true,
		OccurredAt: newest.CreatedAt,
		Data: map[string]any{
			"number": newest.Number,
			"title":  newest.Title,
			"url":    newest.HTMLURL,
		},
	}, nil
}

func (a *Adapter) checkNewStar(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
	repository := service.StringParam(req.Params, "repository")
	if repository == "" {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "repository is required")
	}

	target := fmt.Sprintf("%s/repos/%s", a.APIBase, repository)
	status, payload, errDo := a.client.Do(ctx, req.UserID, providerName, http.MethodGet, target, acceptHeader(), nil)
	if errDo != nil {
		return service.TriggerResult{}, errDo
	}
	if status != http.StatusOK {
		return service.TriggerResult{}, service.StatusError(providerName, status, string(payload))
	}

	var info repoInfo
	if errUnmarshal := json.Unmarshal(payload, &info); errUnmarshal != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindTransient, "decode repository: %v", errUnmarshal)
	}

	raw, errState := req.State.Snapshot(ctx)
	if errState != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindInternal, "load trigger state: %v", errState)
	}
	save := func() error {
		encoded, errMarshal := json.Marshal(starState{Stargazers: info.StargazersCount})
		if errMarshal != nil {
			return service.Errorf(providerName, service.KindInternal, "encode trigger state: %v", errMarshal)
		}
		return req.State.Save(ctx, encoded)
	}

	if len(raw) == 0 {
		// First evaluation records the current count as the baseline.
		return service.TriggerResult{}, save()
	}
	var state starState
	if errUnmarshal := json.Unmarshal(raw, &state); errUnmarshal != nil {
		return service.TriggerResult{}, save()
	}
	if info.StargazersCount <= state.Stargazers {
		if info.StargazersCount < state.Stargazers {
			// Stars were removed; track the lower count as the new baseline.
			return service.TriggerResult{}, save()
		}
		return service.TriggerResult{}, nil
	}

	if errSave := save(); errSave != nil {
		return service.TriggerResult{}, errSave
	}
	return service.TriggerResult{
		Occurred: true,
		Data: map[string]any{
			"stargazers": info.StargazersCount,
			"gained":     info.StargazersCount - state.Stargazers,
		},
	}, nil
}

// ExecuteReaction performs one GitHub reaction kind.
func (a *Adapter) ExecuteReaction(ctx context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
	switch req.Kind {
	case "create_issue":
		return a.createIssue(ctx, req)
	case "create_comment":
		return a.createComment(ctx, req)
	default:
		return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "unknown reaction %q", req.Kind)
	}
}

func (a *Adapter) createIssue(ctx context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
	repository := service.StringParam(req.Params, "repository")
	title := service.StringParam(req.Params, "title")
	if repository == "" || title == "" {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "repository and title are required")
	}

	body, errMarshal := json.Marshal(map[string]string{
		"title": title,
		"body":  service.StringParam(req.Params, "body"),
	})
	if errMarshal != nil {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindInternal, "encode issue: %v", errMarshal)
	}

	target := fmt.Sprintf("%s/repos/%s/issues", a.APIBase, repository)
	status, payload, errDo := a.client.Do(ctx, req.UserID, providerName, http.MethodPost, target, acceptHeader(), body)
	if errDo != nil {
		return service.ReactionResult{}, errDo
	}
	if status != http.StatusCreated {
		return service.ReactionResult{}, service.StatusError(providerName, status, string(payload))
	}

	var created issue
	_ = json.Unmarshal(payload, &created)
	return service.ReactionResult{Detail: map[string]any{
		"number": created.Number,
		"url":    created.HTMLURL,
	}}, nil
}

func (a *Adapter) createComment(ctx context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
	repository := service.StringParam(req.Params, "repository")
	commentBody := service.StringParam(req.Params, "body")
	number, okNumber := service.NumberParam(req.Params, "issue_number")
	if repository == "" || commentBody == "" || !okNumber {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "repository, issue_number and body are required")
	}

	body, errMarshal := json.Marshal(map[string]string{"body": commentBody})
	if errMarshal != nil {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindInternal, "encode comment: %v", errMarshal)
	}

	target := fmt.Sprintf("%s/repos/%s/issues/%d/comments", a.APIBase, repository, int(number))
	status, payload, errDo := a.client.Do(ctx, req.UserID, providerName, http.MethodPost, target, acceptHeader(), body)
	if errDo != nil {
		return service.ReactionResult{}, errDo
	}
	if status != http.StatusCreated {
		return service.ReactionResult{}, service.StatusError(providerName, status, string(payload))
	}
	return service.ReactionResult{Detail: map[string]any{"issue_number": int(number)}}, nil
}

func acceptHeader() http.Header {
	headers := http.Header{}
	headers.Set("Accept", "application/vnd.github+json")
	return headers
}
