// Package outlook implements the Outlook ServiceAdapter over the Microsoft
// Graph API: mailbox trigger and send-mail reaction.
package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/area-platform/areaengine/internal/service"
)

const providerName = "outlook"

const defaultAPIBase = "https://graph.microsoft.com/v1.0"

// Adapter is the Outlook ServiceAdapter.
type Adapter struct {
	client *service.Client
	// APIBase is overridable for tests.
	APIBase string
	now     func() time.Time
}

// New constructs the Outlook adapter.
func New(client *service.Client) *Adapter {
	return &Adapter{client: client, APIBase: defaultAPIBase, now: time.Now}
}

// Descriptor declares the Outlook capability set.
func (a *Adapter) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:               providerName,
		RequiresCredential: true,
		Triggers: []service.OperationSpec{
			{
				Kind:        "new_mail",
				Description: "A message arrives in the inbox",
				Params: []service.ParamSpec{
					{Name: "from", Type: service.ParamString},
				},
			},
		},
		Reactions: []service.OperationSpec{
			{
				Kind:        "send_mail",
				Description: "Send a message",
				Params: []service.ParamSpec{
					{Name: "to", Type: service.ParamString, Required: true},
					{Name: "subject", Type: service.ParamString, Required: true},
					{Name: "body", Type: service.ParamString, Required: true},
				},
			},
		},
	}
}

type message struct {
	Subject          string    `json:"subject"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	From             struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

type messageList struct {
	Value []message `json:"value"`
}

// CheckTrigger evaluates the new_mail trigger.
func (a *Adapter) CheckTrigger(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error) {
	if req.Kind != "new_mail" {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindConfiguration, "unknown trigger %q", req.Kind)
	}

	since, ok, errSince := service.EffectiveSince(ctx, req, a.now())
	if errSince != nil {
		return service.TriggerResult{}, errSince
	}
	if !ok {
		return service.TriggerResult{}, nil
	}

	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("receivedDateTime gt %s", since.UTC().Format(time.RFC3339)))
	query.Set("$orderby", "receivedDateTime desc")
	query.Set("$top", "25")
	target := fmt.Sprintf("%s/me/messages?%s", a.APIBase, query.Encode())

	status, payload, errDo := a.client.Do(ctx, req.UserID, providerName, http.MethodGet, target, nil, nil)
	if errDo != nil {
		return service.TriggerResult{}, errDo
	}
	if status != http.StatusOK {
		return service.TriggerResult{}, service.StatusError(providerName, status, string(payload))
	}

	var list messageList
	if errUnmarshal := json.Unmarshal(payload, &list); errUnmarshal != nil {
		return service.TriggerResult{}, service.Errorf(providerName, service.KindTransient, "decode messages: %v", errUnmarshal)
	}

	fromFilter := strings.ToLower(service.StringParam(req.Params, "from"))
	var newest *message
	for i := range list.Value {
		msg := &list.Value[i]
		if !msg.ReceivedDateTime.After(since) {
			continue
		}
		if fromFilter != "" && strings.ToLower(msg.From.EmailAddress.Address) != fromFilter {
			continue
		}
		if newest == nil || msg.ReceivedDateTime.After(newest.ReceivedDateTime) {
			newest = msg
		}
	}
	if newest == nil {
		return service.TriggerResult{}, nil
	}
	return service.TriggerResult{
		Occurred:   true,
		OccurredAt: newest.ReceivedDateTime,
		Data: map[string]any{
			"subject": newest.Subject,
			"from":    newest.From.EmailAddress.Address,
		},
	}, nil
}

// ExecuteReaction performs the send_mail reaction.
func (a *Adapter) ExecuteReaction(ctx context.Context, req service.ReactionRequest) (service.ReactionResult, error) {
	if req.Kind != "send_mail" {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "unknown reaction %q", req.Kind)
	}

	to := service.StringParam(req.Params, "to")
	subject := service.StringParam(req.Params, "subject")
	bodyText := service.StringParam(req.Params, "body")
	if to == "" || subject == "" || bodyText == "" {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindConfiguration, "to, subject and body are required")
	}

	payload := map[string]any{
		"message": map[string]any{
			"subject": subject,
			"body": map[string]any{
				"contentType": "Text",
				"content":     bodyText,
			},
			"toRecipients": []map[string]any{
				{"emailAddress": map[string]any{"address": to}},
			},
		},
	}
	body, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return service.ReactionResult{}, service.Errorf(providerName, service.KindInternal, "encode message: %v", errMarshal)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	target := a.APIBase + "/me/sendMail"
	status, respBody, errDo := a.client.Do(ctx, req.UserID, providerName, http.MethodPost, target, headers, body)
	if errDo != nil {
		return service.ReactionResult{}, errDo
	}
	if status != http.StatusAccepted {
		return service.ReactionResult{}, service.StatusError(providerName, status, string(respBody))
	}
	return service.ReactionResult{Detail: map[string]any{"to": to, "subject": subject}}, nil
}
