package outlook

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

type staticTokens struct{}

func (staticTokens) AccessToken(_ context.Context, _, _ string) (string, error) {
	return "token-1", nil
}

func (staticTokens) ForceRefresh(_ context.Context, _, _ string) (string, error) {
	return "token-1", nil
}

func messageBody(subject, from string, receivedAt time.Time) map[string]any {
	return map[string]any{
		"subject":          subject,
		"receivedDateTime": receivedAt.Format(time.RFC3339),
		"from": map[string]any{
			"emailAddress": map[string]any{"address": from},
		},
	}
}

func TestNewMailFiltersBySenderAndCursor(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				messageBody("old", "boss@example.com", base.Add(-time.Hour)),
				messageBody("spam", "noreply@example.com", base.Add(5*time.Minute)),
				messageBody("urgent", "boss@example.com", base.Add(10*time.Minute)),
			},
		})
	}))
	t.Cleanup(srv.Close)

	adapter := New(service.NewClient(staticTokens{}, srv.Client()))
	adapter.APIBase = srv.URL

	cursor := base
	result, err := adapter.CheckTrigger(context.Background(), service.TriggerRequest{
		Kind:   "new_mail",
		Params: map[string]any{"from": "Boss@Example.com"},
		Since:  &cursor,
		State:  &memState{},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Occurred {
		t.Fatal("expected a fire for mail newer than the cursor")
	}
	if got := result.Data["subject"]; got != "urgent" {
		t.Fatalf("expected subject urgent, got %v", got)
	}
	if !result.OccurredAt.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("wrong OccurredAt %v", result.OccurredAt)
	}
}

func TestSendMailPostsGraphPayload(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/me/sendMail" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	adapter := New(service.NewClient(staticTokens{}, srv.Client()))
	adapter.APIBase = srv.URL

	_, err := adapter.ExecuteReaction(context.Background(), service.ReactionRequest{
		Kind: "send_mail",
		Params: map[string]any{
			"to":      "team@example.com",
			"subject": "heads up",
			"body":    "the build broke",
		},
	})
	if err != nil {
		t.Fatalf("reaction: %v", err)
	}
	msg, ok := gotBody["message"].(map[string]any)
	if !ok {
		t.Fatalf("no message in payload: %v", gotBody)
	}
	if msg["subject"] != "heads up" {
		t.Fatalf("wrong subject %v", msg["subject"])
	}
}

func TestSendMailMissingParams(t *testing.T) {
	adapter := New(service.NewClient(staticTokens{}, nil))
	_, err := adapter.ExecuteReaction(context.Background(), service.ReactionRequest{
		Kind:   "send_mail",
		Params: map[string]any{"to": "team@example.com"},
	})
	if service.KindOf(err) != service.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
