package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookSenderMulticast(t *testing.T) {
	var got struct {
		Notification Notification `json:"notification"`
		Tokens       []string     `json:"tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer relay-secret" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success_count":  1,
			"failure_count":  1,
			"invalid_tokens": []string{"tok-stale"},
		})
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "relay-secret")
	res, err := s.SendMulticast(context.Background(), []string{"tok-1", "tok-stale"}, Notification{
		Title: "Appointment reminder",
		Body:  "Jane Doe has an appointment for Haircut in 15 minutes.",
	})
	if err != nil {
		t.Fatalf("SendMulticast failed: %v", err)
	}
	if len(got.Tokens) != 2 {
		t.Fatalf("expected 2 tokens in payload, got %d", len(got.Tokens))
	}
	if got.Notification.Title != "Appointment reminder" {
		t.Fatalf("unexpected title %q", got.Notification.Title)
	}
	if res.Success != 1 || res.Failure != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.InvalidTokens) != 1 || res.InvalidTokens[0] != "tok-stale" {
		t.Fatalf("expected tok-stale invalid, got %v", res.InvalidTokens)
	}
}

func TestWebhookSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "")
	if _, err := s.SendMulticast(context.Background(), []string{"tok-1"}, Notification{}); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}

func TestWebhookSenderMissingURL(t *testing.T) {
	s := NewWebhookSender("", "")
	if _, err := s.SendMulticast(context.Background(), []string{"tok-1"}, Notification{}); err == nil {
		t.Fatal("expected error when relay url is not configured")
	}
}

func TestWebhookSenderEmptyTokens(t *testing.T) {
	s := NewWebhookSender("http://relay.invalid", "")
	res, err := s.SendMulticast(context.Background(), nil, Notification{})
	if err != nil {
		t.Fatalf("expected no error for empty token set, got %v", err)
	}
	if res.Success != 0 || res.Failure != 0 {
		t.Fatalf("expected zero result, got %+v", res)
	}
}
