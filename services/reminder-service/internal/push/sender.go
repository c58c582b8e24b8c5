package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Notification is a single push payload delivered to many tokens.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Result reports the outcome of one multicast send. InvalidTokens lists
// tokens the delivery service says will never succeed again and can be
// pruned from the registry.
type Result struct {
	Success       int
	Failure       int
	InvalidTokens []string
}

// Sender delivers one notification to a set of device tokens. Per-token
// failures are reported in the Result, not as an error; an error means
// the multicast as a whole did not happen.
type Sender interface {
	SendMulticast(ctx context.Context, tokens []string, n Notification) (Result, error)
	ProviderID() string
}

// WebhookSender posts the multicast to an HTTP push relay fronting the
// actual delivery service.
type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url string, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "push-webhook"
}

func (s *WebhookSender) SendMulticast(ctx context.Context, tokens []string, n Notification) (Result, error) {
	if s.url == "" {
		return Result{}, errors.New("push webhook url not configured")
	}
	if len(tokens) == 0 {
		return Result{}, nil
	}

	payload := map[string]any{
		"notification": n,
		"tokens":       tokens,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, errors.New("push webhook returned non-2xx")
	}

	var body struct {
		SuccessCount  int      `json:"success_count"`
		FailureCount  int      `json:"failure_count"`
		InvalidTokens []string `json:"invalid_tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// Relay accepted the multicast but returned no per-token report.
		return Result{Success: len(tokens)}, nil
	}
	return Result{
		Success:       body.SuccessCount,
		Failure:       body.FailureCount,
		InvalidTokens: body.InvalidTokens,
	}, nil
}

// NoopSender accepts every send. Used in local setups without a relay.
type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "push-noop"
}

func (s *NoopSender) SendMulticast(_ context.Context, tokens []string, _ Notification) (Result, error) {
	return Result{Success: len(tokens)}, nil
}
