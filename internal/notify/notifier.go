// Package notify delivers push notifications to agents and school staff via
// an external provider. Delivery is fire-and-forget: the pipeline never
// blocks or fails because the provider is down.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/matriculahub/go-intake-pipeline/internal/config"
)

// Audience addresses a notification. Exactly one of UserID or SchoolID is
// set: a user gets a direct push, a school fans out to its staff.
type Audience struct {
	UserID   string `json:"user_id,omitempty"`
	SchoolID string `json:"school_id,omitempty"`
}

// Payload is the notification body sent to the provider.
type Payload struct {
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Kind        string            `json:"kind"`
	Data        map[string]string `json:"data,omitempty"`
	RelatedID   string            `json:"related_id,omitempty"`
	RelatedType string            `json:"related_type,omitempty"`
}

type pushRequest struct {
	Audience Audience `json:"audience"`
	Payload  Payload  `json:"payload"`
}

// Notifier posts notifications to the configured provider. A Notifier built
// without a PUSH_URL silently drops everything, which keeps local and test
// environments quiet.
type Notifier struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// New builds a Notifier from configuration.
func New(cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		url:    cfg.PushURL,
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Enabled reports whether a provider is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// Send delivers one notification. Errors are logged, never returned: a lost
// notification must not fail or retry the job that produced it.
func (n *Notifier) Send(ctx context.Context, aud Audience, p Payload) {
	if !n.Enabled() {
		return
	}
	if err := n.post(ctx, aud, p); err != nil {
		log.Warn().
			Err(err).
			Str("kind", p.Kind).
			Str("user_id", aud.UserID).
			Str("school_id", aud.SchoolID).
			Msg("push delivery failed")
		return
	}
	log.Debug().Str("kind", p.Kind).Str("title", p.Title).Msg("push delivered")
}

func (n *Notifier) post(ctx context.Context, aud Audience, p Payload) error {
	body, err := json.Marshal(pushRequest{Audience: aud, Payload: p})
	if err != nil {
		return fmt.Errorf("failed to marshal push: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push provider status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
