package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/korailwatch/agent/internal/agent"
)

const (
	webhookTimeout  = 10 * time.Second
	webhookTokenTTL = 5 * time.Minute
	webhookIssuer   = "korailwatch"
)

// Webhook posts the notification as JSON to a configured URL. Receivers that
// require authentication can verify the HS256 bearer token minted per request
// from the shared secret; without a secret the request is sent bare.
type Webhook struct {
	url    string
	secret []byte
	httpc  *http.Client
	logger *slog.Logger
}

// NewWebhook creates the webhook channel. An empty secret disables the bearer
// token.
func NewWebhook(url, secret string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Webhook{
		url:    url,
		httpc:  &http.Client{Timeout: webhookTimeout},
		logger: logger.With(slog.String("channel", "webhook")),
	}
	if secret != "" {
		w.secret = []byte(secret)
	}
	return w
}

func (w *Webhook) Name() string { return "webhook" }

// webhookPayload is the posted body, shaped for Slack-compatible receivers.
type webhookPayload struct {
	Text string `json:"text"`
}

func (w *Webhook) Send(ctx context.Context, n agent.Notification) error {
	body, err := json.Marshal(webhookPayload{Text: n.Title + "\n" + n.Body})
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if w.secret != nil {
		token, err := w.mintToken()
		if err != nil {
			return fmt.Errorf("webhook: sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post to %s: %w", w.url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: %s returned %d", w.url, resp.StatusCode)
	}
	return nil
}

// mintToken signs a short-lived HS256 token for the receiver to verify.
func (w *Webhook) mintToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    webhookIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(webhookTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(w.secret)
}
