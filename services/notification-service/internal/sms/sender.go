// Package sms delivers patient text messages through a pluggable provider.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

const requestTimeout = 5 * time.Second

// WebhookSender forwards messages to an HTTP SMS gateway bridge; the
// gateway owns carrier delivery and its own retries.
type WebhookSender struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewWebhookSender(endpoint, token string) *WebhookSender {
	return &WebhookSender{
		endpoint: strings.TrimSpace(endpoint),
		token:    strings.TrimSpace(token),
		client:   &http.Client{Timeout: requestTimeout},
	}
}

func (s *WebhookSender) ProviderID() string { return "sms-webhook" }

func (s *WebhookSender) Send(ctx context.Context, to string, body string) error {
	if s.endpoint == "" {
		return errors.New("sms webhook url not configured")
	}
	req, err := s.newRequest(ctx, to, body)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms webhook: status %d", resp.StatusCode)
	}
	return nil
}

func (s *WebhookSender) newRequest(ctx context.Context, to, body string) (*http.Request, error) {
	raw, err := json.Marshal(struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}{To: to, Body: body})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}

// NoopSender drops every message; the dev default when no gateway is wired.
type NoopSender struct{}

func NewNoopSender() *NoopSender { return &NoopSender{} }

func (*NoopSender) ProviderID() string { return "sms-noop" }

func (*NoopSender) Send(context.Context, string, string) error { return nil }
