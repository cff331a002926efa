package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookSenderPostsMessage(t *testing.T) {
	var got struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "secret-token")
	if err := s.Send(context.Background(), "+15551230000", "your appointment is tomorrow"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if got.To != "+15551230000" || got.Body != "your appointment is tomorrow" {
		t.Fatalf("posted %+v", got)
	}
	if auth != "Bearer secret-token" {
		t.Fatalf("Authorization = %q", auth)
	}
}

func TestWebhookSenderRejectsGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "")
	if err := s.Send(context.Background(), "+15551230000", "hi"); err == nil {
		t.Fatal("non-2xx gateway response should error")
	}
}

func TestWebhookSenderRequiresEndpoint(t *testing.T) {
	s := NewWebhookSender("", "")
	if err := s.Send(context.Background(), "+15551230000", "hi"); err == nil {
		t.Fatal("missing endpoint should error")
	}
}
