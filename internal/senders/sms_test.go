package senders

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amityvox/notifyd/internal/models"
)

func TestSMSSender_RejectsNonE164(t *testing.T) {
	s := NewSMSSender(time.Second)
	cred := &models.Credential{Secrets: map[string]string{"endpoint": "http://x", "account_sid": "a", "auth_token": "b", "from": "+10000000000"}}

	_, err := s.Send(context.Background(), cred, models.RenderedContent{Body: "hi"}, "not-a-number")
	assertSendError(t, err, models.FailureContent, false)
}

func TestSMSSender_ClassifiesAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSMSSender(time.Second)
	s.client = srv.Client() // srv listens on loopback, which httpx.SafeClient refuses to dial
	cred := &models.Credential{Secrets: map[string]string{"endpoint": srv.URL, "account_sid": "a", "auth_token": "b", "from": "+10000000000"}}

	_, err := s.Send(context.Background(), cred, models.RenderedContent{Body: "hi"}, "+15551234567")
	assertSendError(t, err, models.FailureAuth, false)
}

func TestSMSSender_ClassifiesProviderOutageAsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewSMSSender(time.Second)
	s.client = srv.Client() // srv listens on loopback, which httpx.SafeClient refuses to dial
	cred := &models.Credential{Secrets: map[string]string{"endpoint": srv.URL, "account_sid": "a", "auth_token": "b", "from": "+10000000000"}}

	_, err := s.Send(context.Background(), cred, models.RenderedContent{Body: "hi"}, "+15551234567")
	assertSendError(t, err, models.FailureProvider, true)
}

func TestSMSSender_SuccessReturnsProviderResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer srv.Close()

	s := NewSMSSender(time.Second)
	s.client = srv.Client() // srv listens on loopback, which httpx.SafeClient refuses to dial
	cred := &models.Credential{Secrets: map[string]string{"endpoint": srv.URL, "account_sid": "a", "auth_token": "b", "from": "+10000000000"}}

	res, err := s.Send(context.Background(), cred, models.RenderedContent{Body: "hi"}, "+15551234567")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderResponse == "" {
		t.Error("expected a non-empty provider response")
	}
}

func assertSendError(t *testing.T, err error, wantReason models.FailureReason, wantRetriable bool) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	se, ok := err.(*SendError)
	if !ok {
		t.Fatalf("expected *SendError, got %T", err)
	}
	if se.Reason != wantReason {
		t.Errorf("reason = %s, want %s", se.Reason, wantReason)
	}
	if se.Retriable != wantRetriable {
		t.Errorf("retriable = %v, want %v", se.Retriable, wantRetriable)
	}
}
