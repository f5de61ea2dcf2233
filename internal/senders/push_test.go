package senders

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amityvox/notifyd/internal/models"
)

// fakeServiceAccountJSON builds a service-account credentials document
// whose token_uri points at tokenServerURL, so the JWT-bearer flow in
// PushSender mints tokens against a local test server instead of Google.
func fakeServiceAccountJSON(t *testing.T, tokenServerURL string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	pemBlock := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})

	doc := map[string]string{
		"type":         "service_account",
		"project_id":   "test-project",
		"private_key":  string(pemBlock),
		"client_email": "notifyd@test-project.iam.gserviceaccount.com",
		"token_uri":    tokenServerURL,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal service account: %v", err)
	}
	return string(raw)
}

func fakeTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "fake-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
}

func TestPushSender_MintsTokenFromServiceAccount(t *testing.T) {
	tokenSrv := fakeTokenServer(t)
	defer tokenSrv.Close()

	s := NewPushSender(time.Second)
	cred := &models.Credential{
		ID: models.NewID(),
		Secrets: map[string]string{
			"service_account_json": fakeServiceAccountJSON(t, tokenSrv.URL),
			"project_id":           "test-project",
		},
	}

	ts, err := s.tokenSource(context.Background(), cred)
	if err != nil {
		t.Fatalf("tokenSource: %v", err)
	}
	token, err := ts.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token.AccessToken != "fake-token" {
		t.Errorf("access token = %q, want fake-token", token.AccessToken)
	}
}

func TestPushSender_TokenSourceCached(t *testing.T) {
	tokenSrv := fakeTokenServer(t)
	defer tokenSrv.Close()

	s := NewPushSender(time.Second)
	cred := &models.Credential{
		ID: models.NewID(),
		Secrets: map[string]string{
			"service_account_json": fakeServiceAccountJSON(t, tokenSrv.URL),
			"project_id":           "test-project",
		},
	}

	first, err := s.tokenSource(context.Background(), cred)
	if err != nil {
		t.Fatalf("tokenSource: %v", err)
	}
	second, err := s.tokenSource(context.Background(), cred)
	if err != nil {
		t.Fatalf("tokenSource: %v", err)
	}
	if first != second {
		t.Error("expected the same cached token source for the same credential")
	}
}

func TestPushSender_MissingProjectIDIsAuthError(t *testing.T) {
	s := NewPushSender(time.Second)
	cred := &models.Credential{ID: models.NewID(), Secrets: map[string]string{}}

	_, err := s.Send(context.Background(), cred, models.RenderedContent{Body: "hi"}, "device-token")
	assertSendError(t, err, models.FailureAuth, false)
}

func TestPushSender_MissingServiceAccountIsAuthError(t *testing.T) {
	s := NewPushSender(time.Second)
	cred := &models.Credential{ID: models.NewID(), Secrets: map[string]string{"project_id": "test-project"}}

	_, err := s.Send(context.Background(), cred, models.RenderedContent{Body: "hi"}, "device-token")
	assertSendError(t, err, models.FailureAuth, false)
}
