package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amityvox/notifyd/internal/auth"
	"github.com/amityvox/notifyd/internal/models"
)

const testSecret = "api-test-secret"

func signToken(t *testing.T, tenantID string) string {
	t.Helper()
	claims := auth.Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "user-1",
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

type fakeDeviceStore struct {
	registered *models.DeviceToken
}

func (f *fakeDeviceStore) Register(_ context.Context, tenantID, userID, platform, token string) (*models.DeviceToken, error) {
	f.registered = &models.DeviceToken{
		ID: models.NewID(), TenantID: tenantID, UserID: userID, Platform: platform, Token: token, Active: true,
	}
	return f.registered, nil
}

type fakeDeadLetterStore struct {
	letters []*models.DeadLetter
}

func (f *fakeDeadLetterStore) List(_ context.Context, tenantID string, limit int) ([]*models.DeadLetter, error) {
	return f.letters, nil
}

func newTestServer() (*Server, *fakeDeviceStore) {
	devStore := &fakeDeviceStore{}
	return &Server{
		Auth:    auth.NewService(testSecret),
		Devices: devStore,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, devStore
}

func TestRegisterDevice_RejectsMissingAuth(t *testing.T) {
	s, _ := newTestServer()
	srv := httptest.NewServer(s.NewRouter())
	defer srv.Close()

	body, _ := json.Marshal(registerDeviceRequest{UserID: "u1", Platform: "ios", Token: "tok"})
	resp, err := http.Post(srv.URL+"/tenants/tenant-a/devices", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRegisterDevice_RejectsTenantMismatch(t *testing.T) {
	s, _ := newTestServer()
	srv := httptest.NewServer(s.NewRouter())
	defer srv.Close()

	token := signToken(t, "tenant-a")
	body, _ := json.Marshal(registerDeviceRequest{UserID: "u1", Platform: "ios", Token: "tok"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/tenants/tenant-b/devices", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRegisterDevice_Succeeds(t *testing.T) {
	s, devStore := newTestServer()
	srv := httptest.NewServer(s.NewRouter())
	defer srv.Close()

	token := signToken(t, "tenant-a")
	body, _ := json.Marshal(registerDeviceRequest{UserID: "u1", Platform: "ios", Token: "tok"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/tenants/tenant-a/devices", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if devStore.registered == nil || devStore.registered.UserID != "u1" {
		t.Fatalf("expected device registered for u1, got %+v", devStore.registered)
	}
}

func TestRegisterDevice_RejectsIncompleteBody(t *testing.T) {
	s, _ := newTestServer()
	srv := httptest.NewServer(s.NewRouter())
	defer srv.Close()

	token := signToken(t, "tenant-a")
	body, _ := json.Marshal(registerDeviceRequest{UserID: "u1"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/tenants/tenant-a/devices", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListDeadLetters_Succeeds(t *testing.T) {
	dl := &fakeDeadLetterStore{letters: []*models.DeadLetter{
		{ID: models.NewID(), Topic: "billing.events", TenantID: "tenant-a", Reason: "unknown template"},
	}}
	s := &Server{
		Auth:        auth.NewService(testSecret),
		DeadLetters: dl,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	srv := httptest.NewServer(s.NewRouter())
	defer srv.Close()

	token := signToken(t, "tenant-a")
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/tenants/tenant-a/dead-letters", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out []models.DeadLetter
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out) != 1 || out[0].Reason != "unknown template" {
		t.Fatalf("unexpected dead letters: %+v", out)
	}
}
