package senders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/amityvox/notifyd/internal/httpx"
	"github.com/amityvox/notifyd/internal/models"
)

// PushSender delivers rendered content through the FCM HTTP v1 API,
// authenticating with a service-account JWT-bearer flow via
// golang.org/x/oauth2/google so no refresh-token round trip is needed
// beyond the initial token mint.
type PushSender struct {
	client *http.Client

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewPushSender constructs a PushSender with the given per-request timeout.
func NewPushSender(timeout time.Duration) *PushSender {
	return &PushSender{client: httpx.SafeClient(timeout), sources: make(map[string]oauth2.TokenSource)}
}

const fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

func (s *PushSender) tokenSource(ctx context.Context, cred *models.Credential) (oauth2.TokenSource, error) {
	key := cred.ID.String()

	s.mu.Lock()
	if ts, ok := s.sources[key]; ok {
		s.mu.Unlock()
		return ts, nil
	}
	s.mu.Unlock()

	serviceAccountJSON := cred.Secrets["service_account_json"]
	if serviceAccountJSON == "" {
		return nil, fmt.Errorf("senders/push: credential missing service_account_json")
	}

	cfg, err := google.JWTConfigFromJSON([]byte(serviceAccountJSON), fcmScope)
	if err != nil {
		return nil, fmt.Errorf("senders/push: parsing service account: %w", err)
	}
	ts := cfg.TokenSource(ctx)

	s.mu.Lock()
	s.sources[key] = ts
	s.mu.Unlock()
	return ts, nil
}

type fcmMessage struct {
	Message fcmMessageBody `json:"message"`
}

type fcmMessageBody struct {
	Token        string            `json:"token"`
	Notification *fcmNotification  `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmErrorResponse struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send implements Sender. recipient is the device registration token.
func (s *PushSender) Send(ctx context.Context, cred *models.Credential, content models.RenderedContent, recipient string) (Result, error) {
	projectID := cred.Secrets["project_id"]
	if projectID == "" {
		return Result{}, &SendError{Reason: models.FailureAuth, Retriable: false, Err: fmt.Errorf("senders/push: credential missing project_id")}
	}

	ts, err := s.tokenSource(ctx, cred)
	if err != nil {
		return Result{}, &SendError{Reason: models.FailureAuth, Retriable: false, Err: err}
	}
	token, err := ts.Token()
	if err != nil {
		return Result{}, &SendError{Reason: models.FailureAuth, Retriable: false, Err: fmt.Errorf("senders/push: minting token: %w", err)}
	}

	data := make(map[string]string, len(content.Data))
	for k, v := range content.Data {
		data[k] = fmt.Sprintf("%v", v)
	}

	payload := fcmMessage{Message: fcmMessageBody{
		Token:        recipient,
		Notification: &fcmNotification{Title: content.Subject, Body: content.Body},
		Data:         data,
	}}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, &SendError{Reason: models.FailureInternal, Retriable: true, Err: fmt.Errorf("senders/push: marshaling payload: %w", err)}
	}

	url := fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, &SendError{Reason: models.FailureInternal, Retriable: true, Err: fmt.Errorf("senders/push: building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, &SendError{Reason: models.FailureNetwork, Retriable: true, Err: fmt.Errorf("senders/push: request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK {
		return Result{ProviderResponse: string(respBody)}, nil
	}

	var fcmErr fcmErrorResponse
	_ = json.Unmarshal(respBody, &fcmErr)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{}, &SendError{Reason: models.FailureAuth, Retriable: false, ProviderResponse: string(respBody), Err: fmt.Errorf("senders/push: auth rejected")}
	case resp.StatusCode == http.StatusNotFound || strings.Contains(fcmErr.Error.Status, "UNREGISTERED"):
		return Result{}, &SendError{Reason: models.FailureProvider, Retriable: false, Inactive: true, ProviderResponse: string(respBody), Err: fmt.Errorf("senders/push: device unregistered")}
	case resp.StatusCode >= 500:
		return Result{}, &SendError{Reason: models.FailureProvider, Retriable: true, ProviderResponse: string(respBody), Err: fmt.Errorf("senders/push: provider error, status %d", resp.StatusCode)}
	default:
		return Result{}, &SendError{Reason: models.FailureProvider, Retriable: false, ProviderResponse: string(respBody), Err: fmt.Errorf("senders/push: rejected, status %d", resp.StatusCode)}
	}
}
