package senders

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/amityvox/notifyd/internal/httpx"
	"github.com/amityvox/notifyd/internal/models"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// SMSSender delivers rendered content through a Twilio-compatible HTTP SMS
// provider API. The target endpoint is tenant-configured, so requests go
// out over the SSRF-safe client.
type SMSSender struct {
	client *http.Client
}

// NewSMSSender constructs an SMSSender with the given per-request timeout.
func NewSMSSender(timeout time.Duration) *SMSSender {
	return &SMSSender{client: httpx.SafeClient(timeout)}
}

// Send implements Sender.
func (s *SMSSender) Send(ctx context.Context, cred *models.Credential, content models.RenderedContent, recipient string) (Result, error) {
	if !e164Pattern.MatchString(recipient) {
		return Result{}, &SendError{Reason: models.FailureContent, Retriable: false, Err: fmt.Errorf("senders/sms: recipient %q is not E.164", recipient)}
	}

	endpoint := cred.Secrets["endpoint"]
	accountSID := cred.Secrets["account_sid"]
	authToken := cred.Secrets["auth_token"]
	from := cred.Secrets["from"]
	if endpoint == "" || accountSID == "" || authToken == "" || from == "" {
		return Result{}, &SendError{Reason: models.FailureAuth, Retriable: false, Err: fmt.Errorf("senders/sms: credential missing endpoint/account_sid/auth_token/from")}
	}

	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", from)
	form.Set("Body", content.Body)

	encoded := form.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
	if err != nil {
		return Result{}, &SendError{Reason: models.FailureInternal, Retriable: true, Err: fmt.Errorf("senders/sms: building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(accountSID, authToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, &SendError{Reason: models.FailureNetwork, Retriable: true, Err: fmt.Errorf("senders/sms: request: %w", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{}, &SendError{Reason: models.FailureAuth, Retriable: false, ProviderResponse: bodyStr, Err: fmt.Errorf("senders/sms: auth rejected, status %d", resp.StatusCode)}
	case resp.StatusCode == 400 && isInvalidNumberError(bodyStr):
		return Result{}, &SendError{Reason: models.FailureProvider, Retriable: false, ProviderResponse: bodyStr, Err: fmt.Errorf("senders/sms: invalid recipient number")}
	case resp.StatusCode >= 500:
		return Result{}, &SendError{Reason: models.FailureProvider, Retriable: true, ProviderResponse: bodyStr, Err: fmt.Errorf("senders/sms: provider error, status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return Result{}, &SendError{Reason: models.FailureProvider, Retriable: false, ProviderResponse: bodyStr, Err: fmt.Errorf("senders/sms: rejected, status %d", resp.StatusCode)}
	}

	return Result{ProviderResponse: bodyStr}, nil
}

// isInvalidNumberError matches Twilio's error code for an invalid 'To'
// number (21211), which is permanent regardless of HTTP status.
func isInvalidNumberError(body string) bool {
	return strings.Contains(body, "21211")
}
