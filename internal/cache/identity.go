package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/amityvox/notifyd/internal/httpx"
	"github.com/amityvox/notifyd/internal/models"
)

// IdentityHTTPClient fetches tenant branding from the external identity
// service over an SSRF-safe HTTP client, since the identity service base
// URL is an operator-supplied config value that may point anywhere.
type IdentityHTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewIdentityHTTPClient constructs a client against baseURL (e.g.
// "https://identity.internal/api").
func NewIdentityHTTPClient(baseURL string, timeout time.Duration) *IdentityHTTPClient {
	return &IdentityHTTPClient{baseURL: baseURL, client: httpx.SafeClient(timeout)}
}

type brandingResponse struct {
	Name           string `json:"name"`
	LogoURL        string `json:"logo_url"`
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	EmailFrom      string `json:"email_from"`
	About          string `json:"about"`
}

// FetchBranding implements IdentityClient.
func (c *IdentityHTTPClient) FetchBranding(ctx context.Context, tenantID string) (models.TenantBranding, error) {
	url := fmt.Sprintf("%s/tenants/%s/branding", c.baseURL, tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.TenantBranding{}, fmt.Errorf("cache/identity: building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.TenantBranding{}, fmt.Errorf("cache/identity: requesting branding: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.TenantBranding{}, ErrBrandingNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return models.TenantBranding{}, fmt.Errorf("cache/identity: unexpected status %d for tenant %s", resp.StatusCode, tenantID)
	}

	var body brandingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.TenantBranding{}, fmt.Errorf("cache/identity: decoding branding response: %w", err)
	}

	return models.TenantBranding{
		TenantID:       tenantID,
		Name:           body.Name,
		LogoURL:        body.LogoURL,
		PrimaryColor:   body.PrimaryColor,
		SecondaryColor: body.SecondaryColor,
		EmailFrom:      body.EmailFrom,
		About:          body.About,
	}, nil
}
