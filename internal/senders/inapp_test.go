package senders

import (
	"context"
	"testing"

	"github.com/amityvox/notifyd/internal/models"
)

type fakeHub struct {
	delivered bool
	err       error
}

func (h *fakeHub) BroadcastNotification(ctx context.Context, tenantID, userID string, content models.RenderedContent) (bool, error) {
	return h.delivered, h.err
}

func TestInAppSender_DeliveredWhenOnline(t *testing.T) {
	s := NewInAppSender(&fakeHub{delivered: true})
	res, err := s.Send(context.Background(), &models.Credential{TenantID: "t1"}, models.RenderedContent{Body: "hi"}, "user-1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderResponse != "delivered live" {
		t.Errorf("response = %q", res.ProviderResponse)
	}
}

func TestInAppSender_SucceedsWhenOffline(t *testing.T) {
	s := NewInAppSender(&fakeHub{delivered: false})
	res, err := s.Send(context.Background(), &models.Credential{TenantID: "t1"}, models.RenderedContent{Body: "hi"}, "user-1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderResponse == "" {
		t.Error("expected a provider response describing the offline persist")
	}
}
