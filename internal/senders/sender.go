// Package senders implements the per-channel Channel Senders (§4.6): one
// Sender per transport, each given a resolved credential and rendered
// content and returning a classified success or failure so the worker pool
// can decide whether to retry.
package senders

import (
	"context"

	"github.com/amityvox/notifyd/internal/models"
)

// Result is what a Sender returns for one delivery attempt.
type Result struct {
	ProviderResponse string
}

// SendError wraps a send failure with its taxonomy classification (§7) and
// whether the worker pool should retry it. Inactive signals that the
// recipient itself is gone (e.g. an FCM UNREGISTERED device token) and the
// worker pool should deactivate it rather than just record the failure.
type SendError struct {
	Reason           models.FailureReason
	Retriable        bool
	Inactive         bool
	ProviderResponse string
	Err              error
}

func (e *SendError) Error() string { return e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// Sender delivers rendered content to one recipient over one channel using
// a resolved credential's secrets.
type Sender interface {
	Send(ctx context.Context, cred *models.Credential, content models.RenderedContent, recipient string) (Result, error)
}

// Registry maps a Channel to the Sender that handles it.
type Registry struct {
	senders map[models.Channel]Sender
}

// NewRegistry builds a Registry from a channel-to-sender map.
func NewRegistry(m map[models.Channel]Sender) *Registry {
	return &Registry{senders: m}
}

// For returns the Sender registered for channel, if any.
func (r *Registry) For(channel models.Channel) (Sender, bool) {
	s, ok := r.senders[channel]
	return s, ok
}
