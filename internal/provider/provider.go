package provider

import (
	"context"
	"errors"
	"net/http"
)

// Provider identifiers.
const (
	NameHeyGen = "heygen"
	NameDID    = "did"
)

// ErrProviderRejected means the provider refused the input (unsupported
// format, quality not offered). Not retryable; the reservation must be
// released by the caller.
var ErrProviderRejected = errors.New("provider rejected the task")

// ErrProviderUnavailable covers transport, auth, and 5xx failures.
// Retryable with backoff.
var ErrProviderUnavailable = errors.New("provider unavailable")

// ErrMalformedWebhook means a webhook payload is missing required fields or
// failed signature verification. Logged and acknowledged, never retried.
var ErrMalformedWebhook = errors.New("malformed webhook payload")

// ErrCancelUnsupported is returned by adapters whose API has no cancel call.
var ErrCancelUnsupported = errors.New("provider does not support cancellation")

// SubmitRequest carries the provider-agnostic task inputs.
type SubmitRequest struct {
	VideoURL    string
	AudioURL    string
	TextPrompt  string
	Quality     string
	CallbackURL string
}

// StatusUpdate is the canonical shape both polling and webhooks produce.
// Status uses the models.TaskStatus vocabulary; each adapter is the single
// place its provider's vocabulary is mapped onto it.
type StatusUpdate struct {
	ProviderTaskID string
	Status         string
	Progress       int
	ResultURL      string
	ErrorDetail    string
}

// Client is the capability interface implemented per provider.
type Client interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (providerTaskID string, err error)
	Poll(ctx context.Context, providerTaskID string) (*StatusUpdate, error)
	ParseWebhook(body []byte, header http.Header) (*StatusUpdate, error)
	Cancel(ctx context.Context, providerTaskID string) error
}
