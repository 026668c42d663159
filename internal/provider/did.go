package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/syncreel/backend/internal/models"
)

const didTimeout = 15 * time.Second

// DIDClient talks to a D-ID-style talks API. Webhooks are not signed; the
// payload shape is validated instead.
type DIDClient struct {
	BaseURL    string
	AuthKey    string
	HTTPClient *http.Client
}

func NewDIDClient(baseURL, authKey string) *DIDClient {
	return &DIDClient{
		BaseURL:    baseURL,
		AuthKey:    authKey,
		HTTPClient: &http.Client{Timeout: didTimeout},
	}
}

var _ Client = (*DIDClient)(nil)

func (c *DIDClient) Name() string { return NameDID }

var didStatus = map[string]string{
	"created":  models.TaskStatusQueued,
	"started":  models.TaskStatusProcessing,
	"done":     models.TaskStatusCompleted,
	"error":    models.TaskStatusFailed,
	"rejected": models.TaskStatusFailed,
}

type didScript struct {
	Type     string `json:"type"`
	AudioURL string `json:"audio_url,omitempty"`
	Input    string `json:"input,omitempty"`
}

type didSubmitRequest struct {
	SourceURL string    `json:"source_url"`
	Script    didScript `json:"script"`
	Webhook   string    `json:"webhook,omitempty"`
	Config    struct {
		Stitch  bool   `json:"stitch"`
		Quality string `json:"quality,omitempty"`
	} `json:"config"`
}

type didTalk struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ResultURL   string `json:"result_url"`
	Error       *struct {
		Kind        string `json:"kind"`
		Description string `json:"description"`
	} `json:"error,omitempty"`
	Description string `json:"description,omitempty"`
}

func (c *DIDClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	body := didSubmitRequest{SourceURL: req.VideoURL, Webhook: req.CallbackURL}
	if req.AudioURL != "" {
		body.Script = didScript{Type: "audio", AudioURL: req.AudioURL}
	} else {
		body.Script = didScript{Type: "text", Input: req.TextPrompt}
	}
	body.Config.Stitch = true
	body.Config.Quality = req.Quality

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/talks", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+c.AuthKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var talk didTalk
		if err := json.NewDecoder(resp.Body).Decode(&talk); err != nil {
			return "", fmt.Errorf("%w: decode submit response: %v", ErrProviderUnavailable, err)
		}
		if talk.ID == "" {
			return "", fmt.Errorf("%w: submit response missing id", ErrProviderRejected)
		}
		return talk.ID, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusTooManyRequests:
		var talk didTalk
		_ = json.NewDecoder(resp.Body).Decode(&talk)
		return "", fmt.Errorf("%w: %s", ErrProviderRejected, talk.Description)
	default:
		return "", fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
}

func (c *DIDClient) Poll(ctx context.Context, providerTaskID string) (*StatusUpdate, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/talks/"+providerTaskID, nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Basic "+c.AuthKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var talk didTalk
	if err := json.NewDecoder(resp.Body).Decode(&talk); err != nil {
		return nil, fmt.Errorf("%w: decode poll response: %v", ErrProviderUnavailable, err)
	}
	return c.toUpdate(&talk)
}

// ParseWebhook validates the talk payload shape; the D-ID-style API does not
// sign webhook deliveries.
func (c *DIDClient) ParseWebhook(body []byte, _ http.Header) (*StatusUpdate, error) {
	var talk didTalk
	if err := json.Unmarshal(body, &talk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if talk.ID == "" || talk.Status == "" {
		return nil, fmt.Errorf("%w: missing id or status", ErrMalformedWebhook)
	}
	upd, err := c.toUpdate(&talk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	return upd, nil
}

// Cancel deletes the talk; best-effort, a 404 is treated as success.
func (c *DIDClient) Cancel(ctx context.Context, providerTaskID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/talks/"+providerTaskID, nil)
	if err != nil {
		return fmt.Errorf("create cancel request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Basic "+c.AuthKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	drain(resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *DIDClient) toUpdate(talk *didTalk) (*StatusUpdate, error) {
	canonical, ok := didStatus[talk.Status]
	if !ok {
		return nil, fmt.Errorf("unknown d-id status %q", talk.Status)
	}
	upd := &StatusUpdate{
		ProviderTaskID: talk.ID,
		Status:         canonical,
	}
	switch canonical {
	case models.TaskStatusProcessing:
		upd.Progress = 50
	case models.TaskStatusCompleted:
		upd.Progress = 100
		upd.ResultURL = talk.ResultURL
	case models.TaskStatusFailed:
		if talk.Error != nil {
			upd.ErrorDetail = talk.Error.Description
		}
		if upd.ErrorDetail == "" {
			upd.ErrorDetail = talk.Status
		}
	}
	return upd, nil
}
