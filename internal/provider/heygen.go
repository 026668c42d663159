package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/syncreel/backend/internal/models"
)

const heygenTimeout = 15 * time.Second

// HeyGenClient talks to a HeyGen-style lip-sync API. Webhook payloads are
// signed with HMAC-SHA256 over the raw body.
type HeyGenClient struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	HTTPClient    *http.Client
}

func NewHeyGenClient(baseURL, apiKey, webhookSecret string) *HeyGenClient {
	return &HeyGenClient{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		WebhookSecret: webhookSecret,
		HTTPClient:    &http.Client{Timeout: heygenTimeout},
	}
}

var _ Client = (*HeyGenClient)(nil)

func (c *HeyGenClient) Name() string { return NameHeyGen }

// heygenStatus maps the provider's status vocabulary onto the canonical enum.
var heygenStatus = map[string]string{
	"pending":    models.TaskStatusQueued,
	"waiting":    models.TaskStatusQueued,
	"processing": models.TaskStatusProcessing,
	"completed":  models.TaskStatusCompleted,
	"success":    models.TaskStatusCompleted,
	"failed":     models.TaskStatusFailed,
	"error":      models.TaskStatusFailed,
}

type heygenSubmitRequest struct {
	VideoURL    string `json:"video_url"`
	AudioURL    string `json:"audio_url,omitempty"`
	InputText   string `json:"input_text,omitempty"`
	Quality     string `json:"quality"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type heygenSubmitResponse struct {
	Code int `json:"code"`
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
	Message string `json:"message"`
}

func (c *HeyGenClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	body, err := json.Marshal(heygenSubmitRequest{
		VideoURL:    req.VideoURL,
		AudioURL:    req.AudioURL,
		InputText:   req.TextPrompt,
		Quality:     req.Quality,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/video/lipsync.generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	var out heygenSubmitResponse
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("%w: decode submit response: %v", ErrProviderUnavailable, err)
		}
		if out.Data.VideoID == "" {
			return "", fmt.Errorf("%w: submit response missing video_id", ErrProviderRejected)
		}
		return out.Data.VideoID, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return "", fmt.Errorf("%w: %s", ErrProviderRejected, out.Message)
	default:
		return "", fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
}

type heygenStatusResponse struct {
	Code int `json:"code"`
	Data struct {
		VideoID  string `json:"video_id"`
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		VideoURL string `json:"video_url"`
		Error    string `json:"error"`
	} `json:"data"`
}

func (c *HeyGenClient) Poll(ctx context.Context, providerTaskID string) (*StatusUpdate, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/video_status.get?video_id="+providerTaskID, nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}
	httpReq.Header.Set("X-Api-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var out heygenStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode status response: %v", ErrProviderUnavailable, err)
	}
	return c.toUpdate(out.Data.VideoID, out.Data.Status, out.Data.Progress, out.Data.VideoURL, out.Data.Error)
}

type heygenWebhookPayload struct {
	EventType string `json:"event_type"`
	EventData struct {
		VideoID  string `json:"video_id"`
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		URL      string `json:"url"`
		Msg      string `json:"msg"`
	} `json:"event_data"`
}

// ParseWebhook verifies the X-Heygen-Signature HMAC and extracts the status
// update. Missing required fields or a bad signature fail with
// ErrMalformedWebhook.
func (c *HeyGenClient) ParseWebhook(body []byte, header http.Header) (*StatusUpdate, error) {
	if c.WebhookSecret != "" {
		sig := header.Get("X-Heygen-Signature")
		if sig == "" {
			return nil, fmt.Errorf("%w: missing signature", ErrMalformedWebhook)
		}
		mac := hmac.New(sha256.New, []byte(c.WebhookSecret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(sig), []byte(expected)) {
			return nil, fmt.Errorf("%w: signature mismatch", ErrMalformedWebhook)
		}
	}

	var payload heygenWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if payload.EventData.VideoID == "" || payload.EventData.Status == "" {
		return nil, fmt.Errorf("%w: missing video_id or status", ErrMalformedWebhook)
	}
	upd, err := c.toUpdate(payload.EventData.VideoID, payload.EventData.Status, payload.EventData.Progress, payload.EventData.URL, payload.EventData.Msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	return upd, nil
}

// Cancel is not offered by the HeyGen-style API.
func (c *HeyGenClient) Cancel(ctx context.Context, providerTaskID string) error {
	return ErrCancelUnsupported
}

func (c *HeyGenClient) toUpdate(videoID, status string, progress int, url, errMsg string) (*StatusUpdate, error) {
	canonical, ok := heygenStatus[status]
	if !ok {
		return nil, fmt.Errorf("unknown heygen status %q", status)
	}
	upd := &StatusUpdate{
		ProviderTaskID: videoID,
		Status:         canonical,
		Progress:       progress,
	}
	if canonical == models.TaskStatusCompleted {
		upd.Progress = 100
		upd.ResultURL = url
	}
	if canonical == models.TaskStatusFailed {
		upd.ErrorDetail = errMsg
	}
	return upd, nil
}

// drain is a small helper for adapters that ignore response bodies.
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 4096))
}
