package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Dialog360Sender sends WhatsApp text messages through the 360dialog API.
type Dialog360Sender struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewDialog360Sender creates a sender for baseURL.
func NewDialog360Sender(baseURL, apiKey string, timeout time.Duration) *Dialog360Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dialog360Sender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type dialogText struct {
	Body string `json:"body"`
}

type dialogRequest struct {
	MessagingProduct string     `json:"messaging_product"`
	RecipientType    string     `json:"recipient_type"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Text             dialogText `json:"text"`
}

type dialogResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (s *Dialog360Sender) SendText(ctx context.Context, to, body string, _ Metadata) (string, error) {
	payload, err := json.Marshal(dialogRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
		Text:             dialogText{Body: body},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("D360-API-KEY", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: status %d: %s", ErrInvalidRecipient, resp.StatusCode, snippet(raw))
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: status %d", ErrProviderRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("unexpected send status %d: %s", resp.StatusCode, snippet(raw))
	}

	var decoded dialogResponse
	if err := json.Unmarshal(raw, &decoded); err != nil || len(decoded.Messages) == 0 {
		return "", fmt.Errorf("%w: unreadable send response", ErrTransient)
	}
	return decoded.Messages[0].ID, nil
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}
