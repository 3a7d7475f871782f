// Package gateway is the WhatsApp messaging gateway client. Send errors
// carry their HTTP-like status class so the executor's retry policy can
// distinguish transient failures (retry) from permanent ones (fail fast).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/shipment-monitor/internal/config"
)

// Error is a classified gateway failure.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error (status %d): %s", e.StatusCode, e.Message)
}

// Transient reports whether the failure is worth retrying: server-side
// errors and throttling. Client errors (bad template, bad recipient) are
// permanent and must not be retried.
func (e *Error) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsTransient classifies any error for the retry policy: network errors
// count as transient, classified gateway errors answer for themselves.
func IsTransient(err error) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Transient()
	}
	return err != nil
}

// SendRequest is one templated outbound message. Fields carries only
// logistics template values; the recipient phone is the single PII field
// and exists only for the duration of the HTTP call.
type SendRequest struct {
	TemplateID string            `json:"template_id"`
	Recipient  string            `json:"recipient"`
	Body       string            `json:"body"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// SendResult is the gateway's acknowledgment of an accepted message.
type SendResult struct {
	ProviderID string `json:"provider_id"`
}

// Sender is the interface the executor depends on; satisfied by *Client
// and by test fakes.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// Client talks to the WhatsApp gateway HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a gateway client. Retrying is the caller's concern:
// the executor wraps Send in its bounded retry policy so retry counts land
// in the action ledger.
func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Send delivers one message. A non-2xx response becomes a classified
// *Error; the provider's message ID is returned on success.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create send request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read send response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var result SendResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}
	return &result, nil
}
