/**
 * @description
 * This package provides a client for the external payment processor. The only
 * operation the core needs is capture of a previously-authorized payment,
 * keyed by an idempotency key so a timed-out call can be retried without ever
 * producing a second charge.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package payclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Capturer is the interface consumed by the charge dispatcher; satisfied by
// *Client and by test stubs.
type Capturer interface {
	Capture(ctx context.Context, idempotencyKey string, amountCents int64) (*CaptureResponse, error)
}

// Client is an HTTP client for the payment processor.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payment client. The timeout is a hard upper bound;
// a capture that exceeds it is treated as failed and is only ever retried
// with the same idempotency key.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type captureRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

// CaptureResponse is the processor's verdict for a capture attempt.
type CaptureResponse struct {
	Captured  bool   `json:"captured"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ErrorResponse represents an error payload from the payment processor.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment api error: %s", e.Message)
	}
	return fmt.Sprintf("payment api error: status %d", e.StatusCode)
}

// Capture captures a payment for the given idempotency key. Calling it twice
// with the same key returns the original outcome instead of charging again;
// the processor deduplicates on the Idempotency-Key header.
func (c *Client) Capture(ctx context.Context, idempotencyKey string, amountCents int64) (*CaptureResponse, error) {
	body, err := json.Marshal(captureRequest{AmountCents: amountCents})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capture payload: %w", err)
	}

	url := fmt.Sprintf("%s/v1/captures", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create capture request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capture request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &ErrorResponse{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		return nil, apiErr
	}

	var result CaptureResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode capture response: %w", err)
	}
	return &result, nil
}
