/**
 * @description
 * This package provides a client for the browser-automation submission
 * collaborator: the external service that actually fills and submits a
 * provider's registration form for an accepted request. It encapsulates the
 * authenticated HTTP call and maps the provider's response onto the three
 * outcomes the core understands: confirmed, verification_required, failed.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/google/uuid: request identifiers.
 */
package submitclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Outcome is the submission collaborator's verdict for one attempt.
type Outcome string

const (
	OutcomeConfirmed            Outcome = "confirmed"
	OutcomeVerificationRequired Outcome = "verification_required"
	OutcomeFailed               Outcome = "failed"
)

// Result is the parsed submission response. Context is only populated for
// verification_required (the provider/challenge label); Reason only for failed.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Context string  `json:"context,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Submitter is the interface consumed by the core; satisfied by *Client and
// by test stubs.
type Submitter interface {
	Submit(ctx context.Context, requestID, sessionID, dependentID uuid.UUID) (*Result, error)
}

// Client is an HTTP client for the submission collaborator.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new submission client. The timeout is a hard upper
// bound: a submission call that exceeds it is treated as failed, never left
// ambiguous.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type submitRequest struct {
	RequestID   string `json:"request_id"`
	SessionID   string `json:"session_id"`
	DependentID string `json:"dependent_id"`
}

// ErrorResponse represents an error payload from the submission collaborator.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("submission api error: %s", e.Message)
	}
	return fmt.Sprintf("submission api error: status %d", e.StatusCode)
}

// Submit asks the collaborator to run the registration form flow for one
// accepted request.
func (c *Client) Submit(ctx context.Context, requestID, sessionID, dependentID uuid.UUID) (*Result, error) {
	payload := submitRequest{
		RequestID:   requestID.String(),
		SessionID:   sessionID.String(),
		DependentID: dependentID.String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submission payload: %w", err)
	}

	url := fmt.Sprintf("%s/v1/submissions", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read submission response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &ErrorResponse{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		return nil, apiErr
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode submission response: %w", err)
	}
	switch result.Outcome {
	case OutcomeConfirmed, OutcomeVerificationRequired, OutcomeFailed:
	default:
		return nil, fmt.Errorf("submission returned unknown outcome %q", result.Outcome)
	}
	return &result, nil
}
