package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/quill/internal/errors"
	"github.com/hpungsan/quill/internal/note"
	"github.com/hpungsan/quill/internal/server"
)

// Client talks to the processing service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the service URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ProcessResult is a successful reply from POST /api/process-text.
type ProcessResult struct {
	Note    *note.Note
	Message string
	Warning string
}

type processReply struct {
	Success bool       `json:"success"`
	Note    *note.Note `json:"note"`
	Message string     `json:"message"`
	Warning string     `json:"warning"`
	Error   string     `json:"error"`
}

// Process sends req to the service. Transport failures, non-2xx replies and
// success:false replies are all errors.
func (c *Client) Process(ctx context.Context, req note.ProcessingRequest) (*ProcessResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/process-text", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var reply processReply
	decodeErr := json.NewDecoder(resp.Body).Decode(&reply)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && reply.Error != "" {
			return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, reply.Error)
		}
		return nil, fmt.Errorf("server error %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if !reply.Success || reply.Note == nil {
		msg := reply.Error
		if msg == "" {
			msg = "processing failed"
		}
		return nil, fmt.Errorf("server: %s", msg)
	}

	return &ProcessResult{Note: reply.Note, Message: reply.Message, Warning: reply.Warning}, nil
}

// Health fetches the service status.
func (c *Client) Health(ctx context.Context) (*server.Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewUnreachable("processing service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewUnreachable("processing service", fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}
	var h server.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &h, nil
}
