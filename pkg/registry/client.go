package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/scholarship-api/pkg/config"
)

// LookupRequest is the registry request contract.
type LookupRequest struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
}

// LookupResponse is the registry response contract.
type LookupResponse struct {
	StudentID string `json:"student_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// LookupResult carries the decoded response together with the raw body so
// callers can persist exactly what the registry said.
type LookupResult struct {
	StatusCode int
	Response   LookupResponse
	Raw        []byte
}

// Client talks to the enrollment registry over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient constructs a registry client whose requests never outlive cfg.Timeout.
func NewClient(cfg config.RegistryConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Lookup asks the registry for the current enrollment status of a student. A
// 404 is only an answer when its body carries a status; a bare 404 means the
// request never reached the registry's student records.
func (c *Client) Lookup(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode registry request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/students/verify", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read registry response: %w", err)
	}
	result := &LookupResult{StatusCode: resp.StatusCode, Raw: raw}

	if resp.StatusCode == http.StatusNotFound {
		if err := json.Unmarshal(raw, &result.Response); err == nil && strings.TrimSpace(result.Response.Status) != "" {
			return result, nil
		}
		result.Response = LookupResponse{}
		return result, fmt.Errorf("registry returned status %d without a student status", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return result, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(raw, &result.Response); err != nil {
		return result, fmt.Errorf("decode registry response: %w", err)
	}
	if strings.TrimSpace(result.Response.Status) == "" {
		return result, fmt.Errorf("registry response missing status")
	}
	return result, nil
}
