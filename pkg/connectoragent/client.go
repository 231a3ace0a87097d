// Package connectoragent provides a client for the Connector Agent email
// lookup service. The agent resolves and verifies an address in one call.
package connectoragent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/pkg/apierror"
)

// Status values returned by the agent.
const (
	StatusFound     = "found"
	StatusVerified  = "verified"
	StatusNotFound  = "not_found"
	StatusNoCompany = "no_candidate"
)

// Client defines the Connector Agent operations.
type Client interface {
	// Find resolves an email for a person or company.
	Find(ctx context.Context, req FindRequest) (*FindResponse, error)
}

// FindRequest identifies who to look up. At least Domain or Company is required.
type FindRequest struct {
	Domain    string `json:"domain,omitempty"`
	Company   string `json:"company,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	Title     string `json:"title,omitempty"`
}

// FindResponse is the agent's answer.
type FindResponse struct {
	Status string `json:"status"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Title  string `json:"title"`
}

// Option configures the Connector Agent client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Connector Agent client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.connector-agent.com/v1",
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Find(ctx context.Context, fr FindRequest) (*FindResponse, error) {
	body, err := json.Marshal(fr)
	if err != nil {
		return nil, eris.Wrap(err, "connectoragent: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email/find", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "connectoragent: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "connectoragent: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "connectoragent: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(apierror.New("connectoragent", resp, data), "connectoragent: find")
	}

	var out FindResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "connectoragent: unmarshal response")
	}
	return &out, nil
}
