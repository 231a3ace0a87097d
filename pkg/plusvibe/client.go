// Package plusvibe provides a client for the Plusvibe lead upload API.
package plusvibe

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

// Client defines the Plusvibe operations used for dispatch.
type Client interface {
	AddLeads(ctx context.Context, req AddLeadsRequest) (*AddLeadsResponse, error)
}

// Lead is one lead to upload. Custom fields are flattened into the lead.
type Lead struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	Intro       string `json:"custom_intro,omitempty"`
}

// AddLeadsRequest is the body of POST /lead/add.
type AddLeadsRequest struct {
	WorkspaceID       string `json:"workspace_id"`
	CampaignID        string `json:"campaign_id"`
	SkipIfInWorkspace bool   `json:"skip_if_in_workspace"`
	Leads             []Lead `json:"leads"`
}

// AddLeadsResponse reports what happened to the uploaded leads.
type AddLeadsResponse struct {
	Status        string `json:"status"`
	TotalSent     int    `json:"total_sent"`
	LeadsUploaded int    `json:"leads_uploaded"`
	AlreadyExists int    `json:"already_exists"`
	InvalidEmails int    `json:"invalid_emails"`
}

// Option configures the Plusvibe client.
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

// NewClient creates a new Plusvibe client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.plusvibe.ai/api/v1",
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) AddLeads(ctx context.Context, in AddLeadsRequest) (*AddLeadsResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "plusvibe: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/lead/add", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "plusvibe: create request")
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "plusvibe: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "plusvibe: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, eris.Wrap(apierror.New("plusvibe", resp, data), "plusvibe: add leads")
	}

	var out AddLeadsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "plusvibe: unmarshal response")
	}
	return &out, nil
}
