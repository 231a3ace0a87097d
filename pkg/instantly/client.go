// Package instantly provides a client for the Instantly v2 leads API.
package instantly

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

// Client defines the Instantly operations used for dispatch.
type Client interface {
	// AddLeads uploads leads into a campaign.
	AddLeads(ctx context.Context, req AddLeadsRequest) (*AddLeadsResponse, error)
}

// Lead is one lead to upload.
type Lead struct {
	Email           string            `json:"email"`
	FirstName       string            `json:"first_name,omitempty"`
	LastName        string            `json:"last_name,omitempty"`
	CompanyName     string            `json:"company_name,omitempty"`
	Personalization string            `json:"personalization,omitempty"`
	CustomVariables map[string]string `json:"custom_variables,omitempty"`
}

// AddLeadsRequest is the body of POST /leads/add.
type AddLeadsRequest struct {
	CampaignID       string `json:"campaign_id"`
	SkipIfInCampaign bool   `json:"skip_if_in_campaign"`
	Leads            []Lead `json:"leads"`
}

// AddLeadsResponse reports what happened to the uploaded leads.
type AddLeadsResponse struct {
	Status            string `json:"status"`
	TotalSent         int    `json:"total_sent"`
	LeadsUploaded     int    `json:"leads_uploaded"`
	DuplicatedLeads   int    `json:"duplicated_leads"`
	SkippedCount      int    `json:"skipped_count"`
	InvalidEmailCount int    `json:"invalid_email_count"`
}

// Option configures the Instantly client.
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

// NewClient creates a new Instantly client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.instantly.ai/api/v2",
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
		return nil, eris.Wrap(err, "instantly: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/leads/add", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "instantly: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "instantly: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "instantly: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, eris.Wrap(apierror.New("instantly", resp, data), "instantly: add leads")
	}

	var out AddLeadsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "instantly: unmarshal response")
	}
	return &out, nil
}
