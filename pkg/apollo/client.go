// Package apollo provides a client for the Apollo people match API.
package apollo

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

// Client defines the Apollo operations.
type Client interface {
	// MatchPerson looks up a person record. A nil Person means no match.
	MatchPerson(ctx context.Context, req MatchRequest) (*MatchResponse, error)
}

// MatchRequest is the people/match payload.
type MatchRequest struct {
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	Name             string `json:"name,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
	Domain           string `json:"domain,omitempty"`
	Email            string `json:"email,omitempty"`
}

// MatchResponse wraps the matched person.
type MatchResponse struct {
	Person *Person `json:"person"`
}

// Person is the subset of an Apollo person the pipeline uses.
type Person struct {
	Name        string `json:"name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Title       string `json:"title"`
	Email       string `json:"email"`
	EmailStatus string `json:"email_status"`
}

// Verified reports whether Apollo marked the email as verified.
func (p *Person) Verified() bool {
	return p.EmailStatus == "verified"
}

// Option configures the Apollo client.
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

// NewClient creates a new Apollo client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.apollo.io/api/v1",
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) MatchPerson(ctx context.Context, mr MatchRequest) (*MatchResponse, error) {
	body, err := json.Marshal(mr)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/people/match", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "apollo: create request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(apierror.New("apollo", resp, data), "apollo: match")
	}

	var out MatchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "apollo: unmarshal response")
	}
	return &out, nil
}
