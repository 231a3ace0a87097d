// Package anymail provides a client for the Anymail Finder email search API.
package anymail

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

// Client defines the Anymail Finder operations.
type Client interface {
	// FindPerson searches for a named person's email at a domain.
	FindPerson(ctx context.Context, q PersonQuery) (*Result, error)
	// FindCompany searches for a generic mailbox at a domain.
	FindCompany(ctx context.Context, domain string) (*Result, error)
}

// PersonQuery identifies the person to search for.
type PersonQuery struct {
	Domain      string `json:"domain,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	FullName    string `json:"full_name,omitempty"`
}

// Result is a found email. Email is empty when nothing was found.
type Result struct {
	Email      string `json:"email"`
	EmailClass string `json:"email_class"`
	Name       string `json:"name,omitempty"`
	Title      string `json:"title,omitempty"`
}

// Verified reports whether Anymail classified the address as deliverable.
func (r *Result) Verified() bool {
	return r.EmailClass == "verified" || r.EmailClass == "valid"
}

type companyResponse struct {
	Emails []Result `json:"emails"`
}

// Option configures the Anymail client.
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

// NewClient creates a new Anymail Finder client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.anymailfinder.com/v5.0",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) FindPerson(ctx context.Context, q PersonQuery) (*Result, error) {
	var res Result
	if err := c.post(ctx, "/search/person.json", q, &res); err != nil {
		return nil, eris.Wrap(err, "anymail: person search")
	}
	return &res, nil
}

func (c *httpClient) FindCompany(ctx context.Context, domain string) (*Result, error) {
	var res companyResponse
	if err := c.post(ctx, "/search/company.json", map[string]string{"domain": domain}, &res); err != nil {
		return nil, eris.Wrap(err, "anymail: company search")
	}
	for _, e := range res.Emails {
		if e.Email != "" {
			return &e, nil
		}
	}
	return &Result{}, nil
}

func (c *httpClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return apierror.New("anymail", resp, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}
