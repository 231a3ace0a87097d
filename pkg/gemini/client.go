// Package gemini wraps the Google GenAI SDK for the fallback intro generator.
package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Response is the text produced for one prompt. Blocked is set when safety
// filtering suppressed the prompt or the candidate.
type Response struct {
	Text        string
	Blocked     bool
	BlockReason string
}

// Client generates text from a system instruction and a user prompt.
type Client interface {
	Generate(ctx context.Context, system, prompt string) (*Response, error)
}

// Config configures a Client.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int32
}

type sdkClient struct {
	models *genai.Models
	model  string
	max    int32
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, eris.New("gemini: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		cc.HTTPOptions.BaseURL = u
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: new client")
	}
	return &sdkClient{models: client.Models, model: model, max: cfg.MaxTokens}, nil
}

func (c *sdkClient) Generate(ctx context.Context, system, prompt string) (*Response, error) {
	gc := &genai.GenerateContentConfig{CandidateCount: 1}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if c.max > 0 {
		gc.MaxOutputTokens = c.max
	}

	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), gc)
	if err != nil {
		return nil, classify(err)
	}
	return fromSDK(resp), nil
}

func fromSDK(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if resp == nil {
		return out
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		out.Blocked = true
		out.BlockReason = string(fb.BlockReason)
		return out
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		switch fr := resp.Candidates[0].FinishReason; fr {
		case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent:
			out.Blocked = true
			out.BlockReason = string(fr)
			return out
		}
	}
	out.Text = strings.TrimSpace(resp.Text())
	return out
}

// classify marks 429 and 5xx responses so callers can count them as transient.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 {
			return &resilience.RateLimitError{Err: eris.Wrap(err, "gemini: generate")}
		}
		if resilience.IsTransientHTTPStatus(apiErr.Code) {
			return &resilience.TransientError{Err: eris.Wrap(err, "gemini: generate"), StatusCode: apiErr.Code}
		}
	}
	return eris.Wrap(err, "gemini: generate")
}
