package compose

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/gemini"
)

// ErrBlocked is returned by a Generator when safety filtering blocked the
// request or its output.
var ErrBlocked = eris.New("compose: generation blocked by safety filter")

// Prompt is one generation request for one side of an item.
type Prompt struct {
	Side   model.Side
	System string
	User   string
}

// Generator produces intro text.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

const demandSystem = `You write short, warm cold-outreach intros on behalf of a connector.
The reader is the company with the need. Reference their situation specifically.
Describe the partner only by what they do. Never name the partner company.
Plain text only, under 90 words, end with a one-line question.`

const supplySystem = `You write short, warm cold-outreach intros on behalf of a connector.
The reader is the service provider. Refer to the prospect as "a company like <name>".
Tie the prospect's situation to the reader's capability.
Plain text only, under 90 words, end with a one-line question.`

// AnthropicGenerator generates through the Messages API. A refusal stop
// reason is reported as ErrBlocked.
type AnthropicGenerator struct {
	Client    anthropic.Client
	Model     string
	MaxTokens int64
}

func (g *AnthropicGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	resp, err := g.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.Model,
		MaxTokens: g.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(p.System, "5m"),
		Messages:  []anthropic.Message{{Role: "user", Content: p.User}},
	})
	if err != nil {
		return "", eris.Wrap(err, "compose: anthropic generate")
	}
	resp.Usage.LogCost(g.Model, string(p.Side))
	if resp.Refused() {
		return "", ErrBlocked
	}
	return resp.Text(), nil
}

// GeminiGenerator generates through the Gemini API.
type GeminiGenerator struct {
	Client gemini.Client
}

func (g *GeminiGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	resp, err := g.Client.Generate(ctx, p.System, p.User)
	if err != nil {
		return "", eris.Wrap(err, "compose: gemini generate")
	}
	if resp.Blocked {
		return "", eris.Wrapf(ErrBlocked, "gemini: %s", resp.BlockReason)
	}
	return resp.Text, nil
}

// SafetyFallback sends a request to Fallback only when Primary reports
// ErrBlocked. Other failures are returned as is.
type SafetyFallback struct {
	Primary  Generator
	Fallback Generator
}

func (g *SafetyFallback) Generate(ctx context.Context, p Prompt) (string, error) {
	text, err := g.Primary.Generate(ctx, p)
	if err == nil || g.Fallback == nil || !errors.Is(err, ErrBlocked) {
		return text, err
	}
	zap.L().Info("compose: primary generator blocked, using fallback credential", zap.String("side", string(p.Side)))
	return g.Fallback.Generate(ctx, p)
}

var (
	strict     = bluemonday.StrictPolicy()
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Sanitize strips markup from model output and normalizes blank lines.
func Sanitize(s string) string {
	s = html.UnescapeString(strict.Sanitize(s))
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

// flat is the single-line form a source field takes inside a prompt.
func flat(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(strict.Sanitize(s))), " ")
}

// field is one piece of source context. Required fields must survive into
// the rendered prompt.
type field struct {
	label    string
	value    string
	required bool
}

// contextFields lists the full situational context for an item: both sides'
// signals, descriptions, funding and metadata, plus the edge evidence.
func contextFields(it Item) []field {
	d, s := it.Demand, it.Supply
	fs := []field{
		{"Prospect company", d.DisplayName(), true},
		{"Prospect domain", d.Domain, false},
		{"Prospect industry", d.Industry, false},
		{"Prospect signal", d.Signal, true},
		{"Prospect description", d.Description, true},
		{"Prospect funding", d.Funding.String(), true},
		{"Prospect contact", strings.TrimSpace(it.DemandContact.Name + " " + titleSuffix(it.DemandContact.Title)), false},
		{"Why now", it.Edge.Evidence, true},
		{"Edge type", string(it.Edge.Type), false},
		{"Provider company", s.DisplayName(), true},
		{"Provider capability", s.Capability, true},
		{"Provider industry", s.Industry, false},
		{"Provider description", s.Description, true},
		{"Provider funding", s.Funding.String(), false},
		{"Provider contact", strings.TrimSpace(it.SupplyContact.Name + " " + titleSuffix(it.SupplyContact.Title)), false},
		{"Match tier", strings.TrimSpace(string(it.Match.Tier) + " " + it.Match.TierReason), false},
	}
	if p := it.Match.DemandProfile; p != nil {
		fs = append(fs, field{"Prospect category", p.Category, false}, field{"Prospect need", p.Need, true})
	}
	if p := it.Match.SupplyProfile; p != nil && !it.Substituted {
		fs = append(fs, field{"Provider category", p.Category, false}, field{"Provider profile capability", p.Capability, true})
	}
	return fs
}

func titleSuffix(t string) string {
	if t == "" {
		return ""
	}
	return "(" + t + ")"
}

// BuildPrompt renders the prompt for one side of an item.
func BuildPrompt(it Item, side model.Side) Prompt {
	var b strings.Builder
	for _, f := range contextFields(it) {
		if v := flat(f.value); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.label, v)
		}
	}
	p := Prompt{Side: side, User: b.String()}
	if side == model.SideDemand {
		p.System = demandSystem
		p.User += "\nWrite the intro to the prospect."
	} else {
		p.System = supplySystem
		p.User += "\nWrite the intro to the provider."
	}
	return p
}

// checkContext reports the first required source field that is missing from
// the prompt that was actually sent.
func checkContext(it Item, p Prompt) error {
	for _, f := range contextFields(it) {
		if !f.required {
			continue
		}
		v := flat(f.value)
		if v == "" {
			continue
		}
		if !strings.Contains(p.User, v) {
			return eris.Errorf("context regression: %s missing from %s prompt", strings.ToLower(f.label), p.Side)
		}
	}
	return nil
}

// namesCounterparty reports whether demand-side text leaks the provider name.
func namesCounterparty(text string, supply model.Record) bool {
	name := strings.ToLower(strings.TrimSpace(supply.Company))
	if len(name) < 3 {
		return false
	}
	return strings.Contains(strings.ToLower(text), name)
}
