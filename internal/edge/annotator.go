// Package edge annotates matches with the evidence that makes them actionable now.
package edge

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

var tierConfidence = map[model.Tier]float64{
	model.TierStrong: 0.9,
	model.TierGood:   0.75,
	model.TierOpen:   0.55,
}

var (
	hiringWords     = []string{"hiring", "hire", "recruiting", "open role", "job opening"}
	fundingWords    = []string{"raised", "funding", "series ", "seed round", "grant"}
	successionWords = []string{"succession", "retire", "retiring", "founder transition", "exit"}
	growthWords     = []string{"expanding", "expansion", "launch", "growing", "new office", "opening"}
)

// Annotate derives one edge per demand record from its matches, keeping the
// highest-confidence edge when a demand appears in several matches. Demands
// with no usable signal get no edge.
func Annotate(matches []model.Match) map[string]model.Edge {
	edges := make(map[string]model.Edge)
	for _, m := range matches {
		e, ok := ForMatch(m)
		if !ok {
			continue
		}
		fp := m.Demand.Fingerprint
		if prev, exists := edges[fp]; exists && prev.Confidence >= e.Confidence {
			continue
		}
		edges[fp] = e
	}

	zap.L().Info("edge: annotated matches",
		zap.Int("matches", len(matches)),
		zap.Int("edges", len(edges)),
	)
	return edges
}

// ForMatch builds the edge for a single match.
func ForMatch(m model.Match) (model.Edge, bool) {
	signal := strings.TrimSpace(m.Demand.Signal)
	lower := strings.ToLower(signal)
	base, ok := tierConfidence[m.Tier]
	if !ok {
		base = tierConfidence[model.TierOpen]
	}

	switch {
	case containsAny(lower, hiringWords):
		return model.Edge{Type: model.EdgeHiring, Evidence: hiringEvidence(signal), Confidence: base}, true
	case m.Demand.Funding != nil || containsAny(lower, fundingWords):
		return model.Edge{Type: model.EdgeFunding, Evidence: fundingEvidence(signal, m.Demand.Funding), Confidence: base * 0.95}, true
	case containsAny(lower, successionWords):
		return model.Edge{Type: model.EdgeSuccession, Evidence: "is signaling a leadership transition: " + signal, Confidence: base * 0.9}, true
	case containsAny(lower, growthWords):
		return model.Edge{Type: model.EdgeGrowth, Evidence: verbPhrase(signal), Confidence: base * 0.85}, true
	case signal != "":
		return model.Edge{Type: model.EdgeSignal, Evidence: verbPhrase(signal), Confidence: base * 0.7}, true
	default:
		return model.Edge{}, false
	}
}

func hiringEvidence(signal string) string {
	lower := strings.ToLower(signal)
	for _, prefix := range []string{"is hiring ", "hiring for ", "hiring a ", "hiring an ", "hiring"} {
		if strings.HasPrefix(lower, prefix) {
			rest := strings.TrimLeft(strings.TrimSpace(signal[len(prefix):]), ":- ")
			if rest == "" {
				return "is actively hiring"
			}
			return "is hiring " + rest
		}
	}
	return "is hiring: " + signal
}

func fundingEvidence(signal string, f *model.Funding) string {
	if s := f.String(); s != "" {
		return "recently raised " + s
	}
	return verbPhrase(signal)
}

// verbPhrase turns a signal into prose that reads after a company name.
func verbPhrase(signal string) string {
	words := strings.Fields(signal)
	if len(words) == 0 {
		return ""
	}
	first := strings.ToLower(words[0])
	switch {
	case first == "is" || first == "has" || first == "was":
		return lowerFirst(signal)
	case strings.HasSuffix(first, "ing"):
		return "is " + lowerFirst(signal)
	case strings.HasSuffix(first, "ed"):
		return "recently " + lowerFirst(signal)
	default:
		return "has signaled: " + signal
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
