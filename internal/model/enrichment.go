package model

import "time"

// Outcome is the terminal result code of an enrichment attempt. Every record
// attempted by enrichment carries exactly one.
type Outcome string

const (
	OutcomeResolved         Outcome = "resolved"
	OutcomeVerified         Outcome = "verified"
	OutcomeAuthError        Outcome = "auth_error"
	OutcomeCreditsExhausted Outcome = "credits_exhausted"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeNoCandidate      Outcome = "no_candidate"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeNoProviders      Outcome = "no_providers"
	OutcomeMissingInput     Outcome = "missing_input"
	OutcomeInvalidResult    Outcome = "invalid_result"
	OutcomeError            Outcome = "error"
)

// AllOutcomes lists the fixed taxonomy in display order.
var AllOutcomes = []Outcome{
	OutcomeVerified,
	OutcomeResolved,
	OutcomeNoCandidate,
	OutcomeNotFound,
	OutcomeMissingInput,
	OutcomeInvalidResult,
	OutcomeAuthError,
	OutcomeCreditsExhausted,
	OutcomeRateLimited,
	OutcomeNoProviders,
	OutcomeError,
}

// Success reports whether the outcome produced a usable email.
func (o Outcome) Success() bool {
	return o == OutcomeResolved || o == OutcomeVerified
}

// Valid reports whether o is part of the taxonomy.
func (o Outcome) Valid() bool {
	for _, v := range AllOutcomes {
		if v == o {
			return true
		}
	}
	return false
}

// Label returns the operator-facing label for the outcome. Each code maps to
// a distinct label; raw codes are only shown in diagnostics.
func (o Outcome) Label() string {
	switch o {
	case OutcomeVerified:
		return "Verified email found"
	case OutcomeResolved:
		return "Email found"
	case OutcomeAuthError:
		return "Provider API key rejected"
	case OutcomeCreditsExhausted:
		return "Provider credits used up"
	case OutcomeRateLimited:
		return "Provider is throttling requests"
	case OutcomeNoCandidate:
		return "No public email exists for this contact"
	case OutcomeNotFound:
		return "Company not found by providers"
	case OutcomeNoProviders:
		return "No enrichment provider configured"
	case OutcomeMissingInput:
		return "Needs a company name or domain"
	case OutcomeInvalidResult:
		return "Provider returned an unusable email"
	case OutcomeError:
		return "Provider call failed"
	default:
		return "Unknown enrichment state"
	}
}

// Attempt records one provider call made while enriching a record.
type Attempt struct {
	Provider   string  `json:"provider"`
	Outcome    Outcome `json:"outcome"`
	DurationMs int64   `json:"duration_ms"`
	Detail     string  `json:"detail,omitempty"`
	Skipped    bool    `json:"skipped,omitempty"`
}

// EnrichmentResult is the resolved contact for one record.
type EnrichmentResult struct {
	Fingerprint string    `json:"fingerprint"`
	Side        Side      `json:"side"`
	Email       *string   `json:"email,omitempty"`
	Name        *string   `json:"name,omitempty"`
	Title       *string   `json:"title,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	Provider    string    `json:"provider,omitempty"`
	Attempts    []Attempt `json:"attempts,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// ResolvedEmail returns the email when the outcome is a success.
func (r EnrichmentResult) ResolvedEmail() string {
	if !r.Outcome.Success() || r.Email == nil {
		return ""
	}
	return *r.Email
}
