// Package enrich resolves contact emails for matched records through an
// ordered waterfall of paid providers.
package enrich

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/apierror"
)

// Resolution is what a provider returns for one record. It always carries an
// outcome; provider errors are folded into it instead of being returned.
type Resolution struct {
	Email   string
	Name    string
	Title   string
	Outcome model.Outcome
	Detail  string
}

// Provider resolves a contact for one record.
type Provider interface {
	// Name returns the provider identifier used in attempts and waterfall config.
	Name() string
	// Resolve looks up the record. Implementations must honor ctx.
	Resolve(ctx context.Context, r model.Record) Resolution
}

// Provider names, in waterfall order.
const (
	ProviderConnectorAgent = "connector_agent"
	ProviderAnymail        = "anymail"
	ProviderApollo         = "apollo"
)

// order is the fixed priority of the waterfall.
var order = []string{ProviderConnectorAgent, ProviderAnymail, ProviderApollo}

// OutcomeForError maps a provider call error to an outcome code.
func OutcomeForError(err error) (model.Outcome, string) {
	if err == nil {
		return model.OutcomeError, ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.OutcomeError, "timeout"
	}

	switch apierror.Status(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.OutcomeAuthError, "credential rejected"
	case http.StatusPaymentRequired:
		return model.OutcomeCreditsExhausted, "credits exhausted"
	case http.StatusTooManyRequests:
		return model.OutcomeRateLimited, "rate limited"
	case http.StatusNotFound:
		return model.OutcomeNotFound, ""
	}
	return model.OutcomeError, err.Error()
}

// found builds a success resolution after checking the email is usable.
func found(email, name, title string, verified bool) Resolution {
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return Resolution{Outcome: model.OutcomeInvalidResult, Detail: "unusable email " + email}
	}
	out := model.OutcomeResolved
	if verified {
		out = model.OutcomeVerified
	}
	return Resolution{Email: strings.ToLower(email), Name: name, Title: title, Outcome: out}
}

func validEmail(e string) bool {
	at := strings.LastIndex(e, "@")
	if at <= 0 || at == len(e)-1 || strings.ContainsAny(e, " \t\n<>") {
		return false
	}
	return strings.Contains(e[at+1:], ".")
}

// credentialOutcome reports whether an outcome means the provider will reject
// every further call with the same credential.
func credentialOutcome(o model.Outcome) bool {
	return o == model.OutcomeAuthError || o == model.OutcomeCreditsExhausted
}
