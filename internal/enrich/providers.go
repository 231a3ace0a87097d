package enrich

import (
	"context"
	"strings"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/anymail"
	"github.com/sells-group/outreach-cli/pkg/apollo"
	"github.com/sells-group/outreach-cli/pkg/connectoragent"
)

// ConnectorAgent resolves and verifies in one call.
type ConnectorAgent struct {
	Client connectoragent.Client
}

// Name implements Provider.
func (p *ConnectorAgent) Name() string { return ProviderConnectorAgent }

// Resolve implements Provider.
func (p *ConnectorAgent) Resolve(ctx context.Context, r model.Record) Resolution {
	resp, err := p.Client.Find(ctx, connectoragent.FindRequest{
		Domain:    r.Domain,
		Company:   r.Company,
		FirstName: r.FirstNameOrDerived(),
		LastName:  r.LastName,
		FullName:  r.ContactName(),
		Title:     r.Title,
	})
	if err != nil {
		o, d := OutcomeForError(err)
		return Resolution{Outcome: o, Detail: d}
	}

	switch resp.Status {
	case connectoragent.StatusVerified, connectoragent.StatusFound:
		return found(resp.Email, resp.Name, resp.Title, resp.Status == connectoragent.StatusVerified)
	case connectoragent.StatusNoCompany:
		return Resolution{Outcome: model.OutcomeNoCandidate}
	case connectoragent.StatusNotFound, "":
		return Resolution{Outcome: model.OutcomeNotFound}
	default:
		return Resolution{Outcome: model.OutcomeInvalidResult, Detail: "unknown status " + resp.Status}
	}
}

// Anymail searches for the named contact, or for a generic company mailbox
// when the record has no contact name.
type Anymail struct {
	Client anymail.Client
}

// Name implements Provider.
func (p *Anymail) Name() string { return ProviderAnymail }

// Resolve implements Provider.
func (p *Anymail) Resolve(ctx context.Context, r model.Record) Resolution {
	var (
		res *anymail.Result
		err error
	)
	if r.ContactName() != "" {
		res, err = p.Client.FindPerson(ctx, anymail.PersonQuery{
			Domain:      r.Domain,
			CompanyName: r.Company,
			FirstName:   r.FirstNameOrDerived(),
			LastName:    r.LastName,
			FullName:    r.ContactName(),
		})
	} else {
		if r.Domain == "" {
			return Resolution{Outcome: model.OutcomeMissingInput, Detail: "company search needs a domain"}
		}
		res, err = p.Client.FindCompany(ctx, r.Domain)
	}
	if err != nil {
		o, d := OutcomeForError(err)
		return Resolution{Outcome: o, Detail: d}
	}
	if res.Email == "" {
		return Resolution{Outcome: model.OutcomeNoCandidate}
	}
	name := res.Name
	if name == "" {
		name = r.ContactName()
	}
	return found(res.Email, name, res.Title, res.Verified())
}

// Apollo looks the contact up in Apollo's people database.
type Apollo struct {
	Client apollo.Client
}

// Name implements Provider.
func (p *Apollo) Name() string { return ProviderApollo }

// Resolve implements Provider.
func (p *Apollo) Resolve(ctx context.Context, r model.Record) Resolution {
	resp, err := p.Client.MatchPerson(ctx, apollo.MatchRequest{
		FirstName:        r.FirstNameOrDerived(),
		LastName:         r.LastName,
		Name:             r.ContactName(),
		OrganizationName: r.Company,
		Domain:           r.Domain,
	})
	if err != nil {
		o, d := OutcomeForError(err)
		return Resolution{Outcome: o, Detail: d}
	}
	if resp.Person == nil {
		return Resolution{Outcome: model.OutcomeNotFound}
	}
	if strings.TrimSpace(resp.Person.Email) == "" {
		return Resolution{Outcome: model.OutcomeNoCandidate, Detail: "person matched without email"}
	}
	return found(resp.Person.Email, resp.Person.Name, resp.Person.Title, resp.Person.Verified())
}

// BuildProviders returns the credentialed providers in waterfall order.
func BuildProviders(cfg config.EnrichConfig) []Provider {
	var out []Provider
	if cfg.ConnectorAgent.Key != "" {
		var opts []connectoragent.Option
		if cfg.ConnectorAgent.BaseURL != "" {
			opts = append(opts, connectoragent.WithBaseURL(cfg.ConnectorAgent.BaseURL))
		}
		out = append(out, &ConnectorAgent{Client: connectoragent.NewClient(cfg.ConnectorAgent.Key, opts...)})
	}
	if cfg.Anymail.Key != "" {
		var opts []anymail.Option
		if cfg.Anymail.BaseURL != "" {
			opts = append(opts, anymail.WithBaseURL(cfg.Anymail.BaseURL))
		}
		out = append(out, &Anymail{Client: anymail.NewClient(cfg.Anymail.Key, opts...)})
	}
	if cfg.Apollo.Key != "" {
		var opts []apollo.Option
		if cfg.Apollo.BaseURL != "" {
			opts = append(opts, apollo.WithBaseURL(cfg.Apollo.BaseURL))
		}
		out = append(out, &Apollo{Client: apollo.NewClient(cfg.Apollo.Key, opts...)})
	}
	return out
}
