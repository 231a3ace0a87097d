package compose

import (
	"strings"

	"github.com/sells-group/outreach-cli/internal/model"
)

// DemandIntro renders the deterministic demand-side message. It describes
// the demand's situation and the kind of partner available, never the
// partner's name.
func DemandIntro(it Item) string {
	var b strings.Builder
	b.WriteString("Hi " + greetingName(it.DemandContact, it.Demand) + ",\n\n")
	b.WriteString("Noticed " + it.Demand.DisplayName() + " " + evidence(it.Edge) + ". ")
	if c := capability(it); c != "" {
		b.WriteString("I know a team that specializes in " + c + " and works with companies at exactly this point.")
	} else {
		b.WriteString("I know a team that works with companies at exactly this point.")
	}
	b.WriteString("\n\nOpen to an intro?")
	return b.String()
}

// SupplyIntro renders the deterministic supply-side message.
func SupplyIntro(it Item) string {
	var b strings.Builder
	b.WriteString("Hi " + greetingName(it.SupplyContact, it.Supply) + ",\n\n")
	b.WriteString("I'm in touch with a company like " + it.Demand.DisplayName() + " that " + evidence(it.Edge) + ". ")
	if c := capability(it); c != "" {
		b.WriteString("Given " + it.Supply.DisplayName() + "'s focus on " + c + ", it looks like " + fit(it.Match.Tier) + ".")
	} else {
		b.WriteString("It looks like " + fit(it.Match.Tier) + " for " + it.Supply.DisplayName() + ".")
	}
	b.WriteString("\n\nWant me to make the connection?")
	return b.String()
}

func greetingName(c Contact, r model.Record) string {
	if f := strings.Fields(c.Name); len(f) > 0 {
		return f[0]
	}
	if n := r.FirstNameOrDerived(); n != "" {
		return n
	}
	return "there"
}

func evidence(e model.Edge) string {
	return strings.TrimRight(strings.TrimSpace(e.Evidence), ".")
}

func capability(it Item) string {
	profile := it.Match.SupplyProfile
	if it.Substituted {
		profile = nil
	}
	for _, s := range []string{it.Supply.Capability, profileCapability(profile), it.Supply.Industry} {
		if s = strings.TrimSpace(s); s != "" {
			return strings.ToLower(s)
		}
	}
	return ""
}

func profileCapability(p *model.Profile) string {
	if p == nil {
		return ""
	}
	return p.Capability
}

func fit(t model.Tier) string {
	switch t {
	case model.TierStrong:
		return "a strong fit"
	case model.TierGood:
		return "a good fit"
	default:
		return "worth a look"
	}
}
