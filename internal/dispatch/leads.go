package dispatch

import (
	"cmp"
	"slices"
	"strings"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/model"
)

// LeadsFromSnapshot builds one lead per composed intro whose record has a
// resolved email. Demand leads come first, each side ordered by fingerprint.
func LeadsFromSnapshot(snap *model.Snapshot) []Lead {
	var leads []Lead
	leads = append(leads, sideLeads(model.SideDemand, snap.Demand, snap.DemandIntros, snap.Enrichment)...)
	leads = append(leads, sideLeads(model.SideSupply, snap.Supply, snap.SupplyIntros, snap.Enrichment)...)
	return leads
}

func sideLeads(side model.Side, records []model.Record, intros map[string]model.IntroEntry, enrichment map[string]model.EnrichmentResult) []Lead {
	byFP := make(map[string]model.Record, len(records))
	for _, r := range records {
		byFP[r.Fingerprint] = r
	}

	var out []Lead
	for fp, intro := range intros {
		r, ok := byFP[fp]
		if !ok || strings.TrimSpace(intro.Text) == "" {
			continue
		}
		c := compose.ResolveContact(r, enrichment)
		if c.Email == "" {
			continue
		}
		first, last := splitName(c.Name, r)
		out = append(out, Lead{
			Fingerprint: fp,
			Side:        side,
			Email:       c.Email,
			FirstName:   first,
			LastName:    last,
			Company:     r.DisplayName(),
			Intro:       intro.Text,
		})
	}
	slices.SortFunc(out, func(a, b Lead) int { return cmp.Compare(a.Fingerprint, b.Fingerprint) })
	return out
}

func splitName(name string, r model.Record) (string, string) {
	if r.FirstName != "" || r.LastName != "" {
		return strings.TrimSpace(r.FirstName), strings.TrimSpace(r.LastName)
	}
	f := strings.Fields(name)
	switch len(f) {
	case 0:
		return "", ""
	case 1:
		return f[0], ""
	default:
		return f[0], strings.Join(f[1:], " ")
	}
}
