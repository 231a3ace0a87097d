// Package compose gates matches and writes the outreach intro for each side,
// either from a deterministic template or through a generative model.
package compose

import (
	"cmp"
	"slices"
	"strings"

	"github.com/sells-group/outreach-cli/internal/model"
)

// DropStage tags drops recorded by composition.
const DropStage = "compose"

// Drop reasons, in gate order.
const (
	ReasonNoEdge        = "no edge evidence for demand"
	ReasonDemandNoEmail = "demand has no resolved email"
	ReasonSupplyNoEmail = "supply has no resolved email and no substitute is available"
)

// Contact is the resolved recipient for one record.
type Contact struct {
	Email string
	Name  string
	Title string
}

// ResolveContact returns the contact for r: the record's own email when it
// has one, otherwise the enrichment result for its fingerprint.
func ResolveContact(r model.Record, enrichment map[string]model.EnrichmentResult) Contact {
	if r.HasEmail() {
		return Contact{Email: strings.ToLower(strings.TrimSpace(r.Email)), Name: r.ContactName(), Title: r.Title}
	}
	res, ok := enrichment[r.Fingerprint]
	if !ok || res.ResolvedEmail() == "" {
		return Contact{}
	}
	c := Contact{Email: res.ResolvedEmail(), Name: r.ContactName(), Title: r.Title}
	if res.Name != nil && *res.Name != "" {
		c.Name = *res.Name
	}
	if res.Title != nil && *res.Title != "" {
		c.Title = *res.Title
	}
	return c
}

// Item is a match that passed all three gates. Supply may differ from
// Match.Supply when a substitute was used.
type Item struct {
	Match         model.Match
	Edge          model.Edge
	Demand        model.Record
	Supply        model.Record
	DemandContact Contact
	SupplyContact Contact
	Substituted   bool
}

// Input is the state composition reads. It is never mutated.
type Input struct {
	Matches    []model.Match
	Edges      map[string]model.Edge
	Enrichment map[string]model.EnrichmentResult
}

// Gate applies the three ordered gates to every match. Every match ends up in
// exactly one of the two returned slices. Items are ordered by score,
// highest first, so the best pairing claims a fingerprint on apply.
func Gate(in Input) ([]Item, []model.Drop) {
	subs := substitutes(in)

	var (
		items []Item
		drops []model.Drop
	)
	for _, m := range in.Matches {
		drop := func(reason string) {
			drops = append(drops, model.Drop{
				DemandFingerprint: m.Demand.Fingerprint,
				SupplyFingerprint: m.Supply.Fingerprint,
				Stage:             DropStage,
				Reason:            reason,
			})
		}

		e, ok := in.Edges[m.Demand.Fingerprint]
		if !ok || strings.TrimSpace(e.Evidence) == "" {
			drop(ReasonNoEdge)
			continue
		}

		dc := ResolveContact(m.Demand, in.Enrichment)
		if dc.Email == "" {
			drop(ReasonDemandNoEmail)
			continue
		}

		it := Item{Match: m, Edge: e, Demand: m.Demand, Supply: m.Supply, DemandContact: dc}
		it.SupplyContact = ResolveContact(m.Supply, in.Enrichment)
		if it.SupplyContact.Email == "" {
			sub, ok := pickSubstitute(subs, m.Supply.Fingerprint)
			if !ok {
				drop(ReasonSupplyNoEmail)
				continue
			}
			it.Supply = sub.record
			it.SupplyContact = sub.contact
			it.Substituted = true
		}
		items = append(items, it)
	}

	slices.SortStableFunc(items, func(a, b Item) int {
		return cmp.Compare(b.Match.Score, a.Match.Score)
	})
	return items, drops
}

type substitute struct {
	record  model.Record
	contact Contact
	score   float64
}

// substitutes lists every supply in the run that has a resolved email, best
// match score first, fingerprint as the tie-break.
func substitutes(in Input) []substitute {
	best := make(map[string]substitute)
	for _, m := range in.Matches {
		fp := m.Supply.Fingerprint
		if s, ok := best[fp]; ok {
			if m.Score > s.score {
				s.score = m.Score
				best[fp] = s
			}
			continue
		}
		c := ResolveContact(m.Supply, in.Enrichment)
		if c.Email == "" {
			continue
		}
		best[fp] = substitute{record: m.Supply, contact: c, score: m.Score}
	}

	out := make([]substitute, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b substitute) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.record.Fingerprint, b.record.Fingerprint)
	})
	return out
}

func pickSubstitute(subs []substitute, exclude string) (substitute, bool) {
	for _, s := range subs {
		if s.record.Fingerprint != exclude {
			return s, true
		}
	}
	return substitute{}, false
}
