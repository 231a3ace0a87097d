package pipeline

import (
	"cmp"
	"encoding/json"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/edge"
	"github.com/sells-group/outreach-cli/internal/fingerprint"
	"github.com/sells-group/outreach-cli/internal/model"
)

// SchemaVersion is stamped on every validated run.
const SchemaVersion = 1

// Drop stages recorded before composition.
const (
	DropStageValidate = "validate"
	DropStageMatch    = "match"
)

// Input is an upload: normalized records and the scored pairs produced by
// the upstream matcher. Records referenced only from matches are collected
// into the demand and supply sets during validation.
type Input struct {
	Demand  []model.Record `json:"demand"`
	Supply  []model.Record `json:"supply"`
	Matches []model.Match  `json:"matches"`
}

// LoadInput reads an Input from a JSON file.
func LoadInput(path string) (*Input, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read input %s", path)
	}
	var in Input
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse input %s", path)
	}
	return &in, nil
}

type recordField struct {
	name string
	get  func(model.Record) string
}

var recordFields = []recordField{
	{"company", func(r model.Record) string { return r.Company }},
	{"domain", func(r model.Record) string { return r.Domain }},
	{"name", func(r model.Record) string { return r.ContactName() }},
	{"email", func(r model.Record) string { return r.Email }},
	{"title", func(r model.Record) string { return r.Title }},
	{"industry", func(r model.Record) string { return r.Industry }},
	{"signal", func(r model.Record) string { return r.Signal }},
	{"description", func(r model.Record) string { return r.Description }},
	{"capability", func(r model.Record) string { return r.Capability }},
	{"funding", func(r model.Record) string { return r.Funding.String() }},
}

// identityless reports whether r carries nothing that could identify or
// describe it.
func identityless(r model.Record) bool {
	for _, f := range recordFields {
		if strings.TrimSpace(f.get(r)) != "" {
			return false
		}
	}
	return len(r.Raw) == 0
}

func normalize(r model.Record, side model.Side) model.Record {
	r.Side = side
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Company = strings.TrimSpace(r.Company)
	r.Domain = strings.TrimSpace(r.Domain)
	if r.Fingerprint == "" {
		r.Fingerprint = fingerprint.Compute(r)
	}
	return r
}

// Validate normalizes and fingerprints both record sets, including records
// that only appear inside matches, and records the schema. Records with no
// content at all are dropped.
func Validate(in *Input, now time.Time) (demand, supply []model.Record, schema *model.Schema, drops []model.Drop) {
	collect := func(side model.Side, listed []model.Record, fromMatch func(model.Match) model.Record) ([]model.Record, []string) {
		seen := make(map[string]bool)
		present := make(map[string]bool)
		var out []model.Record
		add := func(r model.Record) {
			r = normalize(r, side)
			if identityless(r) {
				d := model.Drop{Stage: DropStageValidate, Reason: "record has no identifying or descriptive fields"}
				if side == model.SideSupply {
					d.SupplyFingerprint = r.Fingerprint
				} else {
					d.DemandFingerprint = r.Fingerprint
				}
				drops = append(drops, d)
				return
			}
			if seen[r.Fingerprint] {
				return
			}
			seen[r.Fingerprint] = true
			for _, f := range recordFields {
				if strings.TrimSpace(f.get(r)) != "" {
					present[f.name] = true
				}
			}
			out = append(out, r)
		}
		for _, r := range listed {
			add(r)
		}
		for _, m := range in.Matches {
			if r := fromMatch(m); !identityless(r) {
				add(r)
			}
		}
		var fields []string
		for _, f := range recordFields {
			if present[f.name] {
				fields = append(fields, f.name)
			}
		}
		return out, fields
	}

	demand, df := collect(model.SideDemand, in.Demand, func(m model.Match) model.Record { return m.Demand })
	supply, sf := collect(model.SideSupply, in.Supply, func(m model.Match) model.Record { return m.Supply })
	schema = &model.Schema{
		Version:      SchemaVersion,
		DemandFields: df,
		SupplyFields: sf,
		ValidatedAt:  now.UTC(),
	}
	return demand, supply, schema, drops
}

// Match resolves each input match against the validated records, drops
// pairs that reference unusable records, dedupes pairs, orders them by score
// and annotates edges.
func Match(in *Input, demand, supply []model.Record, now time.Time) ([]model.Match, map[string]model.Edge, *model.MatchResult, []model.Drop) {
	byFP := func(rs []model.Record) map[string]model.Record {
		m := make(map[string]model.Record, len(rs))
		for _, r := range rs {
			m[r.Fingerprint] = r
		}
		return m
	}
	demandByFP, supplyByFP := byFP(demand), byFP(supply)

	var (
		matches []model.Match
		drops   []model.Drop
	)
	seen := make(map[string]bool)
	for _, m := range in.Matches {
		d := normalize(m.Demand, model.SideDemand)
		s := normalize(m.Supply, model.SideSupply)
		dr, dok := demandByFP[d.Fingerprint]
		sr, sok := supplyByFP[s.Fingerprint]
		if !dok || !sok || identityless(m.Demand) || identityless(m.Supply) {
			drops = append(drops, model.Drop{
				DemandFingerprint: d.Fingerprint,
				SupplyFingerprint: s.Fingerprint,
				Stage:             DropStageMatch,
				Reason:            "match references a record that failed validation",
			})
			continue
		}
		m.Demand, m.Supply = dr, sr
		if seen[m.Key()] {
			continue
		}
		seen[m.Key()] = true
		if m.Tier == "" {
			m.Tier = model.TierOpen
		}
		matches = append(matches, m)
	}

	slices.SortStableFunc(matches, func(a, b model.Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Key(), b.Key())
	})

	res := &model.MatchResult{Total: len(matches), MatchedAt: now.UTC()}
	for _, m := range matches {
		switch m.Tier {
		case model.TierStrong:
			res.Strong++
		case model.TierGood:
			res.Good++
		default:
			res.Open++
		}
	}
	return matches, edge.Annotate(matches), res, drops
}
