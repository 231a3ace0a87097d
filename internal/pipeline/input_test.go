package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.Demand = append(in.Demand, model.Record{}) // nothing usable
	in.Supply = nil                               // only reachable through matches

	demand, supply, schema, drops := Validate(in, t0)
	require.Len(t, demand, 2)
	require.Len(t, supply, 1)
	assert.Equal(t, "TalentCo", supply[0].Company)
	assert.Equal(t, model.SideSupply, supply[0].Side)
	assert.NotEmpty(t, supply[0].Fingerprint)

	require.Len(t, drops, 1)
	assert.Equal(t, DropStageValidate, drops[0].Stage)
	assert.NotEmpty(t, drops[0].DemandFingerprint)

	assert.Equal(t, SchemaVersion, schema.Version)
	assert.Contains(t, schema.DemandFields, "signal")
	assert.Contains(t, schema.SupplyFields, "capability")
	assert.NotContains(t, schema.DemandFields, "capability")
}

func TestValidate_DedupesAndNormalizes(t *testing.T) {
	t.Parallel()

	in := &Input{
		Demand: []model.Record{
			{Company: "Acme", Domain: "acme.com", Email: " Jane@Acme.COM "},
			{Company: "Acme", Domain: "acme.com", Email: "jane@acme.com"},
		},
	}
	demand, _, _, _ := Validate(in, t0)
	require.Len(t, demand, 1)
	assert.Equal(t, "jane@acme.com", demand[0].Email)
}

func TestMatch(t *testing.T) {
	t.Parallel()

	in := testInput()
	ghost := model.Record{Company: "Ghost", Domain: "ghost.io", Signal: "Hiring"}
	in.Matches = append(in.Matches,
		in.Matches[0], // duplicate pair
		model.Match{Demand: ghost, Supply: model.Record{}, Score: 0.99}, // unusable supply
	)
	demand, supply, _, _ := Validate(in, t0)

	matches, edges, res, drops := Match(in, demand, supply, t0)
	require.Len(t, matches, 2)
	assert.Equal(t, "Acme", matches[0].Demand.Company, "ordered by score")
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Strong)
	assert.Equal(t, 1, res.Good)
	assert.Len(t, edges, 2)

	require.Len(t, drops, 1)
	assert.Equal(t, DropStageMatch, drops[0].Stage)
}

func TestLoadInput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"demand": [{"company": "Acme", "signal": "Hiring"}],
		"supply": [{"company": "TalentCo", "email": "sam@talentco.com"}],
		"matches": [{"demand": {"company": "Acme"}, "supply": {"company": "TalentCo"}, "score": 0.8, "tier": "good"}]
	}`), 0o600))

	in, err := LoadInput(path)
	require.NoError(t, err)
	assert.Len(t, in.Matches, 1)
	assert.Equal(t, model.TierGood, in.Matches[0].Tier)

	_, err = LoadInput(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestSummarize_LatestOutcomeWins(t *testing.T) {
	t.Parallel()

	log := []model.SendRecord{
		{Fingerprint: "d1", Side: model.SideDemand, Outcome: model.SendNeedsAttention},
		{Fingerprint: "d2", Side: model.SideDemand, Outcome: model.SendExisting},
		{Fingerprint: "d1", Side: model.SideDemand, Outcome: model.SendNew},
		{Fingerprint: "d1", Side: model.SideSupply, Outcome: model.SendNeedsAttention},
	}
	sum := Summarize(log, 3)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.New)
	assert.Equal(t, 1, sum.Existing)
	assert.Equal(t, 1, sum.NeedsAttention)
	assert.Len(t, sum.Records, 3)
	assert.Equal(t, 2, delivered(log))
}
