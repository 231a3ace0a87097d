package model

// Tier is the confidence band assigned by the matching engine.
type Tier string

const (
	TierStrong Tier = "strong"
	TierGood   Tier = "good"
	TierOpen   Tier = "open"
)

// Profile is an optional classification of one side of a match.
type Profile struct {
	Category   string `json:"category,omitempty"`
	Need       string `json:"need,omitempty"`
	Capability string `json:"capability,omitempty"`
}

// Match is a scored demand×supply pairing produced upstream.
type Match struct {
	Demand        Record   `json:"demand"`
	Supply        Record   `json:"supply"`
	Score         float64  `json:"score"`
	Tier          Tier     `json:"tier"`
	TierReason    string   `json:"tier_reason,omitempty"`
	DemandProfile *Profile `json:"demand_profile,omitempty"`
	SupplyProfile *Profile `json:"supply_profile,omitempty"`
}

// Key identifies the pairing by the fingerprints of both sides.
func (m Match) Key() string {
	return m.Demand.Fingerprint + "|" + m.Supply.Fingerprint
}

// EdgeType classifies the evidence behind an edge.
type EdgeType string

const (
	EdgeHiring     EdgeType = "hiring"
	EdgeFunding    EdgeType = "funding"
	EdgeGrowth     EdgeType = "growth"
	EdgeSuccession EdgeType = "succession"
	EdgeSignal     EdgeType = "signal"
)

// Edge annotates why a match is actionable now. Evidence must be non-empty
// prose for the demand side to pass composition gating.
type Edge struct {
	Type       EdgeType `json:"type"`
	Evidence   string   `json:"evidence"`
	Confidence float64  `json:"confidence"`
}
