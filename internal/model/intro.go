package model

import "time"

// IntroSource tags where a composed intro came from.
type IntroSource string

const (
	IntroTemplate          IntroSource = "template"
	IntroGenerated         IntroSource = "generated"
	IntroGeneratedFallback IntroSource = "generated-fallback"
)

// IntroEntry is composed outreach text for one side of a gated match.
type IntroEntry struct {
	Text         string      `json:"text"`
	Source       IntroSource `json:"source"`
	Counterparty string      `json:"counterparty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Drop records a match removed by a gate, with the reason it failed.
type Drop struct {
	DemandFingerprint string `json:"demand_fingerprint"`
	SupplyFingerprint string `json:"supply_fingerprint"`
	Stage             string `json:"stage"`
	Reason            string `json:"reason"`
}
