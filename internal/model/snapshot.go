package model

import "time"

// Stage is a pipeline state.
type Stage string

const (
	StageUpload       Stage = "upload"
	StageValidating   Stage = "validating"
	StageMatching     Stage = "matching"
	StageMatchesFound Stage = "matches_found"
	StageNoMatches    Stage = "no_matches"
	StageEnriching    Stage = "enriching"
	StageRouteContext Stage = "route_context"
	StageGenerating   Stage = "generating"
	StageReady        Stage = "ready"
	StageSending      Stage = "sending"
	StageComplete     Stage = "complete"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageComplete
}

// PostEnrichment reports whether the stage assumes enrichment has started.
func (s Stage) PostEnrichment() bool {
	switch s {
	case StageEnriching, StageRouteContext, StageGenerating, StageReady, StageSending, StageComplete:
		return true
	default:
		return false
	}
}

// ComposeMode is the run-level composition path, decided once per run.
type ComposeMode string

const (
	ComposeTemplate   ComposeMode = "template"
	ComposeGenerative ComposeMode = "generative"
)

// Schema describes the validated shape of the uploaded record sets.
type Schema struct {
	Version      int       `json:"version"`
	DemandFields []string  `json:"demand_fields"`
	SupplyFields []string  `json:"supply_fields"`
	ValidatedAt  time.Time `json:"validated_at"`
}

// MatchResult records that matching ran, even when it produced zero matches.
type MatchResult struct {
	Total     int       `json:"total"`
	Strong    int       `json:"strong"`
	Good      int       `json:"good"`
	Open      int       `json:"open"`
	MatchedAt time.Time `json:"matched_at"`
}

// Progress holds per-stage counters.
type Progress struct {
	EnrichTotal  int `json:"enrich_total"`
	Enriched     int `json:"enriched"`
	ComposeTotal int `json:"compose_total"`
	Composed     int `json:"composed"`
	Dropped      int `json:"dropped"`
	SendTotal    int `json:"send_total"`
	Sent         int `json:"sent"`
}

// SendOutcome is the terminal state of one dispatch attempt.
type SendOutcome string

const (
	SendNew            SendOutcome = "new"
	SendExisting       SendOutcome = "existing"
	SendNeedsAttention SendOutcome = "needs_attention"
)

// SendRecord is the outcome of dispatching one lead.
type SendRecord struct {
	Fingerprint string      `json:"fingerprint"`
	Side        Side        `json:"side"`
	Email       string      `json:"email"`
	Provider    string      `json:"provider"`
	Outcome     SendOutcome `json:"outcome"`
	Detail      string      `json:"detail,omitempty"`
	ErrorType   string      `json:"error_type,omitempty"`
	Retries     int         `json:"retries,omitempty"`
}

// DispatchSummary is the new/existing/needs-attention breakdown of a batch.
type DispatchSummary struct {
	Total          int          `json:"total"`
	New            int          `json:"new"`
	Existing       int          `json:"existing"`
	NeedsAttention int          `json:"needs_attention"`
	Aborted        bool         `json:"aborted,omitempty"`
	Records        []SendRecord `json:"records,omitempty"`
}

// Snapshot is the durable state of one pipeline run. Keyed collections are
// indexed by record fingerprint.
type Snapshot struct {
	RunID        string                      `json:"run_id"`
	Stage        Stage                       `json:"stage"`
	Mode         ComposeMode                 `json:"mode,omitempty"`
	Schema       *Schema                     `json:"schema,omitempty"`
	Demand       []Record                    `json:"demand"`
	Supply       []Record                    `json:"supply"`
	MatchResult  *MatchResult                `json:"match_result,omitempty"`
	Matches      []Match                     `json:"matches"`
	Edges        map[string]Edge             `json:"edges"`
	Enrichment   map[string]EnrichmentResult `json:"enrichment"`
	DemandIntros map[string]IntroEntry       `json:"demand_intros"`
	SupplyIntros map[string]IntroEntry       `json:"supply_intros"`
	Drops        []Drop                      `json:"drops,omitempty"`
	Progress     Progress                    `json:"progress"`
	Dispatch     *DispatchSummary            `json:"dispatch,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// NewSnapshot returns an empty snapshot at the upload stage.
func NewSnapshot(runID string, now time.Time) *Snapshot {
	s := &Snapshot{
		RunID:     runID,
		Stage:     StageUpload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.EnsureMaps()
	return s
}

// EnsureMaps allocates any nil keyed collections, e.g. after decoding a
// snapshot persisted before a collection existed.
func (s *Snapshot) EnsureMaps() {
	if s.Edges == nil {
		s.Edges = make(map[string]Edge)
	}
	if s.Enrichment == nil {
		s.Enrichment = make(map[string]EnrichmentResult)
	}
	if s.DemandIntros == nil {
		s.DemandIntros = make(map[string]IntroEntry)
	}
	if s.SupplyIntros == nil {
		s.SupplyIntros = make(map[string]IntroEntry)
	}
}

// ClearIntros empties both intro collections and the composition drops.
func (s *Snapshot) ClearIntros() {
	s.DemandIntros = make(map[string]IntroEntry)
	s.SupplyIntros = make(map[string]IntroEntry)
	kept := s.Drops[:0]
	for _, d := range s.Drops {
		if d.Stage != "compose" {
			kept = append(kept, d)
		}
	}
	s.Drops = kept
	s.Progress.Composed = 0
	s.Progress.ComposeTotal = 0
	s.Progress.Dropped = 0
}
