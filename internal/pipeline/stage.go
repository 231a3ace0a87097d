// Package pipeline drives a run through its stages, persisting the snapshot
// after every stage-affecting change and refusing to cross a paid boundary
// without an explicit trigger.
package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Trigger is an operator action that authorizes a paid boundary.
type Trigger string

const (
	TriggerNone          Trigger = ""
	TriggerConfirmEnrich Trigger = "confirm_enrich"
	TriggerConfirmSend   Trigger = "confirm_send"
)

// transitions lists the stages reachable from each stage.
var transitions = map[model.Stage][]model.Stage{
	model.StageUpload:       {model.StageValidating},
	model.StageValidating:   {model.StageMatching, model.StageUpload},
	model.StageMatching:     {model.StageMatchesFound, model.StageNoMatches, model.StageUpload},
	model.StageMatchesFound: {model.StageEnriching, model.StageUpload},
	model.StageNoMatches:    {model.StageEnriching, model.StageUpload},
	model.StageEnriching:    {model.StageRouteContext, model.StageMatchesFound},
	model.StageRouteContext: {model.StageGenerating},
	model.StageGenerating:   {model.StageReady, model.StageRouteContext},
	model.StageReady:        {model.StageSending, model.StageGenerating},
	model.StageSending:      {model.StageComplete, model.StageReady},
	model.StageComplete:     nil,
}

// gated maps a stage to the trigger required to enter it.
var gated = map[model.Stage]Trigger{
	model.StageEnriching: TriggerConfirmEnrich,
	model.StageSending:   TriggerConfirmSend,
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to model.Stage) bool {
	return slices.Contains(transitions[from], to)
}

// RequiredTrigger returns the trigger needed to enter stage, or TriggerNone.
func RequiredTrigger(stage model.Stage) Trigger {
	return gated[stage]
}

// Guard returns the stage a restored snapshot may safely resume at. A
// post-enrichment stage missing the schema or match result it depends on
// falls back to matches_found when a match result exists, else upload.
func Guard(snap *model.Snapshot) model.Stage {
	if !snap.Stage.PostEnrichment() {
		return snap.Stage
	}
	if snap.Schema != nil && snap.MatchResult != nil {
		return snap.Stage
	}
	if snap.MatchResult != nil {
		return model.StageMatchesFound
	}
	return model.StageUpload
}

// Machine owns one run's snapshot and is the only writer of its stage.
type Machine struct {
	store store.Store
	now   func() time.Time

	mu   sync.Mutex
	snap *model.Snapshot
}

// NewMachine wraps snap. Nothing is persisted until the first mutation.
func NewMachine(st store.Store, snap *model.Snapshot) *Machine {
	snap.EnsureMaps()
	return &Machine{store: st, snap: snap, now: time.Now}
}

// Restore loads a run, applies the restart guard and persists any
// downgrade. An empty runID restores the most recent unfinished run. It
// returns nil when there is nothing to restore.
func Restore(ctx context.Context, st store.Store, runID string) (*Machine, error) {
	var (
		snap *model.Snapshot
		err  error
	)
	if runID == "" {
		snap, err = st.LoadLatestActive(ctx)
	} else {
		snap, err = st.Load(ctx, runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: restore")
	}
	if snap == nil {
		return nil, nil
	}

	m := NewMachine(st, snap)
	if safe := Guard(snap); safe != snap.Stage {
		zap.L().Warn("pipeline: restart guard downgraded stage",
			zap.String("run_id", snap.RunID),
			zap.String("from", string(snap.Stage)),
			zap.String("to", string(safe)),
		)
		if err := m.Mutate(ctx, func(s *model.Snapshot) { s.Stage = safe }); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RunID returns the run identifier.
func (m *Machine) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.RunID
}

// Stage returns the current stage.
func (m *Machine) Stage() model.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Stage
}

// Snapshot returns the live snapshot. Callers must not mutate it outside
// Mutate.
func (m *Machine) Snapshot() *model.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Mutate applies fn to the snapshot and persists it.
func (m *Machine) Mutate(ctx context.Context, fn func(*model.Snapshot)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.snap)
	return m.persistLocked(ctx)
}

// Advance moves the run to stage to. Entering a gated stage needs its
// trigger; the machine never supplies one itself.
func (m *Machine) Advance(ctx context.Context, to model.Stage, trig Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.snap.Stage
	if !CanTransition(from, to) {
		return &StageError{
			Stage:      from,
			Title:      "Invalid transition",
			Detail:     fmt.Sprintf("a run at %s cannot move to %s", from, to),
			NextAction: nextAction(from),
		}
	}
	if need := gated[to]; need != TriggerNone && trig != need {
		return &StageError{
			Stage:      from,
			Title:      "Confirmation required",
			Detail:     fmt.Sprintf("entering %s calls paid providers", to),
			NextAction: confirmAction(need),
		}
	}
	if err := precondition(m.snap, to); err != nil {
		err.Stage = fallbackStage(m.snap, from, to)
		m.snap.Stage = err.Stage
		if perr := m.persistLocked(ctx); perr != nil {
			return perr
		}
		return err
	}

	m.snap.Stage = to
	zap.L().Info("pipeline: stage",
		zap.String("run_id", m.snap.RunID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return m.persistLocked(ctx)
}

// fallbackStage is where a failed transition leaves the run: the guard's
// safe ancestor when to depends on missing data, else from.
func fallbackStage(s *model.Snapshot, from, to model.Stage) model.Stage {
	next := *s
	next.Stage = to
	if safe := Guard(&next); safe != to {
		return safe
	}
	return from
}

func (m *Machine) persistLocked(ctx context.Context) error {
	m.snap.UpdatedAt = m.now().UTC()
	if err := m.store.Upsert(ctx, m.snap.RunID, m.snap); err != nil {
		return eris.Wrapf(err, "pipeline: persist %s", m.snap.RunID)
	}
	return nil
}

// precondition checks the data a stage structurally depends on.
func precondition(s *model.Snapshot, to model.Stage) *StageError {
	switch to {
	case model.StageMatching:
		if s.Schema == nil {
			return &StageError{Title: "Input not validated", Detail: "no schema was recorded for this run", NextAction: "Upload the input again."}
		}
	case model.StageEnriching, model.StageRouteContext, model.StageGenerating:
		if s.Schema == nil || s.MatchResult == nil {
			return &StageError{Title: "Matching incomplete", Detail: "the run has no match result", NextAction: "Re-run matching before enrichment."}
		}
	case model.StageReady:
		if s.Mode == "" {
			return &StageError{Title: "Composition incomplete", Detail: "no composition mode was recorded", NextAction: "Regenerate intros."}
		}
	case model.StageSending:
		if len(s.DemandIntros)+len(s.SupplyIntros) == 0 {
			return &StageError{Title: "Nothing to send", Detail: "no intros were composed for this run", NextAction: "Check enrichment results and regenerate intros."}
		}
	}
	return nil
}
