package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Deps are the collaborators a Runner drives.
type Deps struct {
	Store         store.Store
	Providers     []enrich.Provider
	EnrichOptions enrich.Options
	Composer      *compose.Engine
	Queue         *dispatch.Queue
}

// Runner executes pipeline stages against a Machine.
type Runner struct {
	deps  Deps
	now   func() time.Time
	newID func() string
}

// NewRunner creates a Runner.
func NewRunner(d Deps) *Runner {
	return &Runner{
		deps:  d,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Start creates a run from in and takes it through validation and matching.
// The run stops at matches_found or no_matches, waiting for confirmation.
func (r *Runner) Start(ctx context.Context, in *Input) (*Machine, error) {
	snap := model.NewSnapshot(r.newID(), r.now().UTC())
	m := NewMachine(r.deps.Store, snap)
	m.now = r.now
	if err := m.Mutate(ctx, func(s *model.Snapshot) {}); err != nil {
		return nil, err
	}
	zap.L().Info("pipeline: run created", zap.String("run_id", snap.RunID))
	return m, r.ingest(ctx, m, in)
}

// ingest runs validating and matching.
func (r *Runner) ingest(ctx context.Context, m *Machine, in *Input) error {
	if err := m.Advance(ctx, model.StageValidating, TriggerNone); err != nil {
		return err
	}

	demand, supply, schema, drops := Validate(in, r.now())
	if len(demand) == 0 || len(supply) == 0 {
		_ = m.Mutate(ctx, func(s *model.Snapshot) { s.Stage = model.StageUpload })
		return &StageError{
			Stage:      model.StageUpload,
			Title:      "Input incomplete",
			Detail:     "both demand and supply records are required",
			NextAction: nextAction(model.StageUpload),
		}
	}
	if err := m.Mutate(ctx, func(s *model.Snapshot) {
		s.Demand, s.Supply, s.Schema = demand, supply, schema
		s.Drops = append(s.Drops, drops...)
	}); err != nil {
		return err
	}

	if err := m.Advance(ctx, model.StageMatching, TriggerNone); err != nil {
		return err
	}
	matches, edges, result, mdrops := Match(in, demand, supply, r.now())
	next := model.StageMatchesFound
	if len(matches) == 0 {
		next = model.StageNoMatches
	}
	if err := m.Mutate(ctx, func(s *model.Snapshot) {
		s.Matches, s.Edges, s.MatchResult = matches, edges, result
		s.Drops = append(s.Drops, mdrops...)
	}); err != nil {
		return err
	}
	zap.L().Info("pipeline: matching complete",
		zap.String("run_id", m.RunID()),
		zap.Int("matches", result.Total),
		zap.Int("edges", len(edges)),
		zap.Int("drops", len(drops)+len(mdrops)),
	)
	return m.Advance(ctx, next, TriggerNone)
}

// Enrich crosses the enrichment boundary and continues through composition,
// stopping at ready. A run already inside enrichment resumes without a new
// trigger because it was confirmed when it entered.
func (r *Runner) Enrich(ctx context.Context, m *Machine, trig Trigger) error {
	switch m.Stage() {
	case model.StageMatchesFound, model.StageNoMatches:
		if err := m.Advance(ctx, model.StageEnriching, trig); err != nil {
			return err
		}
	case model.StageEnriching:
	default:
		return r.Compose(ctx, m)
	}

	if err := r.enrich(ctx, m); err != nil {
		return err
	}
	if err := m.Advance(ctx, model.StageRouteContext, TriggerNone); err != nil {
		return err
	}
	return r.Compose(ctx, m)
}

func (r *Runner) enrich(ctx context.Context, m *Machine) error {
	snap := m.Snapshot()
	records := enrich.MatchRecords(snap.Matches)
	existing := snap.Enrichment
	total := len(existing) + len(enrich.Plan(records, existing))

	flush := func(ctx context.Context, results map[string]model.EnrichmentResult) error {
		return m.Mutate(ctx, func(s *model.Snapshot) {
			s.Enrichment = results
			s.Progress.EnrichTotal = total
			s.Progress.Enriched = len(results)
		})
	}
	orch := enrich.New(r.deps.Providers, r.deps.EnrichOptions, flush)
	_, sum, err := orch.Run(ctx, records, existing)
	if err != nil {
		return eris.Wrap(err, "pipeline: enrich")
	}
	zap.L().Info("pipeline: enrichment complete",
		zap.String("run_id", m.RunID()),
		zap.Int("attempted", sum.Attempted),
		zap.Int("reused", sum.Reused),
		zap.Any("outcomes", sum.Outcomes),
		zap.Any("provider_calls", sum.ProviderCalls),
		zap.Any("spend_usd", sum.Spend.ByProvider),
		zap.Float64("spend_total_usd", sum.Spend.Total),
	)
	return nil
}

// Compose routes the run to one composition mode and writes intros,
// stopping at ready.
func (r *Runner) Compose(ctx context.Context, m *Machine) error {
	switch m.Stage() {
	case model.StageRouteContext:
		if err := m.Mutate(ctx, func(s *model.Snapshot) { s.Mode = r.deps.Composer.Mode() }); err != nil {
			return err
		}
		if err := m.Advance(ctx, model.StageGenerating, TriggerNone); err != nil {
			return err
		}
	case model.StageGenerating:
	case model.StageReady, model.StageSending, model.StageComplete:
		return nil
	default:
		return &StageError{Stage: m.Stage(), Title: "Not ready to compose", Detail: "enrichment has not run", NextAction: nextAction(m.Stage())}
	}
	return r.compose(ctx, m, false)
}

// Regenerate discards every intro and composes again.
func (r *Runner) Regenerate(ctx context.Context, m *Machine) error {
	if err := m.Advance(ctx, model.StageGenerating, TriggerNone); err != nil {
		return err
	}
	return r.compose(ctx, m, true)
}

func (r *Runner) compose(ctx context.Context, m *Machine, fresh bool) error {
	var (
		sum compose.Summary
		err error
	)
	if merr := m.Mutate(ctx, func(s *model.Snapshot) {
		if fresh {
			sum, err = r.deps.Composer.Regenerate(ctx, s)
		} else {
			sum, err = r.deps.Composer.Run(ctx, s)
		}
	}); merr != nil {
		return merr
	}
	if err != nil {
		return eris.Wrap(err, "pipeline: compose")
	}
	for _, w := range sum.Warnings {
		zap.L().Warn("pipeline: "+w, zap.String("run_id", m.RunID()))
	}
	zap.L().Info("pipeline: composition complete",
		zap.String("run_id", m.RunID()),
		zap.String("mode", string(sum.Mode)),
		zap.Int("composed", sum.Composed),
		zap.Int("dropped", sum.Dropped),
		zap.Int("fallback", sum.Fallback),
	)
	return m.Advance(ctx, model.StageReady, TriggerNone)
}

// Send crosses the dispatch boundary. Leads already delivered in an earlier
// batch of the same run are not sent again. An aborted batch returns the run
// to ready with the partial breakdown recorded.
func (r *Runner) Send(ctx context.Context, m *Machine, trig Trigger, onProgress dispatch.ProgressFunc) (*model.DispatchSummary, error) {
	switch m.Stage() {
	case model.StageReady:
		if err := m.Advance(ctx, model.StageSending, trig); err != nil {
			return nil, err
		}
	case model.StageSending:
	default:
		return nil, &StageError{Stage: m.Stage(), Title: "Not ready to send", Detail: "intros have not been composed", NextAction: nextAction(m.Stage())}
	}

	runID := m.RunID()
	prior, err := r.deps.Store.ListSends(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load send log")
	}
	leads := pendingLeads(dispatch.LeadsFromSnapshot(m.Snapshot()), prior)

	batch, runErr := r.deps.Queue.Run(ctx, leads, onProgress)
	if batch == nil {
		// Config rejected before anything was sent.
		_ = m.Advance(context.WithoutCancel(ctx), model.StageReady, TriggerNone)
		return nil, eris.Wrap(runErr, "pipeline: dispatch")
	}

	wctx := context.WithoutCancel(ctx)
	if err := r.deps.Store.AppendSends(wctx, runID, batch.Records); err != nil {
		return batch, eris.Wrap(err, "pipeline: record sends")
	}
	sum := Summarize(append(prior, batch.Records...), len(leads)+delivered(prior))
	sum.Aborted = batch.Aborted

	next := model.StageComplete
	if batch.Aborted {
		next = model.StageReady
	}
	if err := m.Mutate(wctx, func(s *model.Snapshot) {
		s.Dispatch = sum
		s.Progress.SendTotal = sum.Total
		s.Progress.Sent = sum.New
	}); err != nil {
		return sum, err
	}
	if err := m.Advance(wctx, next, TriggerNone); err != nil {
		return sum, err
	}
	if runErr != nil {
		return sum, eris.Wrap(runErr, "pipeline: dispatch")
	}
	return sum, nil
}

// Resume continues a restored run as far as it can go without a new
// trigger.
func (r *Runner) Resume(ctx context.Context, m *Machine) error {
	switch m.Stage() {
	case model.StageEnriching:
		return r.Enrich(ctx, m, TriggerNone)
	case model.StageRouteContext, model.StageGenerating:
		return r.Compose(ctx, m)
	case model.StageSending:
		_, err := r.Send(ctx, m, TriggerNone, nil)
		return err
	case model.StageUpload, model.StageValidating, model.StageMatching:
		return &StageError{Stage: m.Stage(), Title: "Upload incomplete", Detail: "the run never finished matching", NextAction: "Start a new run from the input file."}
	default:
		return nil
	}
}
