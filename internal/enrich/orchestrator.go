package enrich

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/cost"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Defaults for Options fields left at zero.
const (
	DefaultConcurrency = 5
	DefaultFlushEvery  = 5
	DefaultTimeout     = 20 * time.Second
)

// Options tunes an Orchestrator.
type Options struct {
	Concurrency   int
	FlushEvery    int
	Timeout       time.Duration
	DeriveDomains bool
	Waterfall     *WaterfallConfig
	Cost          *cost.Calculator
}

// FlushFunc persists the full result set accumulated so far. It is called
// from a single goroutine.
type FlushFunc func(ctx context.Context, results map[string]model.EnrichmentResult) error

// Summary aggregates one enrichment run.
type Summary struct {
	Requested int                   `json:"requested"`
	Reused    int                   `json:"reused"`
	Attempted int                   `json:"attempted"`
	Calls     int                   `json:"calls"`
	Outcomes  map[model.Outcome]int `json:"outcomes"`
	// ProviderCalls counts issued calls per provider; skipped attempts are
	// not billed.
	ProviderCalls map[string]int `json:"provider_calls"`
	Spend         cost.Spend     `json:"spend"`
	Elapsed       time.Duration  `json:"elapsed"`
}

// credentialError is fed to a provider's breaker when it rejects the credential.
type credentialError struct {
	outcome model.Outcome
	detail  string
}

func (e *credentialError) Error() string { return string(e.outcome) + ": " + e.detail }

// Orchestrator runs the provider waterfall over a set of records.
type Orchestrator struct {
	providers []Provider
	opts      Options
	flush     FlushFunc
	breakers  *resilience.ServiceBreakers
	now       func() time.Time
}

// New creates an Orchestrator. providers are re-ordered into the fixed
// waterfall priority; flush may be nil.
func New(providers []Provider, opts Options, flush FlushFunc) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = DefaultFlushEvery
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Orchestrator{
		providers: opts.Waterfall.Apply(providers),
		opts:      opts,
		flush:     flush,
		breakers: resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
			ResetTimeout: time.Hour,
		}),
		now: time.Now,
	}
}

// Plan returns the records that still need enrichment: one per fingerprint,
// skipping records that already carry an email and fingerprints present in
// existing. Demand records come first.
func Plan(records []model.Record, existing map[string]model.EnrichmentResult) []model.Record {
	seen := make(map[string]bool, len(records))
	var demand, supply []model.Record
	for _, r := range records {
		if r.Fingerprint == "" || seen[r.Fingerprint] {
			continue
		}
		seen[r.Fingerprint] = true
		if r.HasEmail() {
			continue
		}
		if _, ok := existing[r.Fingerprint]; ok {
			continue
		}
		if r.Side == model.SideSupply {
			supply = append(supply, r)
		} else {
			demand = append(demand, r)
		}
	}
	return append(demand, supply...)
}

// MatchRecords collects the demand and supply records of matches, each
// fingerprint once.
func MatchRecords(matches []model.Match) []model.Record {
	seen := make(map[string]bool, len(matches)*2)
	var demand, supply []model.Record
	for _, m := range matches {
		if !seen[m.Demand.Fingerprint] {
			seen[m.Demand.Fingerprint] = true
			demand = append(demand, m.Demand)
		}
		if !seen[m.Supply.Fingerprint] {
			seen[m.Supply.Fingerprint] = true
			supply = append(supply, m.Supply)
		}
	}
	return append(demand, supply...)
}

// Run enriches every record not already covered by existing and returns the
// merged result set. Entries in existing are carried over untouched. On
// cancellation the results completed so far are returned with ctx's error.
func (o *Orchestrator) Run(ctx context.Context, records []model.Record, existing map[string]model.EnrichmentResult) (map[string]model.EnrichmentResult, Summary, error) {
	start := o.now()
	pending := Plan(records, existing)

	results := make(map[string]model.EnrichmentResult, len(existing)+len(pending))
	maps.Copy(results, existing)

	sum := Summary{
		Requested: len(records),
		Reused:    len(existing),
		Outcomes:  make(map[model.Outcome]int),

		ProviderCalls: make(map[string]int),
	}

	log := zap.L().With(zap.Int("pending", len(pending)), zap.Int("providers", len(o.providers)))
	log.Info("enrich: starting")

	out := make(chan model.EnrichmentResult, len(pending))
	var flushErr error
	done := make(chan struct{})

	// Single owner of results; workers only send values.
	go func() {
		defer close(done)
		sinceFlush := 0
		for res := range out {
			results[res.Fingerprint] = res
			sum.Attempted++
			sum.Outcomes[res.Outcome]++
			for _, a := range res.Attempts {
				if !a.Skipped {
					sum.Calls++
					sum.ProviderCalls[a.Provider]++
				}
			}
			sinceFlush++
			if sinceFlush >= o.opts.FlushEvery {
				sinceFlush = 0
				if err := o.doFlush(ctx, results); err != nil && flushErr == nil {
					flushErr = err
				}
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for _, r := range pending {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res := o.enrichOne(ctx, r)
			if ctx.Err() != nil {
				// Cancelled while the call was in flight: discard.
				return nil
			}
			out <- res
			return nil
		})
	}
	_ = g.Wait()
	close(out)
	<-done

	sum.Elapsed = o.now().Sub(start)
	if o.opts.Cost != nil {
		sum.Spend = o.opts.Cost.Enrichment(sum.ProviderCalls)
	}

	if err := ctx.Err(); err != nil {
		// Persist what finished before the cancel was observed.
		_ = o.doFlush(context.WithoutCancel(ctx), results)
		log.Warn("enrich: cancelled", zap.Int("completed", sum.Attempted))
		return results, sum, err
	}

	if err := o.doFlush(ctx, results); err != nil && flushErr == nil {
		flushErr = err
	}

	log.Info("enrich: complete",
		zap.Int("attempted", sum.Attempted),
		zap.Int("calls", sum.Calls),
		zap.Any("outcomes", sum.Outcomes),
		zap.Float64("spend_usd", sum.Spend.Total),
		zap.Duration("elapsed", sum.Elapsed),
	)

	if flushErr != nil {
		return results, sum, eris.Wrap(flushErr, "enrich: flush")
	}
	return results, sum, nil
}

func (o *Orchestrator) doFlush(ctx context.Context, results map[string]model.EnrichmentResult) error {
	if o.flush == nil {
		return nil
	}
	if err := o.flush(ctx, maps.Clone(results)); err != nil {
		zap.L().Warn("enrich: flush failed", zap.Error(err))
		return err
	}
	return nil
}

// enrichOne runs the waterfall for one record. It never returns an error:
// every path ends in a terminal outcome.
func (o *Orchestrator) enrichOne(ctx context.Context, r model.Record) model.EnrichmentResult {
	start := o.now()
	res := model.EnrichmentResult{Fingerprint: r.Fingerprint, Side: r.Side}
	finish := func() model.EnrichmentResult {
		res.DurationMs = o.now().Sub(start).Milliseconds()
		res.CompletedAt = o.now().UTC()
		return res
	}

	lookup, ok := lookupRecord(r, o.opts.DeriveDomains)
	if !ok {
		res.Outcome = model.OutcomeMissingInput
		return finish()
	}
	if len(o.providers) == 0 {
		res.Outcome = model.OutcomeNoProviders
		return finish()
	}

	var failures []model.Outcome
	for _, p := range o.providers {
		cb := o.breakers.Get(p.Name())
		if err := cb.Allow(); err != nil {
			var ce *credentialError
			outcome := model.OutcomeAuthError
			if errors.As(cb.LastFailure(), &ce) {
				outcome = ce.outcome
			}
			res.Attempts = append(res.Attempts, model.Attempt{
				Provider: p.Name(),
				Outcome:  outcome,
				Detail:   "skipped: credential already rejected",
				Skipped:  true,
			})
			failures = append(failures, outcome)
			continue
		}

		callStart := o.now()
		rs := o.call(ctx, p, lookup)
		res.Attempts = append(res.Attempts, model.Attempt{
			Provider:   p.Name(),
			Outcome:    rs.Outcome,
			DurationMs: o.now().Sub(callStart).Milliseconds(),
			Detail:     rs.Detail,
		})

		if credentialOutcome(rs.Outcome) {
			cb.Record(&credentialError{outcome: rs.Outcome, detail: rs.Detail})
		} else {
			cb.Record(nil)
		}

		if rs.Outcome.Success() {
			res.Outcome = rs.Outcome
			res.Provider = p.Name()
			res.Email = strPtr(rs.Email)
			res.Name = strPtr(rs.Name)
			res.Title = strPtr(rs.Title)
			return finish()
		}

		zap.L().Debug("enrich: provider miss",
			zap.String("fingerprint", r.Fingerprint),
			zap.String("provider", p.Name()),
			zap.String("outcome", string(rs.Outcome)),
		)

		// A timed-out call ends the waterfall for this record.
		if rs.Detail == "timeout" {
			res.Outcome = model.OutcomeError
			res.Provider = p.Name()
			return finish()
		}
		failures = append(failures, rs.Outcome)
	}

	res.Outcome = worstOutcome(failures)
	return finish()
}

// call runs one provider call bounded by the per-provider timeout. A provider
// that ignores its context still cannot hold the worker past the deadline.
func (o *Orchestrator) call(ctx context.Context, p Provider, r model.Record) Resolution {
	tctx, cancel := context.WithTimeout(ctx, o.opts.Waterfall.Timeout(p.Name(), o.opts.Timeout))
	defer cancel()

	ch := make(chan Resolution, 1)
	go func() {
		ch <- p.Resolve(tctx, r)
	}()

	select {
	case rs := <-ch:
		if rs.Outcome == "" || !rs.Outcome.Valid() {
			return Resolution{Outcome: model.OutcomeInvalidResult, Detail: "provider returned no outcome"}
		}
		if errors.Is(tctx.Err(), context.DeadlineExceeded) && !rs.Outcome.Success() {
			return Resolution{Outcome: model.OutcomeError, Detail: "timeout"}
		}
		return rs
	case <-tctx.Done():
		if ctx.Err() != nil {
			return Resolution{Outcome: model.OutcomeError, Detail: "cancelled"}
		}
		return Resolution{Outcome: model.OutcomeError, Detail: "timeout"}
	}
}

// failurePriority ranks failure outcomes when every provider missed. The
// outcome an operator can act on wins.
var failurePriority = []model.Outcome{
	model.OutcomeAuthError,
	model.OutcomeCreditsExhausted,
	model.OutcomeRateLimited,
	model.OutcomeNoCandidate,
	model.OutcomeInvalidResult,
	model.OutcomeError,
	model.OutcomeMissingInput,
	model.OutcomeNotFound,
}

func worstOutcome(failures []model.Outcome) model.Outcome {
	for _, want := range failurePriority {
		for _, f := range failures {
			if f == want {
				return want
			}
		}
	}
	return model.OutcomeNotFound
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
