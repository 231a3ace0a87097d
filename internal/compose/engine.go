package compose

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Defaults for Options fields left at zero.
const (
	DefaultConcurrency       = 5
	DefaultFallbackThreshold = 0.2
)

// Options tunes an Engine.
type Options struct {
	Mode              model.ComposeMode
	Concurrency       int
	FallbackThreshold float64
}

// Summary reports one composition pass.
type Summary struct {
	Mode          model.ComposeMode `json:"mode"`
	Matches       int               `json:"matches"`
	Gated         int               `json:"gated"`
	Composed      int               `json:"composed"`
	Skipped       int               `json:"skipped"`
	Dropped       int               `json:"dropped"`
	Generated     int               `json:"generated"`
	Fallback      int               `json:"fallback"`
	FallbackRatio float64           `json:"fallback_ratio"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// Result is the output of Compose, ready to be applied to a snapshot.
type Result struct {
	DemandIntros map[string]model.IntroEntry
	SupplyIntros map[string]model.IntroEntry
	Drops        []model.Drop
	Summary      Summary
}

// Engine composes intros for gated matches. Its mode is fixed at
// construction and applies to every item of a run.
type Engine struct {
	gen    Generator
	opts   Options
	prompt func(Item, model.Side) Prompt
	now    func() time.Time
}

// New creates an Engine. A generative mode without a generator falls back
// to the template path for the whole run.
func New(gen Generator, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.FallbackThreshold <= 0 {
		opts.FallbackThreshold = DefaultFallbackThreshold
	}
	if opts.Mode != model.ComposeGenerative || gen == nil {
		opts.Mode = model.ComposeTemplate
	}
	return &Engine{gen: gen, opts: opts, prompt: BuildPrompt, now: time.Now}
}

// Mode returns the run-level composition path.
func (e *Engine) Mode() model.ComposeMode { return e.opts.Mode }

// Run composes intros for the snapshot's matches and applies them.
// Fingerprints that already have intros keep them.
func (e *Engine) Run(ctx context.Context, snap *model.Snapshot) (Summary, error) {
	snap.EnsureMaps()
	res, err := e.Compose(ctx, Input{
		Matches:    snap.Matches,
		Edges:      snap.Edges,
		Enrichment: snap.Enrichment,
	}, snap.DemandIntros, snap.SupplyIntros)
	if res != nil {
		Apply(snap, res)
		snap.Mode = e.opts.Mode
		return res.Summary, err
	}
	return Summary{}, err
}

// Regenerate clears both intro collections and composes from scratch.
func (e *Engine) Regenerate(ctx context.Context, snap *model.Snapshot) (Summary, error) {
	snap.ClearIntros()
	return e.Run(ctx, snap)
}

// sides marks which intros of an item still need to be written.
type sides struct {
	demand, supply bool
}

type outcome struct {
	demand, supply model.IntroEntry
	dropReason     string
	fallback       bool
	done           bool
}

// Compose gates the input and writes intros for each passing item. Only the
// sides missing from existingDemand/existingSupply are composed; items with
// both present are skipped. On cancellation the items finished so far are
// returned together with ctx's error.
func (e *Engine) Compose(ctx context.Context, in Input, existingDemand, existingSupply map[string]model.IntroEntry) (*Result, error) {
	items, drops := Gate(in)
	sum := Summary{Mode: e.opts.Mode, Matches: len(in.Matches), Gated: len(items)}
	log := zap.L().With(zap.String("mode", string(e.opts.Mode)), zap.Int("gated", len(items)))

	outs := make([]outcome, len(items))
	need := make([]sides, len(items))
	var work []int
	for i, it := range items {
		_, haveD := existingDemand[it.Demand.Fingerprint]
		_, haveS := existingSupply[it.Supply.Fingerprint]
		if haveD && haveS {
			sum.Skipped++
			continue
		}
		need[i] = sides{demand: !haveD, supply: !haveS}
		work = append(work, i)
	}

	var err error
	if e.opts.Mode == model.ComposeGenerative {
		err = e.generateAll(ctx, items, need, work, outs)
	} else {
		for _, i := range work {
			if err = ctx.Err(); err != nil {
				break
			}
			outs[i] = e.templateOutcome(items[i], need[i], model.IntroTemplate)
		}
	}

	res := &Result{
		DemandIntros: make(map[string]model.IntroEntry),
		SupplyIntros: make(map[string]model.IntroEntry),
	}
	attempted := 0
	for i, it := range items {
		o := outs[i]
		if !o.done {
			continue
		}
		if o.dropReason != "" {
			drops = append(drops, model.Drop{
				DemandFingerprint: it.Match.Demand.Fingerprint,
				SupplyFingerprint: it.Match.Supply.Fingerprint,
				Stage:             DropStage,
				Reason:            o.dropReason,
			})
			attempted++
			continue
		}
		if e.opts.Mode == model.ComposeGenerative {
			attempted++
			if o.fallback {
				sum.Fallback++
			} else {
				sum.Generated++
			}
		}
		wrote := false
		if need[i].demand && claim(res.DemandIntros, it.Demand.Fingerprint, o.demand) {
			wrote = true
		}
		if need[i].supply && claim(res.SupplyIntros, it.Supply.Fingerprint, o.supply) {
			wrote = true
		}
		if wrote {
			sum.Composed++
		}
	}
	res.Drops = drops
	sum.Dropped = len(drops)

	if attempted > 0 && e.opts.Mode == model.ComposeGenerative {
		sum.FallbackRatio = float64(sum.Fallback) / float64(attempted)
		switch {
		case sum.Fallback == attempted:
			sum.Warnings = append(sum.Warnings, fmt.Sprintf("generation unavailable: all %d intros used the template fallback", attempted))
		case sum.FallbackRatio > e.opts.FallbackThreshold:
			sum.Warnings = append(sum.Warnings, fmt.Sprintf("generation degraded: %.0f%% of intros used the template fallback", sum.FallbackRatio*100))
		}
		for _, w := range sum.Warnings {
			log.Warn("compose: " + w)
		}
	}
	res.Summary = sum

	log.Info("compose: complete",
		zap.Int("composed", sum.Composed),
		zap.Int("dropped", sum.Dropped),
		zap.Int("skipped", sum.Skipped),
		zap.Int("fallback", sum.Fallback),
	)
	return res, err
}

func (e *Engine) generateAll(ctx context.Context, items []Item, need []sides, work []int, outs []outcome) error {
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for _, i := range work {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			o := e.generateOne(ctx, items[i], need[i])
			if ctx.Err() != nil {
				return nil
			}
			outs[i] = o
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// generateOne composes the needed sides of an item. A side whose generation
// fails falls back to the template text; a lost context field drops the item.
func (e *Engine) generateOne(ctx context.Context, it Item, need sides) outcome {
	o := outcome{done: true}
	var prompts []Prompt
	for _, side := range []model.Side{model.SideDemand, model.SideSupply} {
		if !need.has(side) {
			continue
		}
		p := e.prompt(it, side)
		prompts = append(prompts, p)

		text, err := e.gen.Generate(ctx, p)
		text = Sanitize(text)
		reason := ""
		switch {
		case err != nil:
			reason = err.Error()
		case text == "":
			reason = "empty output"
		case side == model.SideDemand && namesCounterparty(text, it.Supply):
			reason = "output names the counterparty"
		}

		entry := model.IntroEntry{Text: text, Source: model.IntroGenerated}
		if reason != "" {
			zap.L().Warn("compose: generation failed, using template",
				zap.String("demand", it.Demand.Fingerprint),
				zap.String("side", string(side)),
				zap.String("reason", reason),
			)
			o.fallback = true
			entry = e.templateEntry(it, side, model.IntroGeneratedFallback)
		}
		if side == model.SideDemand {
			o.demand = e.stamp(entry, it.Supply)
		} else {
			o.supply = e.stamp(entry, it.Demand)
		}
	}

	for _, p := range prompts {
		if err := checkContext(it, p); err != nil {
			return outcome{done: true, dropReason: err.Error()}
		}
	}
	return o
}

func (e *Engine) templateOutcome(it Item, need sides, src model.IntroSource) outcome {
	o := outcome{done: true}
	if need.demand {
		o.demand = e.stamp(e.templateEntry(it, model.SideDemand, src), it.Supply)
	}
	if need.supply {
		o.supply = e.stamp(e.templateEntry(it, model.SideSupply, src), it.Demand)
	}
	return o
}

func (n sides) has(side model.Side) bool {
	if side == model.SideDemand {
		return n.demand
	}
	return n.supply
}

func (e *Engine) templateEntry(it Item, side model.Side, src model.IntroSource) model.IntroEntry {
	if side == model.SideDemand {
		return model.IntroEntry{Text: DemandIntro(it), Source: src}
	}
	return model.IntroEntry{Text: SupplyIntro(it), Source: src}
}

func (e *Engine) stamp(entry model.IntroEntry, counterparty model.Record) model.IntroEntry {
	entry.Counterparty = counterparty.Fingerprint
	entry.CreatedAt = e.now().UTC()
	return entry
}

// claim writes v under k unless k is already present and reports whether it
// wrote.
func claim(m map[string]model.IntroEntry, k string, v model.IntroEntry) bool {
	if _, ok := m[k]; ok {
		return false
	}
	m[k] = v
	return true
}

// Apply merges a composition result into the snapshot. Existing entries are
// never overwritten and drops already recorded are not duplicated.
func Apply(snap *model.Snapshot, res *Result) {
	snap.EnsureMaps()
	for k, v := range res.DemandIntros {
		claim(snap.DemandIntros, k, v)
	}
	for k, v := range res.SupplyIntros {
		claim(snap.SupplyIntros, k, v)
	}

	seen := make(map[string]bool, len(snap.Drops))
	for _, d := range snap.Drops {
		seen[d.Stage+"|"+d.DemandFingerprint+"|"+d.SupplyFingerprint] = true
	}
	for _, d := range res.Drops {
		k := d.Stage + "|" + d.DemandFingerprint + "|" + d.SupplyFingerprint
		if seen[k] {
			continue
		}
		seen[k] = true
		snap.Drops = append(snap.Drops, d)
	}

	snap.Progress.ComposeTotal = res.Summary.Matches
	snap.Progress.Composed += res.Summary.Composed
	dropped := 0
	for _, d := range snap.Drops {
		if d.Stage == DropStage {
			dropped++
		}
	}
	snap.Progress.Dropped = dropped
}
