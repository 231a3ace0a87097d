package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
)

// driveOptions are the operator confirmations for one invocation.
type driveOptions struct {
	ConfirmEnrich bool
	ConfirmSend   bool
	Regenerate    bool
}

// stepper is the subset of the Runner that drive needs.
type stepper interface {
	Enrich(ctx context.Context, m *pipeline.Machine, trig pipeline.Trigger) error
	Regenerate(ctx context.Context, m *pipeline.Machine) error
	Send(ctx context.Context, m *pipeline.Machine, trig pipeline.Trigger, onProgress dispatch.ProgressFunc) (*model.DispatchSummary, error)
	Resume(ctx context.Context, m *pipeline.Machine) error
}

// drive advances m as far as the given confirmations allow. It stops at a
// gate the operator has not confirmed, at a terminal stage, or when a step
// leaves the stage unchanged.
func drive(ctx context.Context, r stepper, m *pipeline.Machine, o driveOptions, out io.Writer) error {
	regenerated, sent := false, false
	for {
		before := m.Stage()
		var err error
		switch before {
		case model.StageMatchesFound, model.StageNoMatches:
			if !o.ConfirmEnrich {
				return nil
			}
			err = r.Enrich(ctx, m, pipeline.TriggerConfirmEnrich)
		case model.StageEnriching, model.StageRouteContext, model.StageGenerating:
			err = r.Resume(ctx, m)
		case model.StageReady:
			switch {
			case o.Regenerate && !regenerated:
				regenerated = true
				err = r.Regenerate(ctx, m)
			case o.ConfirmSend && !sent:
				sent = true
				_, err = r.Send(ctx, m, pipeline.TriggerConfirmSend, progressPrinter(out))
			default:
				return nil
			}
		case model.StageSending:
			sent = true
			_, err = r.Send(ctx, m, pipeline.TriggerNone, progressPrinter(out))
		default:
			return nil
		}
		if err != nil {
			return err
		}
		if m.Stage() == before && before != model.StageReady {
			return nil
		}
	}
}

// progressPrinter reports every tenth completed send and the last one.
func progressPrinter(out io.Writer) dispatch.ProgressFunc {
	var mu sync.Mutex
	last := -1
	return func(p dispatch.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.Completed == last || (p.Completed%10 != 0 && p.Completed != p.Total) {
			return
		}
		last = p.Completed
		_, _ = fmt.Fprintf(out, "  sent %d/%d (in flight %d, queued %d)\n", p.Completed, p.Total, p.InFlight, p.Queued)
	}
}

// printSummary writes the run's stage, counters and next step.
func printSummary(out io.Writer, snap *model.Snapshot) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(out, "Run %s\n", snap.RunID)
	_, _ = fmt.Fprintf(out, "  stage:     %s\n", stageColor(snap.Stage).Sprint(snap.Stage))
	if snap.MatchResult != nil {
		mr := snap.MatchResult
		_, _ = fmt.Fprintf(out, "  matches:   %d (strong %d, good %d, open %d)\n", mr.Total, mr.Strong, mr.Good, mr.Open)
	}
	if len(snap.Drops) > 0 {
		_, _ = fmt.Fprintf(out, "  dropped:   %d\n", len(snap.Drops))
	}
	p := snap.Progress
	if p.EnrichTotal > 0 {
		_, _ = fmt.Fprintf(out, "  enriched:  %d/%d\n", p.Enriched, p.EnrichTotal)
	}
	printOutcomes(out, snap.Enrichment)
	if p.ComposeTotal > 0 {
		_, _ = fmt.Fprintf(out, "  composed:  %d/%d (%s)\n", p.Composed, p.ComposeTotal, snap.Mode)
	}
	if d := snap.Dispatch; d != nil {
		_, _ = fmt.Fprintf(out, "  dispatch:  %d new, %d existing, %s of %d\n",
			d.New, d.Existing, attention(d.NeedsAttention), d.Total)
		if d.Aborted {
			_, _ = color.New(color.FgYellow).Fprintln(out, "  dispatch was interrupted; resume to send the rest")
		}
	}
	if hint := nextHint(snap.Stage); hint != "" {
		_, _ = fmt.Fprintf(out, "  next:      %s\n", hint)
	}
}

func attention(n int) string {
	s := fmt.Sprintf("%d need attention", n)
	if n > 0 {
		return color.New(color.FgYellow).Sprint(s)
	}
	return s
}

func stageColor(s model.Stage) *color.Color {
	switch s {
	case model.StageComplete:
		return color.New(color.FgGreen)
	case model.StageMatchesFound, model.StageNoMatches, model.StageReady:
		return color.New(color.FgCyan)
	case model.StageUpload:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

func nextHint(s model.Stage) string {
	switch s {
	case model.StageMatchesFound, model.StageNoMatches:
		return "resume with --confirm-enrich to look up missing contacts"
	case model.StageReady:
		return "review with `export`, then resume with --confirm-send"
	case model.StageEnriching, model.StageRouteContext, model.StageGenerating, model.StageSending:
		return "resume to continue"
	default:
		return ""
	}
}

// reportError prints a StageError as an operator-facing block and returns
// err unchanged.
func reportError(out io.Writer, err error) error {
	se, ok := pipeline.AsStageError(err)
	if !ok {
		return err
	}
	_, _ = color.New(color.FgRed, color.Bold).Fprintln(out, se.Title)
	_, _ = fmt.Fprintf(out, "  %s\n", se.Detail)
	_, _ = fmt.Fprintf(out, "  stage: %s\n", se.Stage)
	if se.NextAction != "" {
		_, _ = color.New(color.FgYellow).Fprintf(out, "  %s\n", se.NextAction)
	}
	return err
}

// printOutcomes prints one line per enrichment outcome seen, in display order.
func printOutcomes(out io.Writer, results map[string]model.EnrichmentResult) {
	counts := make(map[model.Outcome]int, len(model.AllOutcomes))
	for _, r := range results {
		counts[r.Outcome]++
	}
	for _, o := range model.AllOutcomes {
		if n := counts[o]; n > 0 {
			_, _ = fmt.Fprintf(out, "    %-40s %d\n", o.Label()+":", n)
		}
	}
}
