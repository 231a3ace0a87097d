package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "outreach.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestMachine(t *testing.T, st store.Store, stage model.Stage) *pipeline.Machine {
	t.Helper()
	snap := model.NewSnapshot("run-1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	snap.Stage = stage
	m := pipeline.NewMachine(st, snap)
	require.NoError(t, m.Mutate(context.Background(), func(*model.Snapshot) {}))
	return m
}

// fakeStepper moves the machine the way the Runner would and records calls.
type fakeStepper struct {
	calls   []string
	sendErr error
	stuck   bool
}

func (f *fakeStepper) set(ctx context.Context, m *pipeline.Machine, s model.Stage) error {
	return m.Mutate(ctx, func(snap *model.Snapshot) { snap.Stage = s })
}

func (f *fakeStepper) Enrich(ctx context.Context, m *pipeline.Machine, trig pipeline.Trigger) error {
	f.calls = append(f.calls, "enrich:"+string(trig))
	return f.set(ctx, m, model.StageReady)
}

func (f *fakeStepper) Regenerate(_ context.Context, _ *pipeline.Machine) error {
	f.calls = append(f.calls, "regenerate")
	return nil
}

func (f *fakeStepper) Send(ctx context.Context, m *pipeline.Machine, trig pipeline.Trigger, onProgress dispatch.ProgressFunc) (*model.DispatchSummary, error) {
	f.calls = append(f.calls, "send:"+string(trig))
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if onProgress != nil {
		onProgress(dispatch.Progress{Completed: 1, Total: 1})
	}
	return &model.DispatchSummary{Total: 1, New: 1}, f.set(ctx, m, model.StageComplete)
}

func (f *fakeStepper) Resume(ctx context.Context, m *pipeline.Machine) error {
	f.calls = append(f.calls, "resume")
	if f.stuck {
		return nil
	}
	return f.set(ctx, m, model.StageReady)
}

func TestDrive(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		stage     model.Stage
		opts      driveOptions
		wantCalls []string
		wantStage model.Stage
	}{
		{
			name:      "stops at enrichment gate without confirmation",
			stage:     model.StageMatchesFound,
			wantStage: model.StageMatchesFound,
		},
		{
			name:      "enriches and stops at send gate",
			stage:     model.StageNoMatches,
			opts:      driveOptions{ConfirmEnrich: true},
			wantCalls: []string{"enrich:confirm_enrich"},
			wantStage: model.StageReady,
		},
		{
			name:      "runs through both gates",
			stage:     model.StageMatchesFound,
			opts:      driveOptions{ConfirmEnrich: true, ConfirmSend: true},
			wantCalls: []string{"enrich:confirm_enrich", "send:confirm_send"},
			wantStage: model.StageComplete,
		},
		{
			name:      "regenerates before sending",
			stage:     model.StageReady,
			opts:      driveOptions{Regenerate: true, ConfirmSend: true},
			wantCalls: []string{"regenerate", "send:confirm_send"},
			wantStage: model.StageComplete,
		},
		{
			name:      "resumes an interrupted send without a new trigger",
			stage:     model.StageSending,
			wantCalls: []string{"send:"},
			wantStage: model.StageComplete,
		},
		{
			name:      "resumes composition",
			stage:     model.StageGenerating,
			wantCalls: []string{"resume"},
			wantStage: model.StageReady,
		},
		{
			name:      "complete is left alone",
			stage:     model.StageComplete,
			opts:      driveOptions{ConfirmEnrich: true, ConfirmSend: true},
			wantStage: model.StageComplete,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newTestMachine(t, newTestStore(t), tt.stage)
			f := &fakeStepper{}
			var out bytes.Buffer

			require.NoError(t, drive(context.Background(), f, m, tt.opts, &out))
			assert.Equal(t, tt.wantCalls, f.calls)
			assert.Equal(t, tt.wantStage, m.Stage())
		})
	}
}

func TestDrive_StopsWhenStageDoesNotMove(t *testing.T) {
	t.Parallel()
	m := newTestMachine(t, newTestStore(t), model.StageEnriching)
	f := &fakeStepper{stuck: true}

	require.NoError(t, drive(context.Background(), f, m, driveOptions{}, &bytes.Buffer{}))
	assert.Equal(t, []string{"resume"}, f.calls)
}

func TestDrive_SendError(t *testing.T) {
	t.Parallel()
	m := newTestMachine(t, newTestStore(t), model.StageReady)
	boom := errors.New("provider down")
	f := &fakeStepper{sendErr: boom}

	err := drive(context.Background(), f, m, driveOptions{ConfirmSend: true}, &bytes.Buffer{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"send:confirm_send"}, f.calls)
}

func TestProgressPrinter(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	p := progressPrinter(&out)
	for i := 1; i <= 12; i++ {
		p(dispatch.Progress{Completed: i, Total: 12})
	}
	p(dispatch.Progress{Completed: 12, Total: 12})

	assert.Equal(t, "  sent 10/12 (in flight 0, queued 0)\n  sent 12/12 (in flight 0, queued 0)\n", out.String())
}

func TestPrintSummary(t *testing.T) {
	t.Parallel()
	snap := model.NewSnapshot("run-abc", time.Now())
	snap.Stage = model.StageReady
	snap.Mode = model.ComposeTemplate
	snap.MatchResult = &model.MatchResult{Total: 3, Strong: 1, Good: 1, Open: 1}
	snap.Progress = model.Progress{EnrichTotal: 2, Enriched: 2, ComposeTotal: 4, Composed: 3}
	snap.Dispatch = &model.DispatchSummary{Total: 3, New: 1, Existing: 1, NeedsAttention: 1, Aborted: true}

	var out bytes.Buffer
	printSummary(&out, snap)

	s := out.String()
	assert.Contains(t, s, "Run run-abc")
	assert.Contains(t, s, "stage:     ready")
	assert.Contains(t, s, "matches:   3 (strong 1, good 1, open 1)")
	assert.Contains(t, s, "composed:  3/4 (template)")
	assert.Contains(t, s, "1 new, 1 existing, 1 need attention of 3")
	assert.Contains(t, s, "interrupted")
	assert.Contains(t, s, "--confirm-send")
}

func TestPrintSummary_OutcomeBreakdown(t *testing.T) {
	t.Parallel()
	snap := model.NewSnapshot("run-labels", time.Now())
	snap.Stage = model.StageGenerating
	snap.Progress = model.Progress{EnrichTotal: 4, Enriched: 4}
	snap.Enrichment = map[string]model.EnrichmentResult{
		"a": {Fingerprint: "a", Outcome: model.OutcomeAuthError},
		"b": {Fingerprint: "b", Outcome: model.OutcomeCreditsExhausted},
		"c": {Fingerprint: "c", Outcome: model.OutcomeNoCandidate},
		"d": {Fingerprint: "d", Outcome: model.OutcomeNoCandidate},
	}

	var out bytes.Buffer
	printSummary(&out, snap)

	s := out.String()
	assert.Regexp(t, `Provider API key rejected:\s+1`, s)
	assert.Regexp(t, `Provider credits used up:\s+1`, s)
	assert.Regexp(t, `No public email exists for this contact:\s+2`, s)
	assert.NotContains(t, s, "auth_error")
	assert.NotContains(t, s, "credits_exhausted")
}

func TestReportError(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	se := &pipeline.StageError{
		Stage:      model.StageUpload,
		Title:      "Input incomplete",
		Detail:     "both demand and supply records are required",
		NextAction: "Upload demand, supply and matches.",
	}

	err := reportError(&out, se)
	assert.Same(t, se, err)
	assert.Contains(t, out.String(), "Input incomplete")
	assert.Contains(t, out.String(), "stage: upload")
	assert.Contains(t, out.String(), "Upload demand, supply and matches.")

	out.Reset()
	plain := errors.New("plain")
	assert.Equal(t, plain, reportError(&out, plain))
	assert.Empty(t, out.String())
}
