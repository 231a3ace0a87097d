package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var t0 = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to model.Stage
		want     bool
	}{
		{model.StageUpload, model.StageValidating, true},
		{model.StageMatchesFound, model.StageEnriching, true},
		{model.StageNoMatches, model.StageEnriching, true},
		{model.StageReady, model.StageSending, true},
		{model.StageReady, model.StageGenerating, true},
		{model.StageSending, model.StageReady, true},
		{model.StageUpload, model.StageEnriching, false},
		{model.StageMatchesFound, model.StageSending, false},
		{model.StageComplete, model.StageUpload, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.Equal(t, TriggerConfirmEnrich, RequiredTrigger(model.StageEnriching))
	assert.Equal(t, TriggerConfirmSend, RequiredTrigger(model.StageSending))
	assert.Equal(t, TriggerNone, RequiredTrigger(model.StageGenerating))
}

func TestGuard(t *testing.T) {
	t.Parallel()

	schema := &model.Schema{Version: 1}
	result := &model.MatchResult{Total: 2}
	tests := []struct {
		name   string
		stage  model.Stage
		schema *model.Schema
		result *model.MatchResult
		want   model.Stage
	}{
		{"complete data keeps stage", model.StageReady, schema, result, model.StageReady},
		{"missing schema with matches", model.StageGenerating, nil, result, model.StageMatchesFound},
		{"missing everything", model.StageSending, nil, nil, model.StageUpload},
		{"missing match result", model.StageEnriching, schema, nil, model.StageUpload},
		{"pre-enrichment stage untouched", model.StageMatchesFound, nil, nil, model.StageMatchesFound},
		{"upload untouched", model.StageUpload, nil, nil, model.StageUpload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := model.NewSnapshot("r", t0)
			s.Stage, s.Schema, s.MatchResult = tt.stage, tt.schema, tt.result
			assert.Equal(t, tt.want, Guard(s))
		})
	}
}

func TestRestore_AppliesGuardAndPersists(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	s := model.NewSnapshot("run-1", t0)
	s.Stage = model.StageReady
	s.MatchResult = &model.MatchResult{Total: 1}
	require.NoError(t, st.Upsert(ctx, "run-1", s))

	m, err := Restore(ctx, st, "")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, model.StageMatchesFound, m.Stage())

	stored, err := st.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StageMatchesFound, stored.Stage)
}

func TestRestore_NothingToRestore(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	m, err := Restore(context.Background(), st, "")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = Restore(context.Background(), st, "missing")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestAdvance_RequiresTrigger(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	s := model.NewSnapshot("run-1", t0)
	s.Stage = model.StageMatchesFound
	s.Schema = &model.Schema{Version: 1}
	s.MatchResult = &model.MatchResult{Total: 1}
	m := NewMachine(st, s)

	err := m.Advance(ctx, model.StageEnriching, TriggerNone)
	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, "Confirmation required", se.Title)
	assert.Contains(t, se.NextAction, "--confirm-enrich")
	assert.Equal(t, model.StageMatchesFound, m.Stage())

	// The send trigger does not open the enrichment boundary.
	require.Error(t, m.Advance(ctx, model.StageEnriching, TriggerConfirmSend))

	require.NoError(t, m.Advance(ctx, model.StageEnriching, TriggerConfirmEnrich))
	stored, err := st.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StageEnriching, stored.Stage)
}

func TestAdvance_InvalidTransition(t *testing.T) {
	t.Parallel()
	m := NewMachine(newTestStore(t), model.NewSnapshot("run-1", t0))

	err := m.Advance(context.Background(), model.StageReady, TriggerNone)
	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, model.StageUpload, se.Stage)
	assert.Equal(t, model.StageUpload, m.Stage())
}

func TestAdvance_PreconditionReturnsToSafeStage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("no intros stays at ready", func(t *testing.T) {
		t.Parallel()
		s := model.NewSnapshot("run-1", t0)
		s.Stage, s.Mode = model.StageReady, model.ComposeTemplate
		s.Schema, s.MatchResult = &model.Schema{}, &model.MatchResult{}
		m := NewMachine(newTestStore(t), s)

		err := m.Advance(ctx, model.StageSending, TriggerConfirmSend)
		se, ok := AsStageError(err)
		require.True(t, ok)
		assert.Equal(t, "Nothing to send", se.Title)
		assert.Equal(t, model.StageReady, m.Stage())
	})

	t.Run("missing match result drops to upload", func(t *testing.T) {
		t.Parallel()
		s := model.NewSnapshot("run-2", t0)
		s.Stage = model.StageNoMatches
		s.Schema = &model.Schema{}
		m := NewMachine(newTestStore(t), s)

		err := m.Advance(ctx, model.StageEnriching, TriggerConfirmEnrich)
		se, ok := AsStageError(err)
		require.True(t, ok)
		assert.Equal(t, model.StageUpload, se.Stage)
		assert.Equal(t, model.StageUpload, m.Stage())
	})
}

func TestMutate_PersistsEveryChange(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	m := NewMachine(st, model.NewSnapshot("run-1", t0))
	m.now = func() time.Time { return t0.Add(time.Minute) }

	require.NoError(t, m.Mutate(ctx, func(s *model.Snapshot) { s.Progress.Enriched = 3 }))

	stored, err := st.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Progress.Enriched)
	assert.True(t, stored.UpdatedAt.Equal(t0.Add(time.Minute)))
}
