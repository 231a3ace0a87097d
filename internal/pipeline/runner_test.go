package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Name() string { return "mock" }

func (m *mockSender) ValidateConfig(cfg config.CampaignConfig) error {
	return m.Called(cfg).Error(0)
}

func (m *mockSender) SendLead(ctx context.Context, cfg config.CampaignConfig, lead dispatch.Lead) (dispatch.SendResult, error) {
	args := m.Called(ctx, cfg, lead)
	return args.Get(0).(dispatch.SendResult), args.Error(1)
}

// stubProvider resolves every record to first@domain and counts calls.
type stubProvider struct {
	mu    sync.Mutex
	calls map[string]int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Resolve(_ context.Context, r model.Record) enrich.Resolution {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[r.Fingerprint]++
	p.mu.Unlock()
	return enrich.Resolution{
		Email:   "jane@" + r.Domain,
		Name:    "Jane Doe",
		Outcome: model.OutcomeVerified,
	}
}

func (p *stubProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

var testCampaign = config.CampaignConfig{Key: "k", DemandCampaignID: "camp-d", SupplyCampaignID: "camp-s"}

func testInput() *Input {
	acme := model.Record{Company: "Acme", Domain: "acme.com", FirstName: "Jane", Signal: "Hiring 3 backend engineers", Description: "B2B payments platform"}
	beta := model.Record{Company: "Beta Labs", Domain: "betalabs.io", Signal: "Raised a Series A", Description: "Lab automation"}
	talent := model.Record{Company: "TalentCo", Domain: "talentco.com", Email: "sam@talentco.com", FirstName: "Sam", Capability: "technical recruiting"}
	return &Input{
		Demand: []model.Record{acme, beta},
		Supply: []model.Record{talent},
		Matches: []model.Match{
			{Demand: acme, Supply: talent, Score: 0.91, Tier: model.TierStrong},
			{Demand: beta, Supply: talent, Score: 0.62, Tier: model.TierGood},
		},
	}
}

type harness struct {
	runner   *Runner
	store    store.Store
	sender   *mockSender
	provider *stubProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := newTestStore(t)
	sender := &mockSender{}
	sender.On("ValidateConfig", mock.Anything).Return(nil).Maybe()
	provider := &stubProvider{}

	r := NewRunner(Deps{
		Store:         st,
		Providers:     []enrich.Provider{provider},
		EnrichOptions: enrich.Options{Concurrency: 2, FlushEvery: 1, Timeout: time.Second},
		Composer:      compose.New(nil, compose.Options{}),
		Queue:         dispatch.NewQueue(sender, testCampaign, dispatch.Limits{MaxInFlight: 2}, resilience.RetryConfig{MaxAttempts: 1}),
	})
	n := 0
	r.newID = func() string { n++; return fmt.Sprintf("run-%d", n) }
	r.now = func() time.Time { return t0 }
	return &harness{runner: r, store: st, sender: sender, provider: provider}
}

func TestRunner_FullRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.sender.On("SendLead", mock.Anything, testCampaign, mock.Anything).
		Return(dispatch.SendResult{Success: true, Status: dispatch.StatusCreated}, nil)

	m, err := h.runner.Start(ctx, testInput())
	require.NoError(t, err)
	assert.Equal(t, model.StageMatchesFound, m.Stage())
	assert.Equal(t, 2, m.Snapshot().MatchResult.Total)
	assert.Zero(t, h.provider.total(), "no paid call before confirmation")

	// Enrichment needs its trigger.
	err = h.runner.Enrich(ctx, m, TriggerNone)
	_, isStage := AsStageError(err)
	require.True(t, isStage)
	assert.Zero(t, h.provider.total())

	require.NoError(t, h.runner.Enrich(ctx, m, TriggerConfirmEnrich))
	assert.Equal(t, model.StageReady, m.Stage())
	assert.Equal(t, 2, h.provider.total(), "only demand records without email are enriched")

	snap := m.Snapshot()
	assert.Equal(t, model.ComposeTemplate, snap.Mode)
	assert.Len(t, snap.DemandIntros, 2)
	assert.Len(t, snap.SupplyIntros, 1)

	// Sending needs its trigger.
	_, err = h.runner.Send(ctx, m, TriggerNone, nil)
	require.Error(t, err)
	h.sender.AssertNotCalled(t, "SendLead", mock.Anything, mock.Anything, mock.Anything)

	sum, err := h.runner.Send(ctx, m, TriggerConfirmSend, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StageComplete, m.Stage())
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 3, sum.New)
	assert.Equal(t, 3, m.Snapshot().Progress.Sent)

	log, err := h.store.ListSends(ctx, m.RunID())
	require.NoError(t, err)
	assert.Len(t, log, 3)

	stored, err := h.store.Load(ctx, m.RunID())
	require.NoError(t, err)
	assert.Equal(t, model.StageComplete, stored.Stage)
	assert.Equal(t, 3, stored.Dispatch.New)
}

func TestRunner_NoMatchesCanProceed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	in := testInput()
	in.Matches = nil
	m, err := h.runner.Start(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, model.StageNoMatches, m.Stage())

	require.NoError(t, h.runner.Enrich(ctx, m, TriggerConfirmEnrich))
	assert.Equal(t, model.StageReady, m.Stage())
	assert.Empty(t, m.Snapshot().DemandIntros)
	assert.Zero(t, h.provider.total())
}

func TestRunner_IncompleteInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	m, err := h.runner.Start(context.Background(), &Input{Demand: []model.Record{{Company: "Solo"}}})
	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, model.StageUpload, se.Stage)
	assert.Equal(t, model.StageUpload, m.Stage())
}

func TestRunner_ResumeEnrichmentSkipsCompleted(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.runner.Start(ctx, testInput())
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, model.StageEnriching, TriggerConfirmEnrich))

	// One record was enriched before the process died.
	acme := m.Snapshot().Matches[0].Demand
	email := "jane@acme.com"
	require.NoError(t, m.Mutate(ctx, func(s *model.Snapshot) {
		s.Enrichment[acme.Fingerprint] = model.EnrichmentResult{
			Fingerprint: acme.Fingerprint, Side: model.SideDemand, Email: &email, Outcome: model.OutcomeVerified,
		}
	}))

	restored, err := Restore(ctx, h.store, "")
	require.NoError(t, err)
	require.Equal(t, model.StageEnriching, restored.Stage())

	require.NoError(t, h.runner.Resume(ctx, restored))
	assert.Equal(t, model.StageReady, restored.Stage())
	assert.Equal(t, 1, h.provider.total())
	assert.Zero(t, h.provider.calls[acme.Fingerprint])
}

func TestRunner_ResumeSendingSkipsDelivered(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.sender.On("SendLead", mock.Anything, testCampaign, mock.Anything).
		Return(dispatch.SendResult{Success: true, Status: dispatch.StatusCreated}, nil)

	m, err := h.runner.Start(ctx, testInput())
	require.NoError(t, err)
	require.NoError(t, h.runner.Enrich(ctx, m, TriggerConfirmEnrich))
	require.NoError(t, m.Advance(ctx, model.StageSending, TriggerConfirmSend))

	leads := dispatch.LeadsFromSnapshot(m.Snapshot())
	require.Len(t, leads, 3)
	first := leads[0]
	require.NoError(t, h.store.AppendSends(ctx, m.RunID(), []model.SendRecord{
		{Fingerprint: first.Fingerprint, Side: first.Side, Email: first.Email, Provider: "mock", Outcome: model.SendNew},
	}))

	restored, err := Restore(ctx, h.store, m.RunID())
	require.NoError(t, err)
	require.NoError(t, h.runner.Resume(ctx, restored))

	assert.Equal(t, model.StageComplete, restored.Stage())
	h.sender.AssertNumberOfCalls(t, "SendLead", 2)
	for _, c := range h.sender.Calls {
		if c.Method == "SendLead" {
			assert.NotEqual(t, first.Fingerprint, c.Arguments.Get(2).(dispatch.Lead).Fingerprint)
		}
	}
	sum := restored.Snapshot().Dispatch
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 3, sum.New)
}

func TestRunner_SendAbortReturnsToReady(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	h.sender.On("SendLead", mock.Anything, testCampaign, mock.Anything).
		Run(func(mock.Arguments) { once.Do(cancel) }).
		Return(dispatch.SendResult{Success: true, Status: dispatch.StatusCreated}, nil)

	m, err := h.runner.Start(context.Background(), testInput())
	require.NoError(t, err)
	require.NoError(t, h.runner.Enrich(context.Background(), m, TriggerConfirmEnrich))

	sum, err := h.runner.Send(ctx, m, TriggerConfirmSend, nil)
	require.Error(t, err)
	require.NotNil(t, sum)
	assert.True(t, sum.Aborted)
	assert.GreaterOrEqual(t, sum.New, 1)
	assert.Equal(t, len(sum.Records), sum.New+sum.Existing+sum.NeedsAttention)
	assert.Equal(t, model.StageReady, m.Stage())
}

func TestRunner_Regenerate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.runner.Start(ctx, testInput())
	require.NoError(t, err)
	require.NoError(t, h.runner.Enrich(ctx, m, TriggerConfirmEnrich))
	before := m.Snapshot().DemandIntros

	require.NoError(t, h.runner.Regenerate(ctx, m))
	assert.Equal(t, model.StageReady, m.Stage())
	after := m.Snapshot().DemandIntros
	require.Len(t, after, len(before))
	for fp, e := range before {
		assert.Equal(t, e.Text, after[fp].Text)
	}
}

func TestRunner_ResumeBeforeMatching(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	m := NewMachine(h.store, model.NewSnapshot("run-x", t0))

	err := h.runner.Resume(context.Background(), m)
	_, ok := AsStageError(err)
	assert.True(t, ok)
}
