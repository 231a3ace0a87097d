package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

func seededStore(t *testing.T) store.Store {
	t.Helper()
	st := newTestStore(t)
	ctx := context.Background()

	snap := model.NewSnapshot("run-1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	snap.Stage = model.StageReady
	acme := model.Record{Side: model.SideDemand, Fingerprint: "fp-acme", Company: "Acme", Email: "jane@acme.com", FirstName: "Jane"}
	talent := model.Record{Side: model.SideSupply, Fingerprint: "fp-talent", Company: "TalentCo", Email: "sam@talentco.com"}
	snap.Demand = []model.Record{acme}
	snap.Supply = []model.Record{talent}
	snap.Matches = []model.Match{{Demand: acme, Supply: talent, Score: 0.9, Tier: model.TierStrong}}
	snap.DemandIntros["fp-acme"] = model.IntroEntry{Text: "Hi Jane, meet TalentCo.", Counterparty: "fp-talent"}
	sent := []model.SendRecord{
		{Fingerprint: "fp-acme", Side: model.SideDemand, Email: "jane@acme.com", Provider: "instantly", Outcome: model.SendNew},
	}
	snap.Dispatch = &model.DispatchSummary{Total: 1, New: 1, Records: sent}
	require.NoError(t, st.Upsert(ctx, snap.RunID, snap))
	require.NoError(t, st.AppendSends(ctx, snap.RunID, sent))
	return st
}

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	t.Parallel()
	rr := serve(t, buildRouter(newTestStore(t), []string{"*"}), http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_Runs(t *testing.T) {
	t.Parallel()
	h := buildRouter(seededStore(t), []string{"*"})

	rr := serve(t, h, http.MethodGet, "/runs")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []store.RunInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, model.StageReady, runs[0].Stage)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = serve(t, h, http.MethodGet, "/runs/run-1")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.Len(t, snap.DemandIntros, 1)

	rr = serve(t, h, http.MethodGet, "/runs/run-1/sends")
	require.Equal(t, http.StatusOK, rr.Code)
	var sends []model.SendRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sends))
	require.Len(t, sends, 1)
	assert.Equal(t, model.SendNew, sends[0].Outcome)
}

func TestRouter_EmptyListsAreArrays(t *testing.T) {
	t.Parallel()
	h := buildRouter(newTestStore(t), []string{"*"})

	rr := serve(t, h, http.MethodGet, "/runs")
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = serve(t, h, http.MethodGet, "/runs/none/sends")
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestRouter_RunNotFound(t *testing.T) {
	t.Parallel()
	h := buildRouter(newTestStore(t), []string{"*"})

	for _, path := range []string{"/runs/missing", "/runs/missing/export.csv"} {
		rr := serve(t, h, http.MethodGet, path)
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}
}

func TestRouter_ExportCSV(t *testing.T) {
	t.Parallel()
	rr := serve(t, buildRouter(seededStore(t), []string{"*"}), http.MethodGet, "/runs/run-1/export.csv")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "run-1.csv")

	recs, err := csv.NewReader(rr.Body).ReadAll()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(recs), 2)
	assert.Equal(t, "Side", recs[0][0])
	assert.Contains(t, recs[1], "Hi Jane, meet TalentCo.")
	assert.Contains(t, recs[1], "new")
}

func TestRouter_CORSRestrictsOrigins(t *testing.T) {
	t.Parallel()
	h := buildRouter(newTestStore(t), []string{"https://dashboard.example.com"})

	rr := serve(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
