// Package store persists run snapshots so an interrupted run can resume
// without repeating paid provider calls.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// DefaultListLimit caps ListRecent when the caller passes no limit.
const DefaultListLimit = 20

// RunInfo is the listing view of a persisted run.
type RunInfo struct {
	RunID     string         `json:"run_id"`
	Stage     model.Stage    `json:"stage"`
	Progress  model.Progress `json:"progress"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store is the durable snapshot interface. Writes are last-writer-wins.
type Store interface {
	// Upsert replaces the snapshot stored under runID.
	Upsert(ctx context.Context, runID string, snap *model.Snapshot) error
	// Load returns the snapshot for runID, or nil when none exists.
	Load(ctx context.Context, runID string) (*model.Snapshot, error)
	// ListRecent returns runs ordered by last update, newest first.
	ListRecent(ctx context.Context, limit int) ([]RunInfo, error)
	// LoadLatestActive returns the most recently updated snapshot whose stage
	// is not terminal, or nil.
	LoadLatestActive(ctx context.Context) (*model.Snapshot, error)

	// AppendSends adds dispatch outcomes to the run's send log. The log only
	// grows, so it spans every batch a resumed run has sent.
	AppendSends(ctx context.Context, runID string, recs []model.SendRecord) error
	// ListSends returns the send log for runID in insertion order.
	ListSends(ctx context.Context, runID string) ([]model.SendRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}

func encodeSnapshot(snap *model.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, eris.New("store: nil snapshot")
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal snapshot")
	}
	return b, nil
}

func decodeSnapshot(b []byte) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal snapshot")
	}
	snap.EnsureMaps()
	return &snap, nil
}

// row is the column set written for one snapshot. Stage and progress are
// kept outside the blob so listings never decode whole snapshots.
type row struct {
	id        string
	stage     string
	progress  []byte
	snapshot  []byte
	createdAt time.Time
	updatedAt time.Time
}

func newRow(runID string, snap *model.Snapshot) (*row, error) {
	if runID == "" {
		return nil, eris.New("store: empty run id")
	}
	b, err := encodeSnapshot(snap)
	if err != nil {
		return nil, err
	}
	p, err := json.Marshal(snap.Progress)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal progress")
	}
	now := time.Now().UTC()
	r := &row{id: runID, stage: string(snap.Stage), progress: p, snapshot: b, createdAt: now, updatedAt: now}
	if !snap.CreatedAt.IsZero() {
		r.createdAt = snap.CreatedAt.UTC()
	}
	if !snap.UpdatedAt.IsZero() {
		r.updatedAt = snap.UpdatedAt.UTC()
	}
	return r, nil
}

func runInfo(id, stage string, progress []byte, createdAt, updatedAt time.Time) (RunInfo, error) {
	info := RunInfo{RunID: id, Stage: model.Stage(stage), CreatedAt: createdAt, UpdatedAt: updatedAt}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &info.Progress); err != nil {
			return RunInfo{}, eris.Wrapf(err, "store: unmarshal progress for %s", id)
		}
	}
	return info, nil
}

// sendColumns is the send log column order shared by both backends.
var sendColumns = []string{"run_id", "seq", "fingerprint", "side", "email", "provider", "outcome", "detail", "error_type", "retries", "sent_at"}

func sendRows(runID string, start int, recs []model.SendRecord, at time.Time) [][]any {
	rows := make([][]any, 0, len(recs))
	for i, r := range recs {
		rows = append(rows, []any{
			runID, start + i, r.Fingerprint, string(r.Side), r.Email, r.Provider,
			string(r.Outcome), r.Detail, r.ErrorType, r.Retries, at,
		})
	}
	return rows
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
