package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qc-review/internal/models"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "qc.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.RunMigrations(ctx))
	return s
}

func approveFunc(reviewer string, at time.Time) TransitionFunc {
	return func(cur models.Asset) (models.Asset, models.WorkflowEvent, error) {
		next := cur
		next.SetQCStatus(models.QCApproved)
		next.QCReviewerID = &reviewer
		next.QCReviewedAt = &at
		next.UpdatedAt = at
		ev := models.WorkflowEvent{Action: models.ActionApproved, Timestamp: at, UserID: &reviewer, Status: models.QCApproved}
		return next, ev, nil
	}
}

func TestSQLiteCreateAndGet(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	created, err := s.CreateAsset(ctx, CreateAssetParams{ID: "a-1", Name: "Lesson 1", AssetType: "video", SubmittedBy: "u-9", SubmittedAt: submitted})
	require.NoError(t, err)

	assert.Equal(t, models.QCPendingReview, created.QCStatus)
	assert.Equal(t, "Pending QC Review", created.Status)
	assert.Equal(t, models.StageQC, created.WorkflowStage)
	assert.False(t, created.LinkingActive)
	assert.True(t, submitted.Equal(created.SubmittedAt))
	require.NotNil(t, created.SubmittedBy)
	assert.Equal(t, "u-9", *created.SubmittedBy)
	assert.Empty(t, created.WorkflowLog)
	assert.Nil(t, created.QCScore)

	_, err = s.GetAsset(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestSQLiteApplyTransitionPersistsEventAndVersion(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	_, err := s.CreateAsset(ctx, CreateAssetParams{ID: "a-1", Name: "n"})
	require.NoError(t, err)

	at := time.Date(2026, 3, 2, 9, 30, 0, 123456789, time.UTC)
	out, err := s.ApplyTransition(ctx, "a-1", approveFunc("r-1", at))
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Version)
	require.Len(t, out.WorkflowLog, 1)

	got, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.QCApproved, got.QCStatus)
	assert.True(t, got.LinkingActive)
	assert.Equal(t, models.StagePublished, got.WorkflowStage)
	assert.Equal(t, int64(1), got.Version)
	require.Len(t, got.WorkflowLog, 1)
	assert.Equal(t, models.ActionApproved, got.WorkflowLog[0].Action)
	assert.True(t, at.Equal(got.WorkflowLog[0].Timestamp))
	require.NotNil(t, got.QCReviewedAt)
	assert.True(t, at.Equal(*got.QCReviewedAt))
}

func TestSQLiteApplyTransitionErrorLeavesAssetUntouched(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	_, err := s.CreateAsset(ctx, CreateAssetParams{ID: "a-1", Name: "n"})
	require.NoError(t, err)

	boom := errors.New("refused")
	_, err = s.ApplyTransition(ctx, "a-1", func(cur models.Asset) (models.Asset, models.WorkflowEvent, error) {
		return models.Asset{}, models.WorkflowEvent{}, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.QCPendingReview, got.QCStatus)
	assert.Equal(t, int64(0), got.Version)
	assert.Empty(t, got.WorkflowLog)

	_, err = s.ApplyTransition(ctx, "nope", approveFunc("r", time.Now()))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSQLiteLegacyLogPrefixesEvents(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	legacy := `[{"action":"submitted","timestamp":"2026-01-01T00:00:00Z","userId":"u-1","status":"Pending QC Review","remarks":""}]`
	_, err := s.CreateAsset(ctx, CreateAssetParams{ID: "a-1", Name: "n", LegacyWorkflowLog: legacy})
	require.NoError(t, err)

	_, err = s.ApplyTransition(ctx, "a-1", approveFunc("r-1", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	got, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, got.WorkflowLog, 2)
	assert.Equal(t, models.ActionSubmitted, got.WorkflowLog[0].Action)
	assert.Equal(t, models.QCPendingReview, got.WorkflowLog[0].Status)
	assert.Equal(t, models.ActionApproved, got.WorkflowLog[1].Action)
	assert.False(t, got.HistoryMalformed)
}

func TestSQLiteMalformedLegacyLogIsFlagged(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	got, err := s.CreateAsset(ctx, CreateAssetParams{ID: "a-1", Name: "n", LegacyWorkflowLog: `{"not":"a list"`})
	require.NoError(t, err)
	assert.True(t, got.HistoryMalformed)
	assert.Empty(t, got.WorkflowLog)
}

func TestSQLiteListPendingFilterOrderAndPaging(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.CreateAsset(ctx, CreateAssetParams{
			ID:          fmt.Sprintf("a-%d", i),
			Name:        "n",
			SubmittedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
	// a-4 approved, a-3 sent to rework.
	_, err := s.ApplyTransition(ctx, "a-4", approveFunc("r", base))
	require.NoError(t, err)
	_, err = s.ApplyTransition(ctx, "a-3", func(cur models.Asset) (models.Asset, models.WorkflowEvent, error) {
		next := cur
		next.SetQCStatus(models.QCRework)
		next.ReworkCount++
		return next, models.WorkflowEvent{Action: models.ActionReworkRequested, Timestamp: base, Status: models.QCRework, Remarks: "fix"}, nil
	})
	require.NoError(t, err)

	all, err := s.ListPending(ctx, PendingQuery{Filter: PendingAll, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, all.Total)
	ids := make([]string, 0, len(all.Assets))
	for _, a := range all.Assets {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a-3", "a-2", "a-1", "a-0"}, ids)

	rework, err := s.ListPending(ctx, PendingQuery{Filter: PendingRework, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rework.Assets, 1)
	assert.Equal(t, "a-3", rework.Assets[0].ID)
	assert.Equal(t, 1, rework.Assets[0].ReworkCount)

	page, err := s.ListPending(ctx, PendingQuery{Filter: PendingOnly, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Assets, 2)
	assert.Equal(t, "a-1", page.Assets[0].ID)
	assert.Equal(t, "a-0", page.Assets[1].ID)
}

func TestSQLiteAuditNewestFirst(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	reviewer := "r-1"
	score := 88.5
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertAudit(ctx, models.AuditEntry{ID: "e-1", AssetID: "gone", UserID: &reviewer, Decision: models.DecisionRework, Remarks: "again", Timestamp: t0}))
	require.NoError(t, s.InsertAudit(ctx, models.AuditEntry{ID: "e-2", AssetID: "gone", UserID: &reviewer, Decision: models.DecisionApprove, Score: &score, Timestamp: t0.Add(time.Minute)}))

	entries, err := s.ListAudit(ctx, "gone")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e-2", entries[0].ID)
	require.NotNil(t, entries[0].Score)
	assert.Equal(t, 88.5, *entries[0].Score)
	assert.Nil(t, entries[1].Score)

	empty, err := s.ListAudit(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteReviewStatesAndIDs(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	_, err := s.CreateAsset(ctx, CreateAssetParams{ID: "a-1", Name: "n", SubmittedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	_, err = s.CreateAsset(ctx, CreateAssetParams{ID: "a-2", Name: "n", SubmittedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	_, err = s.ApplyTransition(ctx, "a-1", func(cur models.Asset) (models.Asset, models.WorkflowEvent, error) {
		next := cur
		score := 70.0
		next.SetQCStatus(models.QCApproved)
		next.QCScore = &score
		return next, models.WorkflowEvent{Action: models.ActionApproved, Timestamp: time.Now().UTC(), Status: models.QCApproved}, nil
	})
	require.NoError(t, err)

	states, err := s.ReviewStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)

	ids, err := s.ListAssetIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1", "a-2"}, ids)
}

func TestSQLiteConcurrentTransitionsSerialize(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	_, err := s.CreateAsset(ctx, CreateAssetParams{ID: "a-1", Name: "n"})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ApplyTransition(ctx, "a-1", func(cur models.Asset) (models.Asset, models.WorkflowEvent, error) {
				next := cur
				next.SetQCStatus(models.QCRework)
				next.ReworkCount = cur.ReworkCount + 1
				return next, models.WorkflowEvent{Action: models.ActionReworkRequested, Timestamp: time.Now().UTC(), Status: models.QCRework, Remarks: fmt.Sprint(i)}, nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, workers, got.ReworkCount)
	assert.Equal(t, int64(workers), got.Version)
	assert.Len(t, got.WorkflowLog, workers)
}

func TestSQLiteMigrationsAreRecordedOnce(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.RunMigrations(ctx))

	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	require.NoError(t, err)
	defer rows.Close()
	var versions []string
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"001_init.sql"}, versions)
}

func TestSQLiteRejectsUnknownQCStatus(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	_, err := s.CreateAsset(ctx, CreateAssetParams{ID: "a-1", Name: "Alpha"})
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE qc_assets SET qc_status = 'Archived' WHERE id = ?`, "a-1")
	require.Error(t, err)

	got, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.QCPendingReview, got.QCStatus)
}
