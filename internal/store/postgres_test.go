package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qc-review/internal/models"
)

// Runs against a real database only when TEST_POSTGRES_DSN is set.
func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.RunMigrations(ctx))
	return s
}

func TestPostgresTransitionRoundTrip(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := s.CreateAsset(ctx, CreateAssetParams{ID: id, Name: "pg asset", AssetType: "doc"})
	require.NoError(t, err)

	at := time.Now().UTC().Truncate(time.Microsecond)
	out, err := s.ApplyTransition(ctx, id, approveFunc("r-pg", at))
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Version)

	got, err := s.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.QCApproved, got.QCStatus)
	assert.True(t, got.LinkingActive)
	require.Len(t, got.WorkflowLog, 1)
	assert.True(t, at.Equal(got.WorkflowLog[0].Timestamp))

	_, err = s.GetAsset(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestPostgresAuditOutlivesAsset(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	assetID := uuid.NewString()
	require.NoError(t, s.InsertAudit(ctx, models.AuditEntry{
		ID:        uuid.NewString(),
		AssetID:   assetID,
		Decision:  models.DecisionReject,
		Remarks:   "blurry",
		Timestamp: time.Now().UTC(),
	}))
	entries, err := s.ListAudit(ctx, assetID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].UserID)
	assert.Equal(t, models.DecisionReject, entries[0].Decision)
}
