package stats

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qc-review/internal/models"
)

func score(v float64) *float64 { return &v }

func TestComputeEmpty(t *testing.T) {
	got := Compute(nil)
	assert.Equal(t, models.Statistics{}, got)
}

func TestComputePartitionAndRate(t *testing.T) {
	states := []models.ReviewState{
		{QCStatus: models.QCApproved, QCScore: score(90)},
		{QCStatus: models.QCApproved, QCScore: score(80)},
		{QCStatus: models.QCRejected, QCScore: score(41)},
		{QCStatus: models.QCRework},
		{QCStatus: models.QCPendingReview},
		{QCStatus: models.QCPendingReview},
	}
	got := Compute(states)
	assert.Equal(t, 2, got.Pending)
	assert.Equal(t, 2, got.Approved)
	assert.Equal(t, 1, got.Rejected)
	assert.Equal(t, 1, got.Rework)
	assert.Equal(t, 6, got.Total)
	assert.Equal(t, got.Total, got.Pending+got.Approved+got.Rejected+got.Rework)
	assert.Equal(t, 33, got.ApprovalRate)
	assert.Equal(t, 70.33, got.AverageScore)
}

func TestComputeRoundsHalfUp(t *testing.T) {
	// 1 of 8 approved is 12.5%.
	states := make([]models.ReviewState, 8)
	for i := range states {
		states[i] = models.ReviewState{QCStatus: models.QCPendingReview}
	}
	states[0].QCStatus = models.QCApproved
	assert.Equal(t, 13, Compute(states).ApprovalRate)
}

type stubSource struct {
	states []models.ReviewState
	err    error
}

func (s stubSource) ReviewStates(context.Context) ([]models.ReviewState, error) {
	return s.states, s.err
}

func TestAggregatorReadsSource(t *testing.T) {
	agg := NewAggregator(stubSource{states: []models.ReviewState{{QCStatus: models.QCApproved, QCScore: score(100)}}})
	got, err := agg.GetStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, got.ApprovalRate)
	assert.Equal(t, 100.0, got.AverageScore)

	boom := errors.New("db gone")
	_, err = NewAggregator(stubSource{err: boom}).GetStatistics(context.Background())
	assert.ErrorIs(t, err, boom)
}
