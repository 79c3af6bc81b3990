package stats

import (
	"context"
	"math"

	"qc-review/internal/errs"
	"qc-review/internal/models"
	"qc-review/internal/telemetry"
)

// StateSource lists the status and score of every asset.
type StateSource interface {
	ReviewStates(ctx context.Context) ([]models.ReviewState, error)
}

// Aggregator reports counts per QC status. Every call reads the store; nothing is cached.
type Aggregator struct {
	source StateSource
}

func NewAggregator(source StateSource) *Aggregator {
	return &Aggregator{source: source}
}

func (a *Aggregator) GetStatistics(ctx context.Context) (models.Statistics, error) {
	states, err := a.source.ReviewStates(ctx)
	if err != nil {
		return models.Statistics{}, errs.Wrap(err, "load review states")
	}
	out := Compute(states)
	telemetry.PendingQueueDepth.Set(float64(out.Pending + out.Rework))
	return out, nil
}

// Compute partitions states by QC status. Unknown statuses count toward the
// total only. averageScore is the mean of recorded scores to two decimals, and
// approvalRate is the rounded percentage of approved assets.
func Compute(states []models.ReviewState) models.Statistics {
	var out models.Statistics
	var scoreSum float64
	var scored int
	for _, s := range states {
		out.Total++
		switch s.QCStatus {
		case models.QCPendingReview:
			out.Pending++
		case models.QCApproved:
			out.Approved++
		case models.QCRejected:
			out.Rejected++
		case models.QCRework:
			out.Rework++
		}
		if s.QCScore != nil {
			scoreSum += *s.QCScore
			scored++
		}
	}
	if scored > 0 {
		out.AverageScore = math.Round(scoreSum/float64(scored)*100) / 100
	}
	if out.Total > 0 {
		out.ApprovalRate = int(math.Round(float64(out.Approved) / float64(out.Total) * 100))
	}
	return out
}
