package models

import (
	"time"
)

// Decision is a reviewer verdict on an asset.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionRework  Decision = "rework"
)

// Outcome returns the QC status a decision moves an asset to.
func (d Decision) Outcome() QCStatus {
	switch d {
	case DecisionApprove:
		return QCApproved
	case DecisionReject:
		return QCRejected
	default:
		return QCRework
	}
}

// Action is the workflow log action recorded for the decision.
func (d Decision) Action() string {
	switch d {
	case DecisionApprove:
		return ActionApproved
	case DecisionReject:
		return ActionRejected
	default:
		return ActionReworkRequested
	}
}

// RequiresRemarks reports whether the decision is rejected without remarks.
func (d Decision) RequiresRemarks() bool {
	return d == DecisionReject || d == DecisionRework
}

// AuditEntry is one immutable record per review decision. It carries no
// reference constraint to the asset and outlives it.
type AuditEntry struct {
	ID       string   `json:"id"`
	AssetID  string   `json:"asset_id"`
	UserID   *string  `json:"user_id"`
	Decision Decision `json:"decision"`
	Remarks  string   `json:"remarks"`
	Score    *float64 `json:"score,omitempty"`
	// AssetVersion is the asset version the decision produced. It orders
	// entries that share a timestamp.
	AssetVersion int64     `json:"asset_version"`
	Timestamp    time.Time `json:"timestamp"`
}

// ReviewState is the slice of an asset the statistics aggregator reads.
type ReviewState struct {
	QCStatus QCStatus
	QCScore  *float64
}

// Statistics summarizes the current review population.
type Statistics struct {
	Pending      int     `json:"pending"`
	Approved     int     `json:"approved"`
	Rejected     int     `json:"rejected"`
	Rework       int     `json:"rework"`
	Total        int     `json:"total"`
	AverageScore float64 `json:"average_score"`
	ApprovalRate int     `json:"approval_rate"`
}

// TransitionEvent is published to observers once a decision is durable.
type TransitionEvent struct {
	AssetID     string    `json:"asset_id"`
	Decision    Decision  `json:"decision"`
	QCStatus    QCStatus  `json:"qc_status"`
	ReviewerID  *string   `json:"reviewer_id"`
	ReworkCount int       `json:"rework_count"`
	Version     int64     `json:"version"`
	OccurredAt  time.Time `json:"occurred_at"`
}
