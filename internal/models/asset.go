package models

import (
	"encoding/json"
	"strings"
	"time"
)

// QCStatus is the canonical review state of an asset. Every other status-like
// field on Asset is derived from it.
type QCStatus string

const (
	QCPendingReview QCStatus = "Pending"
	QCRework        QCStatus = "Rework"
	QCApproved      QCStatus = "Approved"
	QCRejected      QCStatus = "Rejected"
)

// WorkflowStage is the coarse lifecycle marker shown next to an asset.
type WorkflowStage string

const (
	StageDraft     WorkflowStage = "Draft"
	StageQC        WorkflowStage = "QC"
	StagePublished WorkflowStage = "Published"
)

// ParseQCStatus accepts the stored value and the long PendingReview spelling.
func ParseQCStatus(v string) (QCStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "pending", "pendingreview", "pending_review":
		return QCPendingReview, true
	case "rework":
		return QCRework, true
	case "approved":
		return QCApproved, true
	case "rejected":
		return QCRejected, true
	}
	return "", false
}

func (s QCStatus) Valid() bool {
	switch s {
	case QCPendingReview, QCRework, QCApproved, QCRejected:
		return true
	}
	return false
}

// Label is the display status kept in lockstep with the QC status.
func (s QCStatus) Label() string {
	switch s {
	case QCRework:
		return "Rework Requested"
	case QCApproved:
		return "QC Approved"
	case QCRejected:
		return "QC Rejected"
	default:
		return "Pending QC Review"
	}
}

// Stage maps a QC status onto the workflow stage.
func (s QCStatus) Stage() WorkflowStage {
	switch s {
	case QCApproved:
		return StagePublished
	case QCRework:
		return StageDraft
	default:
		return StageQC
	}
}

// LinkingActive reports whether downstream systems may consume the asset.
func (s QCStatus) LinkingActive() bool {
	return s == QCApproved
}

// Action names recorded in the workflow log.
const (
	ActionSubmitted       = "submitted"
	ActionApproved        = "approved"
	ActionRejected        = "rejected"
	ActionReworkRequested = "rework_requested"
)

// WorkflowEvent is one append-only entry of an asset's review history.
type WorkflowEvent struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	UserID    *string   `json:"user_id"`
	Status    QCStatus  `json:"status"`
	Remarks   string    `json:"remarks"`
}

// Asset is the reviewable unit.
type Asset struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	AssetType        string          `json:"asset_type"`
	SubmittedBy      *string         `json:"submitted_by,omitempty"`
	SubmittedAt      time.Time       `json:"submitted_at"`
	QCStatus         QCStatus        `json:"qc_status"`
	Status           string          `json:"status"`
	WorkflowStage    WorkflowStage   `json:"workflow_stage"`
	LinkingActive    bool            `json:"linking_active"`
	ReworkCount      int             `json:"rework_count"`
	QCScore          *float64        `json:"qc_score"`
	QCRemarks        string          `json:"qc_remarks"`
	QCReviewerID     *string         `json:"qc_reviewer_id"`
	QCReviewedAt     *time.Time      `json:"qc_reviewed_at"`
	WorkflowLog      []WorkflowEvent `json:"workflow_log,omitempty"`
	HistoryMalformed bool            `json:"history_malformed,omitempty"`
	Version          int64           `json:"version"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SetQCStatus writes the canonical status and every field derived from it.
func (a *Asset) SetQCStatus(s QCStatus) {
	a.QCStatus = s
	a.Status = s.Label()
	a.WorkflowStage = s.Stage()
	a.LinkingActive = s.LinkingActive()
}

// LastEventTime returns the timestamp of the newest workflow event, or the zero time.
func (a Asset) LastEventTime() time.Time {
	if len(a.WorkflowLog) == 0 {
		return time.Time{}
	}
	return a.WorkflowLog[len(a.WorkflowLog)-1].Timestamp
}

// CountActions counts workflow events with the given action.
func (a Asset) CountActions(action string) int {
	n := 0
	for _, ev := range a.WorkflowLog {
		if ev.Action == action {
			n++
		}
	}
	return n
}

// legacyEvent mirrors the camelCase blob written by the previous control panel.
type legacyEvent struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	UserID    *string   `json:"userId"`
	Status    string    `json:"status"`
	Remarks   string    `json:"remarks"`
}

// ParseLegacyLog decodes an imported workflow_log blob. An empty blob is an empty
// history; anything that does not decode to a list of events is ErrMalformedHistory.
func ParseLegacyLog(raw string) ([]WorkflowEvent, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var legacy []legacyEvent
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return nil, &MalformedHistoryError{Err: err}
	}
	out := make([]WorkflowEvent, 0, len(legacy))
	for _, ev := range legacy {
		status, ok := ParseQCStatus(ev.Status)
		if !ok {
			// Older rows stored the display label.
			status = statusFromLabel(ev.Status)
		}
		out = append(out, WorkflowEvent{
			Action:    ev.Action,
			Timestamp: ev.Timestamp.UTC(),
			UserID:    ev.UserID,
			Status:    status,
			Remarks:   ev.Remarks,
		})
	}
	return out, nil
}

func statusFromLabel(label string) QCStatus {
	for _, s := range []QCStatus{QCApproved, QCRejected, QCRework} {
		if strings.EqualFold(label, s.Label()) {
			return s
		}
	}
	return QCPendingReview
}
