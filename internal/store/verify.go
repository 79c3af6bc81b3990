package store

import (
	"context"
	"fmt"

	"qc-review/internal/models"
)

// Violation is one asset that breaks a review invariant. Warnings describe
// tolerated conditions and do not fail a verification run.
type Violation struct {
	AssetID string `json:"asset_id"`
	Rule    string `json:"rule"`
	Detail  string `json:"detail"`
	Warning bool   `json:"warning,omitempty"`
}

// CountFailures returns how many violations are not warnings.
func CountFailures(vs []Violation) int {
	n := 0
	for _, v := range vs {
		if !v.Warning {
			n++
		}
	}
	return n
}

// CheckAsset returns every invariant the asset breaks.
func CheckAsset(a models.Asset) []Violation {
	var out []Violation
	add := func(rule, format string, args ...any) {
		out = append(out, Violation{AssetID: a.ID, Rule: rule, Detail: fmt.Sprintf(format, args...)})
	}

	if !a.QCStatus.Valid() {
		add("qc_status", "unknown status %q", a.QCStatus)
	}
	if a.LinkingActive != (a.QCStatus == models.QCApproved) {
		add("linking_active", "linking_active=%t with qc_status=%s", a.LinkingActive, a.QCStatus)
	}
	if a.Status != a.QCStatus.Label() {
		add("status_label", "status %q does not match %q", a.Status, a.QCStatus.Label())
	}
	if a.WorkflowStage != a.QCStatus.Stage() {
		add("workflow_stage", "stage %s does not match %s", a.WorkflowStage, a.QCStatus.Stage())
	}
	if a.HistoryMalformed {
		out = append(out, Violation{
			AssetID: a.ID,
			Rule:    "history_malformed",
			Detail:  "legacy workflow log could not be decoded and is treated as empty",
			Warning: true,
		})
	} else if n := a.CountActions(models.ActionReworkRequested); n != a.ReworkCount {
		add("rework_count", "rework_count=%d but log has %d rework entries", a.ReworkCount, n)
	}
	for i := 1; i < len(a.WorkflowLog); i++ {
		if a.WorkflowLog[i].Timestamp.Before(a.WorkflowLog[i-1].Timestamp) {
			add("log_order", "event %d precedes event %d", i+1, i)
			break
		}
	}
	return out
}

// VerifyInvariants loads every asset and checks it.
func VerifyInvariants(ctx context.Context, s Store) ([]Violation, int, error) {
	ids, err := s.ListAssetIDs(ctx)
	if err != nil {
		return nil, 0, err
	}
	var out []Violation
	for _, id := range ids {
		a, err := s.GetAsset(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, CheckAsset(a)...)
	}
	return out, len(ids), nil
}
