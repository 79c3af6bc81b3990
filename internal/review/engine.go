package review

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"qc-review/internal/errs"
	"qc-review/internal/logging"
	"qc-review/internal/models"
	"qc-review/internal/notify"
	"qc-review/internal/store"
	"qc-review/internal/telemetry"
)

// Auditor records decisions and reads them back. *audit.Logger satisfies it.
type Auditor interface {
	Record(ctx context.Context, e models.AuditEntry) (models.AuditEntry, error)
	History(ctx context.Context, assetID string) ([]models.AuditEntry, error)
}

// DecisionRequest is one reviewer verdict on an asset.
type DecisionRequest struct {
	AssetID    string
	ReviewerID string
	Remarks    string
	Score      *float64
}

// Outcome is the committed result of a decision.
type Outcome struct {
	Asset    models.Asset
	Decision models.Decision
	Audit    models.AuditEntry
	// AuditRecorded is false when the transition committed but the audit append failed.
	AuditRecorded bool
	AuditErr      error
}

// PendingLimits bounds the page size of the pending queue.
type PendingLimits struct {
	Default int
	Max     int
}

// DefaultNotifyTimeout bounds post-commit notification when none is configured.
const DefaultNotifyTimeout = 3 * time.Second

// Engine applies review decisions to assets.
type Engine struct {
	store         store.Store
	audit         Auditor
	notifier      notify.Notifier
	notifyTimeout time.Duration
	limits        PendingLimits
	now           func() time.Time
}

func NewEngine(st store.Store, auditor Auditor, notifier notify.Notifier, limits PendingLimits) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if limits.Default <= 0 {
		limits.Default = 50
	}
	if limits.Max < limits.Default {
		limits.Max = 200
	}
	return &Engine{
		store:         st,
		audit:         auditor,
		notifier:      notifier,
		notifyTimeout: DefaultNotifyTimeout,
		limits:        limits,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithNotifyTimeout caps how long a committed decision waits on the notifier.
// Non-positive values keep the default.
func (e *Engine) WithNotifyTimeout(d time.Duration) *Engine {
	if d > 0 {
		e.notifyTimeout = d
	}
	return e
}

// Approve publishes the asset. Remarks are optional.
func (e *Engine) Approve(ctx context.Context, req DecisionRequest) (Outcome, error) {
	return e.decide(ctx, models.DecisionApprove, req)
}

// Reject refuses the asset for this submission cycle. Remarks are required.
func (e *Engine) Reject(ctx context.Context, req DecisionRequest) (Outcome, error) {
	return e.decide(ctx, models.DecisionReject, req)
}

// RequestRework returns the asset to its submitter. Remarks are required.
func (e *Engine) RequestRework(ctx context.Context, req DecisionRequest) (Outcome, error) {
	return e.decide(ctx, models.DecisionRework, req)
}

// Decide dispatches on a decision value.
func (e *Engine) Decide(ctx context.Context, d models.Decision, req DecisionRequest) (Outcome, error) {
	switch d {
	case models.DecisionApprove, models.DecisionReject, models.DecisionRework:
		return e.decide(ctx, d, req)
	}
	return Outcome{}, models.NewValidationError("decision", "decision must be one of approve, reject, rework")
}

func (e *Engine) decide(ctx context.Context, d models.Decision, req DecisionRequest) (Outcome, error) {
	req.AssetID = strings.TrimSpace(req.AssetID)
	req.Remarks = strings.TrimSpace(req.Remarks)
	req.ReviewerID = strings.TrimSpace(req.ReviewerID)
	if err := validate(d, req); err != nil {
		telemetry.ValidationRejects.WithLabelValues(err.Field).Inc()
		return Outcome{}, err
	}

	ctx = logging.WithAttrs(ctx,
		slog.String("asset_id", req.AssetID),
		slog.String("decision", string(d)),
	)
	reviewer := nilIfEmpty(req.ReviewerID)
	if reviewer == nil {
		telemetry.MissingReviewer.Inc()
		logging.Warn(ctx, "decision recorded without an acting reviewer")
	}

	var decidedAt time.Time
	asset, err := e.store.ApplyTransition(ctx, req.AssetID, func(cur models.Asset) (models.Asset, models.WorkflowEvent, error) {
		decidedAt = e.now()
		// Keep the log non-decreasing even if this host's clock trails the last writer's.
		if last := cur.LastEventTime(); decidedAt.Before(last) {
			decidedAt = last
		}
		next := cur
		next.SetQCStatus(d.Outcome())
		if d == models.DecisionRework {
			next.ReworkCount = cur.ReworkCount + 1
		}
		next.QCScore = req.Score
		next.QCRemarks = req.Remarks
		next.QCReviewerID = reviewer
		next.QCReviewedAt = &decidedAt
		next.UpdatedAt = decidedAt
		ev := models.WorkflowEvent{
			Action:    d.Action(),
			Timestamp: decidedAt,
			UserID:    reviewer,
			Status:    next.QCStatus,
			Remarks:   req.Remarks,
		}
		return next, ev, nil
	})
	if err != nil {
		return Outcome{}, errs.Wrapf(err, "%s asset %s", d, req.AssetID)
	}
	telemetry.Decisions.WithLabelValues(string(d)).Inc()

	out := Outcome{Asset: asset, Decision: d, AuditRecorded: true}
	out.Audit, out.AuditErr = e.audit.Record(ctx, models.AuditEntry{
		AssetID:      asset.ID,
		UserID:       reviewer,
		Decision:     d,
		Remarks:      req.Remarks,
		Score:        req.Score,
		AssetVersion: asset.Version,
		Timestamp:    decidedAt,
	})
	if out.AuditErr != nil {
		out.AuditRecorded = false
		telemetry.AuditWriteFailures.Inc()
		logging.Error(ctx, "audit write failed; transition stands",
			slog.Any("err", errs.Loggable(out.AuditErr)),
		)
	}

	notifyCtx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
	defer cancel()
	if err := e.notifier.Notify(notifyCtx, models.TransitionEvent{
		AssetID:     asset.ID,
		Decision:    d,
		QCStatus:    asset.QCStatus,
		ReviewerID:  reviewer,
		ReworkCount: asset.ReworkCount,
		Version:     asset.Version,
		OccurredAt:  decidedAt,
	}); err != nil {
		logging.Warn(ctx, "transition notification incomplete", slog.Any("err", errs.Loggable(err)))
	}

	logging.Info(ctx, "review decision committed",
		slog.String("qc_status", string(asset.QCStatus)),
		slog.Int64("version", asset.Version),
		slog.Bool("audit_recorded", out.AuditRecorded),
	)
	return out, nil
}

func validate(d models.Decision, req DecisionRequest) *models.ValidationError {
	if req.AssetID == "" {
		return models.NewValidationError("asset_id", "asset_id is required")
	}
	if d.RequiresRemarks() && req.Remarks == "" {
		return models.NewValidationError("qc_remarks", "qc_remarks is required")
	}
	if req.Score != nil {
		s := *req.Score
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 || s > 100 {
			return models.NewValidationError("qc_score", "qc_score must be between 0 and 100")
		}
	}
	return nil
}

// Get returns the asset with its expanded workflow log.
func (e *Engine) Get(ctx context.Context, assetID string) (models.Asset, error) {
	return e.store.GetAsset(ctx, strings.TrimSpace(assetID))
}

// History returns the asset's audit trail, newest first. It works for assets
// that no longer exist.
func (e *Engine) History(ctx context.Context, assetID string) ([]models.AuditEntry, error) {
	return e.audit.History(ctx, strings.TrimSpace(assetID))
}

// ListPending pages through assets awaiting review. status is all, Pending or Rework.
func (e *Engine) ListPending(ctx context.Context, status string, limit, offset int) (store.PendingPage, error) {
	filter, ok := store.ParsePendingFilter(status)
	if !ok {
		telemetry.ValidationRejects.WithLabelValues("status").Inc()
		return store.PendingPage{}, models.NewValidationError("status", "status must be one of all, Pending, Rework")
	}
	if limit <= 0 {
		limit = e.limits.Default
	}
	if limit > e.limits.Max {
		limit = e.limits.Max
	}
	if offset < 0 {
		offset = 0
	}
	return e.store.ListPending(ctx, store.PendingQuery{Filter: filter, Limit: limit, Offset: offset})
}

func nilIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
