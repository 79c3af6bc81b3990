package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"qc-review/internal/config"
	"qc-review/internal/errs"
	"qc-review/internal/logging"
	"qc-review/internal/models"
	"qc-review/internal/telemetry"
)

// Store is the persistence contract shared by the Postgres and SQLite backends.
type Store interface {
	CreateAsset(ctx context.Context, p CreateAssetParams) (models.Asset, error)
	GetAsset(ctx context.Context, id string) (models.Asset, error)
	// ApplyTransition locks the asset, hands its current state to fn, and persists
	// the returned asset together with the appended event in one transaction.
	ApplyTransition(ctx context.Context, id string, fn TransitionFunc) (models.Asset, error)
	ListPending(ctx context.Context, q PendingQuery) (PendingPage, error)
	ReviewStates(ctx context.Context) ([]models.ReviewState, error)
	ListAssetIDs(ctx context.Context) ([]string, error)

	InsertAudit(ctx context.Context, e models.AuditEntry) error
	ListAudit(ctx context.Context, assetID string) ([]models.AuditEntry, error)

	RunMigrations(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// TransitionFunc computes the next asset state and the event describing it.
type TransitionFunc func(current models.Asset) (models.Asset, models.WorkflowEvent, error)

// CreateAssetParams collects inputs for an upstream submission.
type CreateAssetParams struct {
	ID          string
	Name        string
	AssetType   string
	SubmittedBy string
	SubmittedAt time.Time
	// LegacyWorkflowLog is a history blob imported from the previous control panel.
	LegacyWorkflowLog string
}

// PendingFilter narrows the pending queue view.
type PendingFilter string

const (
	PendingAll    PendingFilter = "all"
	PendingOnly   PendingFilter = "Pending"
	PendingRework PendingFilter = "Rework"
)

// ParsePendingFilter maps a query value to a filter. Empty means all.
func ParsePendingFilter(v string) (PendingFilter, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "all":
		return PendingAll, true
	case "pending", "pendingreview", "pending_review":
		return PendingOnly, true
	case "rework":
		return PendingRework, true
	}
	return "", false
}

// Statuses lists the QC statuses the filter selects.
func (f PendingFilter) Statuses() []models.QCStatus {
	switch f {
	case PendingOnly:
		return []models.QCStatus{models.QCPendingReview}
	case PendingRework:
		return []models.QCStatus{models.QCRework}
	default:
		return []models.QCStatus{models.QCPendingReview, models.QCRework}
	}
}

// PendingQuery is a page request against the pending queue.
type PendingQuery struct {
	Filter PendingFilter
	Limit  int
	Offset int
}

// PendingPage is one page of the pending queue.
type PendingPage struct {
	Assets []models.Asset `json:"assets"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Open builds the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		return NewPostgres(ctx, cfg.PostgresDSN)
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// timeLayout is fixed width so text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, v)
	}
	return t.UTC(), err
}

func unavailable(op string, err error) error {
	return &models.StorageError{Op: op, Err: err}
}

func nilIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// assembleLog prefixes imported legacy history to the event table rows. A legacy
// blob that fails to decode is treated as empty and reported, never fatal.
func assembleLog(ctx context.Context, a *models.Asset, legacy *string, events []models.WorkflowEvent) {
	var prior []models.WorkflowEvent
	if legacy != nil {
		parsed, err := models.ParseLegacyLog(*legacy)
		if err != nil {
			a.HistoryMalformed = true
			telemetry.MalformedHistory.Inc()
			logging.Warn(ctx, "legacy workflow log malformed, treating as empty",
				slog.String("asset_id", a.ID),
				slog.Bool("malformed_history", true),
				slog.Any("err", errs.Loggable(err)),
			)
		} else {
			prior = parsed
		}
	}
	log := make([]models.WorkflowEvent, 0, len(prior)+len(events))
	log = append(log, prior...)
	log = append(log, events...)
	a.WorkflowLog = log
}

func statusStrings(statuses []models.QCStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
