package audit

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"qc-review/internal/errs"
	"qc-review/internal/logging"
	"qc-review/internal/models"
	"qc-review/internal/telemetry"
)

// Repository persists audit entries. The store backends satisfy it.
type Repository interface {
	InsertAudit(ctx context.Context, e models.AuditEntry) error
	ListAudit(ctx context.Context, assetID string) ([]models.AuditEntry, error)
}

// Archiver copies a recorded entry to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, e models.AuditEntry) error
}

// Logger appends one immutable entry per review decision.
type Logger struct {
	repo     Repository
	archiver Archiver
	now      func() time.Time
}

// NewLogger builds a Logger. archiver may be nil.
func NewLogger(repo Repository, archiver Archiver) *Logger {
	return &Logger{
		repo:     repo,
		archiver: archiver,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Record stores the entry, filling in id and timestamp when absent. A failed
// insert comes back as *models.AuditWriteError; archive failures are only logged.
func (l *Logger) Record(ctx context.Context, e models.AuditEntry) (models.AuditEntry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	e.Remarks = strings.TrimSpace(e.Remarks)

	if err := l.repo.InsertAudit(ctx, e); err != nil {
		return e, &models.AuditWriteError{AssetID: e.AssetID, Err: err}
	}

	if l.archiver != nil {
		if err := l.archiver.Archive(ctx, e); err != nil {
			telemetry.AuditMirrorFailures.Inc()
			logging.Warn(ctx, "audit archive failed",
				slog.String("audit_id", e.ID),
				slog.String("asset_id", e.AssetID),
				slog.Any("err", errs.Loggable(err)),
			)
		}
	}
	return e, nil
}

// History returns the asset's entries newest first. Entries with equal
// timestamps are ordered by asset version, then id, descending.
func (l *Logger) History(ctx context.Context, assetID string) ([]models.AuditEntry, error) {
	entries, err := l.repo.ListAudit(ctx, assetID)
	if err != nil {
		return nil, errs.Wrapf(err, "list audit for %s", assetID)
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		if entries[i].AssetVersion != entries[j].AssetVersion {
			return entries[i].AssetVersion > entries[j].AssetVersion
		}
		return entries[i].ID > entries[j].ID
	})
	return entries, nil
}
