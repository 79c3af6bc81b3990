package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"qc-review/internal/models"
)

// SQLite is the single-node backend for local runs and qcctl.
type SQLite struct {
	db   *sql.DB
	path string
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Close() {
	if s != nil && s.db != nil {
		_ = s.db.Close()
	}
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping sqlite", err)
	}
	return nil
}

func (s *SQLite) RunMigrations(ctx context.Context) error {
	return runMigrations(ctx, "sqlite", sqliteMigrator{db: s.db})
}

type sqliteMigrator struct {
	db *sql.DB
}

func (m sqliteMigrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

func (m sqliteMigrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m sqliteMigrator) apply(ctx context.Context, mig migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, mig.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, mig.version); err != nil {
		return err
	}
	return tx.Commit()
}

const sqliteAssetColumns = `id, name, asset_type, submitted_by, submitted_at, qc_status, status, workflow_stage,
	linking_active, rework_count, qc_score, qc_remarks, qc_reviewer_id, qc_reviewed_at,
	legacy_workflow_log, version, updated_at`

func (s *SQLite) CreateAsset(ctx context.Context, p CreateAssetParams) (models.Asset, error) {
	a := newSubmittedAsset(p)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qc_assets (id, name, asset_type, submitted_by, submitted_at, qc_status, status,
			workflow_stage, linking_active, rework_count, qc_remarks, legacy_workflow_log, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, 0, ?)
	`, a.ID, a.Name, a.AssetType, a.SubmittedBy, formatTime(a.SubmittedAt), string(a.QCStatus), a.Status,
		string(a.WorkflowStage), a.LinkingActive, a.ReworkCount, nilIfEmpty(p.LegacyWorkflowLog), formatTime(a.UpdatedAt))
	if err != nil {
		return models.Asset{}, unavailable("insert asset", err)
	}
	return s.GetAsset(ctx, a.ID)
}

func (s *SQLite) GetAsset(ctx context.Context, id string) (models.Asset, error) {
	return s.loadAsset(ctx, s.db, id)
}

func (s *SQLite) loadAsset(ctx context.Context, q sqlQuerier, id string) (models.Asset, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sqliteAssetColumns+` FROM qc_assets WHERE id = ?`, id)
	a, legacy, err := scanSQLiteAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Asset{}, fmt.Errorf("asset %s: %w", id, models.ErrNotFound)
		}
		return models.Asset{}, unavailable("select asset", err)
	}
	events, err := s.loadEvents(ctx, q, id)
	if err != nil {
		return models.Asset{}, err
	}
	assembleLog(ctx, &a, legacy, events)
	return a, nil
}

func (s *SQLite) loadEvents(ctx context.Context, q sqlQuerier, assetID string) ([]models.WorkflowEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT action, qc_status, user_id, remarks, recorded_at
		FROM asset_workflow_events WHERE asset_id = ? ORDER BY seq ASC
	`, assetID)
	if err != nil {
		return nil, unavailable("select workflow events", err)
	}
	defer rows.Close()

	var events []models.WorkflowEvent
	for rows.Next() {
		var (
			ev            models.WorkflowEvent
			status, stamp string
			user          sql.NullString
		)
		if err := rows.Scan(&ev.Action, &status, &user, &ev.Remarks, &stamp); err != nil {
			return nil, unavailable("scan workflow event", err)
		}
		ts, err := parseTime(stamp)
		if err != nil {
			return nil, unavailable("parse event time", err)
		}
		ev.Timestamp = ts
		ev.Status = models.QCStatus(status)
		ev.UserID = nullStringPtr(user)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate workflow events", err)
	}
	return events, nil
}

// ApplyTransition runs fn inside a transaction on the single pooled connection.
func (s *SQLite) ApplyTransition(ctx context.Context, id string, fn TransitionFunc) (models.Asset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Asset{}, unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.loadAsset(ctx, tx, id)
	if err != nil {
		return models.Asset{}, err
	}
	next, ev, err := fn(current)
	if err != nil {
		return models.Asset{}, err
	}
	next.Version = current.Version + 1

	var reviewedAt any
	if next.QCReviewedAt != nil {
		reviewedAt = formatTime(*next.QCReviewedAt)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE qc_assets
		SET qc_status = ?, status = ?, workflow_stage = ?, linking_active = ?, rework_count = ?,
			qc_score = ?, qc_remarks = ?, qc_reviewer_id = ?, qc_reviewed_at = ?,
			version = ?, updated_at = ?
		WHERE id = ?
	`, string(next.QCStatus), next.Status, string(next.WorkflowStage), next.LinkingActive,
		next.ReworkCount, next.QCScore, next.QCRemarks, next.QCReviewerID, reviewedAt,
		next.Version, formatTime(next.UpdatedAt), id)
	if err != nil {
		return models.Asset{}, unavailable("update asset", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO asset_workflow_events (asset_id, seq, action, qc_status, user_id, remarks, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, len(current.WorkflowLog)+1, ev.Action, string(ev.Status), ev.UserID, ev.Remarks, formatTime(ev.Timestamp))
	if err != nil {
		return models.Asset{}, unavailable("insert workflow event", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Asset{}, unavailable("commit", err)
	}

	next.WorkflowLog = append(append([]models.WorkflowEvent(nil), current.WorkflowLog...), ev)
	return next, nil
}

func (s *SQLite) ListPending(ctx context.Context, q PendingQuery) (PendingPage, error) {
	statuses := statusStrings(q.Filter.Statuses())
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, 0, len(statuses)+2)
	for _, st := range statuses {
		args = append(args, st)
	}
	page := PendingPage{Assets: []models.Asset{}, Limit: q.Limit, Offset: q.Offset}

	countSQL := `SELECT COUNT(*) FROM qc_assets WHERE qc_status IN (` + placeholders + `)`
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&page.Total); err != nil {
		return PendingPage{}, unavailable("count pending", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteAssetColumns+`
		FROM qc_assets WHERE qc_status IN (`+placeholders+`)
		ORDER BY submitted_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return PendingPage{}, unavailable("select pending", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, _, err := scanSQLiteAsset(rows)
		if err != nil {
			return PendingPage{}, unavailable("scan pending", err)
		}
		page.Assets = append(page.Assets, a)
	}
	if err := rows.Err(); err != nil {
		return PendingPage{}, unavailable("iterate pending", err)
	}
	return page, nil
}

func (s *SQLite) ReviewStates(ctx context.Context) ([]models.ReviewState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT qc_status, qc_score FROM qc_assets`)
	if err != nil {
		return nil, unavailable("select review states", err)
	}
	defer rows.Close()
	var out []models.ReviewState
	for rows.Next() {
		var status string
		var score sql.NullFloat64
		if err := rows.Scan(&status, &score); err != nil {
			return nil, unavailable("scan review state", err)
		}
		out = append(out, models.ReviewState{QCStatus: models.QCStatus(status), QCScore: nullFloatPtr(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate review states", err)
	}
	return out, nil
}

func (s *SQLite) ListAssetIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM qc_assets ORDER BY submitted_at ASC, id ASC`)
	if err != nil {
		return nil, unavailable("select asset ids", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan asset id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate asset ids", err)
	}
	return ids, nil
}

func (s *SQLite) InsertAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qc_audit_logs (id, asset_id, user_id, decision, remarks, score, asset_version, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.AssetID, e.UserID, string(e.Decision), e.Remarks, e.Score, e.AssetVersion, formatTime(e.Timestamp))
	if err != nil {
		return unavailable("insert audit", err)
	}
	return nil
}

func (s *SQLite) ListAudit(ctx context.Context, assetID string) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, asset_id, user_id, decision, remarks, score, asset_version, recorded_at
		FROM qc_audit_logs WHERE asset_id = ?
		ORDER BY recorded_at DESC, asset_version DESC, id DESC
	`, assetID)
	if err != nil {
		return nil, unavailable("select audit", err)
	}
	defer rows.Close()
	out := []models.AuditEntry{}
	for rows.Next() {
		var (
			e               models.AuditEntry
			user            sql.NullString
			decision, stamp string
			score           sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.AssetID, &user, &decision, &e.Remarks, &score, &e.AssetVersion, &stamp); err != nil {
			return nil, unavailable("scan audit", err)
		}
		ts, err := parseTime(stamp)
		if err != nil {
			return nil, unavailable("parse audit time", err)
		}
		e.Timestamp = ts
		e.UserID = nullStringPtr(user)
		e.Decision = models.Decision(decision)
		e.Score = nullFloatPtr(score)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate audit", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAsset(row rowScanner) (models.Asset, *string, error) {
	var (
		a                      models.Asset
		status, stage          string
		submittedAt, updatedAt string
		submittedBy, reviewer  sql.NullString
		reviewedAt, legacy     sql.NullString
		score                  sql.NullFloat64
	)
	err := row.Scan(&a.ID, &a.Name, &a.AssetType, &submittedBy, &submittedAt, &status, &a.Status, &stage,
		&a.LinkingActive, &a.ReworkCount, &score, &a.QCRemarks, &reviewer, &reviewedAt,
		&legacy, &a.Version, &updatedAt)
	if err != nil {
		return models.Asset{}, nil, err
	}
	if a.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return models.Asset{}, nil, fmt.Errorf("parse submitted_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Asset{}, nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if reviewedAt.Valid {
		t, err := parseTime(reviewedAt.String)
		if err != nil {
			return models.Asset{}, nil, fmt.Errorf("parse qc_reviewed_at: %w", err)
		}
		a.QCReviewedAt = &t
	}
	a.QCStatus = models.QCStatus(status)
	a.WorkflowStage = models.WorkflowStage(stage)
	a.SubmittedBy = nullStringPtr(submittedBy)
	a.QCReviewerID = nullStringPtr(reviewer)
	a.QCScore = nullFloatPtr(score)
	return a, nullStringPtr(legacy), nil
}

func nullStringPtr(v sql.NullString) *string {
	if v.Valid {
		return &v.String
	}
	return nil
}

func nullFloatPtr(v sql.NullFloat64) *float64 {
	if v.Valid {
		return &v.Float64
	}
	return nil
}
