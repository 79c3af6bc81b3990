package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/pgtype"

	"qc-review/internal/models"
)

// Postgres wraps pgxpool for Postgres persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping postgres", err)
	}
	return nil
}

// RunMigrations executes the embedded Postgres migrations in order.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	return runMigrations(ctx, "postgres", pgMigrator{pool: s.pool})
}

type pgMigrator struct {
	pool *pgxpool.Pool
}

func (m pgMigrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

func (m pgMigrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func (m pgMigrator) apply(ctx context.Context, mig migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, mig.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, mig.version); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const pgAssetColumns = `id, name, asset_type, submitted_by, submitted_at, qc_status, status, workflow_stage,
	linking_active, rework_count, qc_score, qc_remarks, qc_reviewer_id, qc_reviewed_at,
	legacy_workflow_log, version, updated_at`

// CreateAsset inserts an asset in PendingReview, as the upstream submission flow does.
func (s *Postgres) CreateAsset(ctx context.Context, p CreateAssetParams) (models.Asset, error) {
	a := newSubmittedAsset(p)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO qc_assets (id, name, asset_type, submitted_by, submitted_at, qc_status, status,
			workflow_stage, linking_active, rework_count, qc_remarks, legacy_workflow_log, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', $11, 0, $12)
	`, a.ID, a.Name, a.AssetType, a.SubmittedBy, a.SubmittedAt, string(a.QCStatus), a.Status,
		string(a.WorkflowStage), a.LinkingActive, a.ReworkCount, nilIfEmpty(p.LegacyWorkflowLog), a.UpdatedAt)
	if err != nil {
		return models.Asset{}, unavailable("insert asset", err)
	}
	return s.GetAsset(ctx, a.ID)
}

// GetAsset fetches an asset with its full workflow log.
func (s *Postgres) GetAsset(ctx context.Context, id string) (models.Asset, error) {
	return s.loadAsset(ctx, s.pool, id, false)
}

func (s *Postgres) loadAsset(ctx context.Context, q pgQuerier, id string, forUpdate bool) (models.Asset, error) {
	query := `SELECT ` + pgAssetColumns + ` FROM qc_assets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	a, legacy, err := scanPGAsset(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

func (s *Postgres) loadEvents(ctx context.Context, q pgQuerier, assetID string) ([]models.WorkflowEvent, error) {
	rows, err := q.Query(ctx, `
		SELECT action, qc_status, user_id, remarks, recorded_at
		FROM asset_workflow_events WHERE asset_id = $1 ORDER BY seq ASC
	`, assetID)
	if err != nil {
		return nil, unavailable("select workflow events", err)
	}
	defer rows.Close()

	var events []models.WorkflowEvent
	for rows.Next() {
		var ev models.WorkflowEvent
		var status string
		var user pgtype.Text
		if err := rows.Scan(&ev.Action, &status, &user, &ev.Remarks, &ev.Timestamp); err != nil {
			return nil, unavailable("scan workflow event", err)
		}
		ev.Status = models.QCStatus(status)
		ev.UserID = textPtr(user)
		ev.Timestamp = ev.Timestamp.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate workflow events", err)
	}
	return events, nil
}

// ApplyTransition serializes decisions on one asset with a row lock held until commit.
func (s *Postgres) ApplyTransition(ctx context.Context, id string, fn TransitionFunc) (models.Asset, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Asset{}, unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	current, err := s.loadAsset(ctx, tx, id, true)
	if err != nil {
		return models.Asset{}, err
	}
	next, ev, err := fn(current)
	if err != nil {
		return models.Asset{}, err
	}
	next.Version = current.Version + 1

	_, err = tx.Exec(ctx, `
		UPDATE qc_assets
		SET qc_status = $2, status = $3, workflow_stage = $4, linking_active = $5, rework_count = $6,
			qc_score = $7, qc_remarks = $8, qc_reviewer_id = $9, qc_reviewed_at = $10,
			version = $11, updated_at = $12
		WHERE id = $1
	`, id, string(next.QCStatus), next.Status, string(next.WorkflowStage), next.LinkingActive,
		next.ReworkCount, next.QCScore, next.QCRemarks, next.QCReviewerID, next.QCReviewedAt,
		next.Version, next.UpdatedAt)
	if err != nil {
		return models.Asset{}, unavailable("update asset", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO asset_workflow_events (asset_id, seq, action, qc_status, user_id, remarks, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, len(current.WorkflowLog)+1, ev.Action, string(ev.Status), ev.UserID, ev.Remarks, ev.Timestamp)
	if err != nil {
		return models.Asset{}, unavailable("insert workflow event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Asset{}, unavailable("commit", err)
	}

	next.WorkflowLog = append(append([]models.WorkflowEvent(nil), current.WorkflowLog...), ev)
	return next, nil
}

// ListPending returns one page of assets awaiting review, newest submission first.
func (s *Postgres) ListPending(ctx context.Context, q PendingQuery) (PendingPage, error) {
	statuses := statusStrings(q.Filter.Statuses())
	page := PendingPage{Assets: []models.Asset{}, Limit: q.Limit, Offset: q.Offset}

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM qc_assets WHERE qc_status = ANY($1)`, statuses).Scan(&page.Total); err != nil {
		return PendingPage{}, unavailable("count pending", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+pgAssetColumns+`
		FROM qc_assets WHERE qc_status = ANY($1)
		ORDER BY submitted_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, statuses, q.Limit, q.Offset)
	if err != nil {
		return PendingPage{}, unavailable("select pending", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, _, err := scanPGAsset(rows)
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

// ReviewStates scans the status and score of every asset.
func (s *Postgres) ReviewStates(ctx context.Context) ([]models.ReviewState, error) {
	rows, err := s.pool.Query(ctx, `SELECT qc_status, qc_score FROM qc_assets`)
	if err != nil {
		return nil, unavailable("select review states", err)
	}
	defer rows.Close()
	var out []models.ReviewState
	for rows.Next() {
		var status string
		var score pgtype.Float8
		if err := rows.Scan(&status, &score); err != nil {
			return nil, unavailable("scan review state", err)
		}
		out = append(out, models.ReviewState{QCStatus: models.QCStatus(status), QCScore: floatPtr(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate review states", err)
	}
	return out, nil
}

func (s *Postgres) ListAssetIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM qc_assets ORDER BY submitted_at ASC, id ASC`)
	if err != nil {
		return nil, unavailable("select asset ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, unavailable("collect asset ids", err)
	}
	return ids, nil
}

// InsertAudit adds an audit row.
func (s *Postgres) InsertAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO qc_audit_logs (id, asset_id, user_id, decision, remarks, score, asset_version, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.AssetID, e.UserID, string(e.Decision), e.Remarks, e.Score, e.AssetVersion, e.Timestamp)
	if err != nil {
		return unavailable("insert audit", err)
	}
	return nil
}

// ListAudit returns an asset's audit entries, newest first.
func (s *Postgres) ListAudit(ctx context.Context, assetID string) ([]models.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, asset_id, user_id, decision, remarks, score, asset_version, recorded_at
		FROM qc_audit_logs WHERE asset_id = $1
		ORDER BY recorded_at DESC, asset_version DESC, id DESC
	`, assetID)
	if err != nil {
		return nil, unavailable("select audit", err)
	}
	defer rows.Close()
	out := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var user pgtype.Text
		var decision string
		var score pgtype.Float8
		if err := rows.Scan(&e.ID, &e.AssetID, &user, &decision, &e.Remarks, &score, &e.AssetVersion, &e.Timestamp); err != nil {
			return nil, unavailable("scan audit", err)
		}
		e.UserID = textPtr(user)
		e.Decision = models.Decision(decision)
		e.Score = floatPtr(score)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate audit", err)
	}
	return out, nil
}

func scanPGAsset(row pgx.Row) (models.Asset, *string, error) {
	var (
		a                     models.Asset
		status, stage         string
		submittedBy, reviewer pgtype.Text
		legacy                pgtype.Text
		score                 pgtype.Float8
		reviewedAt            pgtype.Timestamptz
	)
	err := row.Scan(&a.ID, &a.Name, &a.AssetType, &submittedBy, &a.SubmittedAt, &status, &a.Status, &stage,
		&a.LinkingActive, &a.ReworkCount, &score, &a.QCRemarks, &reviewer, &reviewedAt,
		&legacy, &a.Version, &a.UpdatedAt)
	if err != nil {
		return models.Asset{}, nil, err
	}
	a.QCStatus = models.QCStatus(status)
	a.WorkflowStage = models.WorkflowStage(stage)
	a.SubmittedBy = textPtr(submittedBy)
	a.QCReviewerID = textPtr(reviewer)
	a.QCScore = floatPtr(score)
	if reviewedAt.Valid {
		t := reviewedAt.Time.UTC()
		a.QCReviewedAt = &t
	}
	a.SubmittedAt = a.SubmittedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, textPtr(legacy), nil
}

func newSubmittedAsset(p CreateAssetParams) models.Asset {
	now := time.Now().UTC()
	a := models.Asset{
		ID:          p.ID,
		Name:        p.Name,
		AssetType:   p.AssetType,
		SubmittedBy: nilIfEmpty(p.SubmittedBy),
		SubmittedAt: p.SubmittedAt.UTC(),
		UpdatedAt:   now,
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.SubmittedAt.IsZero() {
		a.SubmittedAt = now
	}
	a.SetQCStatus(models.QCPendingReview)
	// Imported history keeps reworkCount reconstructible from the log.
	if prior, err := models.ParseLegacyLog(p.LegacyWorkflowLog); err == nil {
		for _, ev := range prior {
			if ev.Action == models.ActionReworkRequested {
				a.ReworkCount++
			}
		}
	}
	return a
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func floatPtr(f pgtype.Float8) *float64 {
	if f.Valid {
		return &f.Float64
	}
	return nil
}
