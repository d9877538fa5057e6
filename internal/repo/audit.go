package repo

import (
	"context"
	"database/sql"
	"time"

	"steward/internal/domain"
)

// AppendAuditTx writes one audit record inside the caller's transaction so the
// record commits or rolls back with the entity write it describes.
func (r Repo) AppendAuditTx(ctx context.Context, tx *sql.Tx, rec domain.AuditRecord) error {
	if rec.CreatedAt == "" {
		rec.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	var actorKind, actorID any
	if rec.Actor != nil {
		actorKind = rec.Actor.Kind
		actorID = nullable(rec.Actor.ID)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_records(org_id,actor_kind,actor_id,action,entity_type,entity_id,before_json,after_json,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.OrgID, actorKind, actorID, rec.Action, rec.EntityType, rec.EntityID, nullableStringPtr(rec.Before), nullableStringPtr(rec.After), rec.CreatedAt)
	return err
}

func (r Repo) ListAudit(ctx context.Context, orgID, entityType, entityID string, afterID int64, limit int) ([]domain.AuditRecord, error) {
	query := `SELECT id,org_id,actor_kind,actor_id,action,entity_type,entity_id,before_json,after_json,created_at FROM audit_records WHERE org_id=?`
	args := []any{orgID}
	if entityType != "" {
		query += ` AND entity_type=?`
		args = append(args, entityType)
	}
	if entityID != "" {
		query += ` AND entity_id=?`
		args = append(args, entityID)
	}
	if afterID > 0 {
		query += ` AND id<?`
		args = append(args, afterID)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var actorKind, actorID, before, after sql.NullString
		if err := rows.Scan(&rec.ID, &rec.OrgID, &actorKind, &actorID, &rec.Action, &rec.EntityType, &rec.EntityID, &before, &after, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if actorKind.Valid {
			rec.Actor = &domain.Actor{Kind: domain.ActorKind(actorKind.String), ID: actorID.String}
		}
		rec.Before = strPtr(before)
		rec.After = strPtr(after)
		res = append(res, rec)
	}
	return res, rows.Err()
}

// AppendTimelineTx writes one timeline entry inside the caller's transaction.
// The actor credited is the proposal author, never the reviewer.
func (r Repo) AppendTimelineTx(ctx context.Context, tx *sql.Tx, e domain.TimelineEntry) error {
	if e.CreatedAt == "" {
		e.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO timeline_entries(org_id,property_id,entity_type,entity_id,actor_kind,actor_id,actor_label,actor_tool,actor_run,proposal_id,summary,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.OrgID, nullableStringPtr(e.PropertyID), e.EntityType, e.EntityID, e.Actor.Kind, nullable(e.Actor.ID), nullable(e.Actor.Label), nullable(e.Actor.Tool), nullable(e.Actor.RunID),
		nullableStringPtr(e.ProposalID), e.Summary, e.CreatedAt)
	return err
}

// ListTimeline returns entries newest first. afterID pages backwards; sinceID
// pages forwards and is what the stream poller uses.
func (r Repo) ListTimeline(ctx context.Context, orgID, propertyID string, afterID int64, limit int) ([]domain.TimelineEntry, error) {
	query := `SELECT id,org_id,property_id,entity_type,entity_id,actor_kind,actor_id,actor_label,actor_tool,actor_run,proposal_id,summary,created_at FROM timeline_entries WHERE org_id=?`
	args := []any{orgID}
	if propertyID != "" {
		query += ` AND property_id=?`
		args = append(args, propertyID)
	}
	if afterID > 0 {
		query += ` AND id<?`
		args = append(args, afterID)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return r.queryTimeline(ctx, query, args...)
}

// TimelineSince returns entries with id greater than sinceID, oldest first.
func (r Repo) TimelineSince(ctx context.Context, orgID string, sinceID int64, limit int) ([]domain.TimelineEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.queryTimeline(ctx, `SELECT id,org_id,property_id,entity_type,entity_id,actor_kind,actor_id,actor_label,actor_tool,actor_run,proposal_id,summary,created_at FROM timeline_entries WHERE org_id=? AND id>? ORDER BY id ASC LIMIT ?`,
		orgID, sinceID, limit)
}

func (r Repo) queryTimeline(ctx context.Context, query string, args ...any) ([]domain.TimelineEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimelineEntry
	for rows.Next() {
		var e domain.TimelineEntry
		var propertyID, actorID, actorLabel, actorTool, actorRun, proposalID sql.NullString
		if err := rows.Scan(&e.ID, &e.OrgID, &propertyID, &e.EntityType, &e.EntityID, &e.Actor.Kind, &actorID, &actorLabel, &actorTool, &actorRun, &proposalID, &e.Summary, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.PropertyID = strPtr(propertyID)
		e.Actor.ID = actorID.String
		e.Actor.Label = actorLabel.String
		e.Actor.Tool = actorTool.String
		e.Actor.RunID = actorRun.String
		e.ProposalID = strPtr(proposalID)
		res = append(res, e)
	}
	return res, rows.Err()
}

// InsertInvocation records one gateway call. Failures are the caller's to
// ignore: telemetry never fails a request.
func (r Repo) InsertInvocation(ctx context.Context, inv domain.ToolInvocation) error {
	if inv.CreatedAt == "" {
		inv.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tool_invocations(method,tool,caller_kind,caller_id,duration_ms,outcome,created_at) VALUES (?,?,?,?,?,?,?)`,
		inv.Method, nullable(inv.Tool), inv.CallerKind, nullable(inv.CallerID), inv.DurationMS, inv.Outcome, inv.CreatedAt)
	return err
}

func (r Repo) ListInvocations(ctx context.Context, limit int) ([]domain.ToolInvocation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,method,COALESCE(tool,''),caller_kind,COALESCE(caller_id,''),duration_ms,outcome,created_at FROM tool_invocations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ToolInvocation
	for rows.Next() {
		var inv domain.ToolInvocation
		if err := rows.Scan(&inv.ID, &inv.Method, &inv.Tool, &inv.CallerKind, &inv.CallerID, &inv.DurationMS, &inv.Outcome, &inv.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}
