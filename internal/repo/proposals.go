package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"steward/internal/domain"
)

// ErrAlreadyResolved reports a status transition raced by another reviewer:
// the proposal was no longer PENDING when the guarded update ran.
var ErrAlreadyResolved = errors.New("proposal already resolved")

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

const proposalCols = `id,org_id,status,title,COALESCE(summary,''),reasoning,confidence,entity_type,target_id,operations_json,author_kind,author_id,author_label,author_tool,author_run,created_at,reviewer_id,reviewed_at,applied_at`

func scanProposal(row interface{ Scan(...any) error }) (domain.Proposal, error) {
	var p domain.Proposal
	var confidence sql.NullFloat64
	var targetID, authorID, authorLabel, authorTool, authorRun, reviewerID, reviewedAt, appliedAt sql.NullString
	var opsJSON string
	err := row.Scan(&p.ID, &p.OrgID, &p.Status, &p.Title, &p.Summary, &p.Reasoning, &confidence, &p.EntityType, &targetID, &opsJSON,
		&p.Author.Kind, &authorID, &authorLabel, &authorTool, &authorRun, &p.CreatedAt, &reviewerID, &reviewedAt, &appliedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Confidence = floatPtr(confidence)
	p.TargetID = strPtr(targetID)
	p.Author.ID = authorID.String
	p.Author.Label = authorLabel.String
	p.Author.Tool = authorTool.String
	p.Author.RunID = authorRun.String
	p.ReviewerID = strPtr(reviewerID)
	p.ReviewedAt = strPtr(reviewedAt)
	p.AppliedAt = strPtr(appliedAt)
	if err := json.Unmarshal([]byte(opsJSON), &p.Operations); err != nil {
		return p, err
	}
	return p, nil
}

func (r Repo) InsertProposal(ctx context.Context, p domain.Proposal) error {
	ops, err := marshalJSON(p.Operations)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO proposals(id,org_id,status,title,summary,reasoning,confidence,entity_type,target_id,operations_json,author_kind,author_id,author_label,author_tool,author_run,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.Status, p.Title, nullable(p.Summary), p.Reasoning, nullableFloatPtr(p.Confidence), p.EntityType, nullableStringPtr(p.TargetID), ops,
		p.Author.Kind, nullable(p.Author.ID), nullable(p.Author.Label), nullable(p.Author.Tool), nullable(p.Author.RunID), p.CreatedAt)
	return err
}

func (r Repo) GetProposal(ctx context.Context, orgID, id string) (domain.Proposal, error) {
	return scanProposal(r.DB.QueryRowContext(ctx, `SELECT `+proposalCols+` FROM proposals WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) GetProposalTx(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.Proposal, error) {
	return scanProposal(tx.QueryRowContext(ctx, `SELECT `+proposalCols+` FROM proposals WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) ListProposals(ctx context.Context, orgID, status string, page ListPage) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalCols + ` FROM proposals WHERE org_id=?`
	args := []any{orgID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	if page.Cursor != "" {
		query += ` AND (created_at,id) < (SELECT created_at,id FROM proposals WHERE id=?)`
		args = append(args, page.Cursor)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, page.limit())
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// MarkAppliedTx flips PENDING -> APPLIED. The status guard in the WHERE clause
// is the concurrency control: a zero row count means some other reviewer
// resolved the proposal first, and the caller must roll back everything it
// wrote in this transaction.
func (r Repo) MarkAppliedTx(ctx context.Context, tx *sql.Tx, orgID, id, reviewerID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE proposals SET status=?,reviewer_id=?,reviewed_at=?,applied_at=? WHERE org_id=? AND id=? AND status=?`,
		domain.ProposalApplied, reviewerID, now, now, orgID, id, domain.ProposalPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// MarkRejectedTx flips PENDING -> REJECTED under the same status guard.
func (r Repo) MarkRejectedTx(ctx context.Context, tx *sql.Tx, orgID, id, reviewerID, reason, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE proposals SET status=?,reviewer_id=?,reviewed_at=?,summary=CASE WHEN ?='' THEN summary ELSE COALESCE(summary,'') || ? END WHERE org_id=? AND id=? AND status=?`,
		domain.ProposalRejected, reviewerID, now, reason, rejectionSuffix(reason), orgID, id, domain.ProposalPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

func rejectionSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return "\nRejected: " + reason
}
