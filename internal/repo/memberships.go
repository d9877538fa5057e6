package repo

import (
	"context"
	"database/sql"

	"steward/internal/domain"
)

func (r Repo) InsertOrganization(ctx context.Context, o domain.Organization) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO organizations(id,name,created_at) VALUES (?,?,?)`,
		o.ID, o.Name, o.CreatedAt)
	return err
}

func (r Repo) GetOrganization(ctx context.Context, id string) (domain.Organization, error) {
	var o domain.Organization
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM organizations WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

// ListOrganizationsFor returns the orgs a user belongs to. An empty userID
// lists all orgs, which only the CLI admin surface uses.
func (r Repo) ListOrganizationsFor(ctx context.Context, userID string) ([]domain.Organization, error) {
	query := `SELECT id,name,created_at FROM organizations ORDER BY created_at DESC`
	args := []any{}
	if userID != "" {
		query = `SELECT o.id,o.name,o.created_at FROM organizations o JOIN org_members m ON m.org_id=o.id WHERE m.user_id=? ORDER BY o.created_at DESC`
		args = append(args, userID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) UpsertMembership(ctx context.Context, m domain.Membership) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO org_members(org_id,user_id,role,created_at) VALUES (?,?,?,?) ON CONFLICT(org_id,user_id) DO UPDATE SET role=excluded.role`,
		m.OrgID, m.UserID, m.Role, m.CreatedAt)
	return err
}

// GetMembership returns ErrNotFound for non-members; callers translate that
// into a forbidden error, not a missing-org one.
func (r Repo) GetMembership(ctx context.Context, orgID, userID string) (domain.Membership, error) {
	var m domain.Membership
	err := r.DB.QueryRowContext(ctx, `SELECT org_id,user_id,role,created_at FROM org_members WHERE org_id=? AND user_id=?`, orgID, userID).
		Scan(&m.OrgID, &m.UserID, &m.Role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListMemberships(ctx context.Context, orgID string) ([]domain.Membership, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT org_id,user_id,role,created_at FROM org_members WHERE org_id=? ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) DeleteMembership(ctx context.Context, orgID, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM org_members WHERE org_id=? AND user_id=?`, orgID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
