package auth

import (
	"context"
	"database/sql"
	"fmt"

	"steward/internal/config"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// MembershipError indicates the caller is not a member of the organization.
// It carries no hint about whether the organization exists.
type MembershipError struct {
	OrgID string
}

func (e MembershipError) Error() string {
	return fmt.Sprintf("not a member of organization %s", e.OrgID)
}

// Perm builds an action:entity:scope permission string.
func Perm(action, entity string) string {
	return action + ":" + entity + ":org"
}

// Service answers permission questions by joining an org_members row against
// the static role catalog from config. Membership is checked before anything
// touches entity tables, so non-members learn nothing about org contents.
type Service struct {
	DB    *sql.DB
	Roles *config.Config
}

// Role returns the caller's role in the org, or MembershipError.
func (s Service) Role(ctx context.Context, orgID, userID string) (string, error) {
	if userID == "" {
		return "", MembershipError{OrgID: orgID}
	}
	row := s.DB.QueryRowContext(ctx, `SELECT role FROM org_members WHERE org_id=? AND user_id=? LIMIT 1`, orgID, userID)
	var role string
	err := row.Scan(&role)
	if err == sql.ErrNoRows {
		return "", MembershipError{OrgID: orgID}
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// Require checks membership and then the permission. Callers pass the member's
// user ID for USER callers, or the configured caller ID for MCP connections.
func (s Service) Require(ctx context.Context, orgID, userID, perm string) error {
	role, err := s.Role(ctx, orgID, userID)
	if err != nil {
		return err
	}
	for _, p := range s.Roles.RolePermissions(role) {
		if p == perm {
			return nil
		}
	}
	return ForbiddenError{Permission: perm}
}

// Permissions lists the caller's full permission set in the org.
func (s Service) Permissions(ctx context.Context, orgID, userID string) ([]string, error) {
	role, err := s.Role(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	return s.Roles.RolePermissions(role), nil
}
