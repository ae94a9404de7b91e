package store

import (
	"context"
	"database/sql"
	"errors"
)

const (
	RoleManagePricing = "manage_pricing"
	RoleViewAudit     = "view_audit"
	RoleOverride      = "ticket_override"
	RoleManageStaff   = "manage_staff"
)

// Roles lists every role a supervisor can be granted.
var Roles = []string{RoleManagePricing, RoleViewAudit, RoleOverride, RoleManageStaff}

// AdminStore tracks supervisors. Super admins pass every role check.
type AdminStore struct {
	db DB
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

// IsAdmin reports whether the operator is a supervisor and whether it is a
// super admin.
func (s *AdminStore) IsAdmin(ctx context.Context, operatorID string) (bool, bool, error) {
	var isSuper bool
	err := s.db.GetContext(ctx, &isSuper, `SELECT is_super FROM admins WHERE operator_id = $1`, operatorID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, false, nil
	case err != nil:
		return false, false, err
	}
	return true, isSuper, nil
}

func (s *AdminStore) HasRole(ctx context.Context, operatorID, role string) (bool, error) {
	var granted bool
	err := s.db.GetContext(ctx, &granted, `
		SELECT EXISTS (
			SELECT 1 FROM admin_roles
			WHERE admin_operator_id = $1 AND role = $2
		)
	`, operatorID, role)
	return granted, err
}

// ListRoles returns the explicit grants of a supervisor, sorted by name.
// Super admins usually have none.
func (s *AdminStore) ListRoles(ctx context.Context, operatorID string) ([]string, error) {
	roles := []string{}
	err := s.db.SelectContext(ctx, &roles, `
		SELECT role
		FROM admin_roles
		WHERE admin_operator_id = $1
		ORDER BY role
	`, operatorID)
	return roles, err
}

func (s *AdminStore) CreateAdmin(ctx context.Context, tx Execer, operatorID string, isSuper bool, createdBy *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admins (operator_id, is_super, created_by)
		VALUES ($1, $2, $3)
	`, operatorID, isSuper, createdBy)
	return err
}

// GrantRole is idempotent.
func (s *AdminStore) GrantRole(ctx context.Context, tx Execer, adminOperatorID, role string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admin_roles (admin_operator_id, role)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, adminOperatorID, role)
	return err
}

// RevokeRole reports whether a grant was removed.
func (s *AdminStore) RevokeRole(ctx context.Context, tx Execer, adminOperatorID, role string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM admin_roles
		WHERE admin_operator_id = $1 AND role = $2
	`, adminOperatorID, role)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *AdminStore) HasAnyAdmin(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM admins)`)
	return exists, err
}
