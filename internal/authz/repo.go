package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-config/meridian/internal/platform/db"
	"github.com/meridian-config/meridian/internal/rolekey"
	"github.com/meridian-config/meridian/internal/shared"
)

// TxRepository exposes the write operations that must run inside one
// transaction. Every multi-row write in the store is all-or-nothing.
type TxRepository interface {
	InsertPermission(ctx context.Context, p Permission) (Permission, error)
	InsertRole(ctx context.Context, r Role) (Role, error)
	InsertRolePermissions(ctx context.Context, joins []RolePermission) error
	InsertUserRoles(ctx context.Context, joins []UserRole) error
	SoftDeleteUserRoles(ctx context.Context, roleID int64, userIDs []string, operator string) error
	SoftDeletePermissions(ctx context.Context, ids []int64, operator string) error
	SoftDeleteRolePermissionsByPermissionIDs(ctx context.Context, permissionIDs []int64, operator string) error
	SoftDeleteRoles(ctx context.Context, ids []int64, operator string) error
	SoftDeleteUserRolesByRoleIDs(ctx context.Context, roleIDs []int64, operator string) error
	SoftDeleteConsumerRolesByRoleIDs(ctx context.Context, roleIDs []int64, operator string) error
}

// Repository defines persistence operations for the authorization entities.
// No other component writes these tables.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	FindRoleByName(ctx context.Context, roleName string) (*Role, error)
	FindRolesByIDs(ctx context.Context, ids []int64) ([]Role, error)
	FindPermission(ctx context.Context, permissionType rolekey.PermissionType, targetID string) (*Permission, error)
	FindPermissionsByTypesAndTarget(ctx context.Context, permissionTypes []rolekey.PermissionType, targetID string) ([]Permission, error)
	FindUserRolesByUserID(ctx context.Context, userID string) ([]UserRole, error)
	FindUserRolesByRoleID(ctx context.Context, roleID int64) ([]UserRole, error)
	FindUserRolesByUserIDsAndRoleID(ctx context.Context, userIDs []string, roleID int64) ([]UserRole, error)
	FindRolePermissionsByRoleIDs(ctx context.Context, roleIDs []int64) ([]RolePermission, error)
	FindPermissionIDsByAppID(ctx context.Context, appID string) ([]int64, error)
	FindPermissionIDsByAppIDAndNamespace(ctx context.Context, appID, namespaceName string) ([]int64, error)
	FindRoleIDsByAppID(ctx context.Context, appID string) ([]int64, error)
	FindRoleIDsByAppIDAndNamespace(ctx context.Context, appID, namespaceName string) ([]int64, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
	q    querier
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, q: pool}
}

// WithTx runs fn against a transaction-scoped repository. The unique indexes
// on role_name and (permission_type, target_id) remain the final authority
// behind every check-then-create; violations surface as shared.ErrConflict.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{pool: r.pool, q: tx})
	})
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, shared.ErrConflict)
	}
	return err
}

func (r *PGRepository) InsertPermission(ctx context.Context, p Permission) (Permission, error) {
	now := time.Now().UTC()
	const query = `
		INSERT INTO permissions (permission_type, target_id, created_by, created_at, modified_by, modified_at)
		VALUES ($1, $2, $3, $4, $3, $4)
		RETURNING id`
	if err := r.q.QueryRow(ctx, query, string(p.Type), p.TargetID, p.CreatedBy, now).Scan(&p.ID); err != nil {
		return Permission{}, mapUnique(err)
	}
	p.CreatedAt = now
	p.ModifiedBy = p.CreatedBy
	p.ModifiedAt = now
	return p, nil
}

func (r *PGRepository) InsertRole(ctx context.Context, role Role) (Role, error) {
	now := time.Now().UTC()
	const query = `
		INSERT INTO roles (role_name, created_by, created_at, modified_by, modified_at)
		VALUES ($1, $2, $3, $2, $3)
		RETURNING id`
	if err := r.q.QueryRow(ctx, query, role.Name, role.CreatedBy, now).Scan(&role.ID); err != nil {
		return Role{}, mapUnique(err)
	}
	role.CreatedAt = now
	role.ModifiedBy = role.CreatedBy
	role.ModifiedAt = now
	return role, nil
}

func (r *PGRepository) InsertRolePermissions(ctx context.Context, joins []RolePermission) error {
	const query = `
		INSERT INTO role_permissions (role_id, permission_id, created_by, created_at, modified_by, modified_at)
		VALUES ($1, $2, $3, $4, $3, $4)`
	now := time.Now().UTC()
	for _, j := range joins {
		if _, err := r.q.Exec(ctx, query, j.RoleID, j.PermissionID, j.CreatedBy, now); err != nil {
			return mapUnique(err)
		}
	}
	return nil
}

func (r *PGRepository) InsertUserRoles(ctx context.Context, joins []UserRole) error {
	const query = `
		INSERT INTO user_roles (user_id, role_id, created_by, created_at, modified_by, modified_at)
		VALUES ($1, $2, $3, $4, $3, $4)`
	now := time.Now().UTC()
	for _, j := range joins {
		if _, err := r.q.Exec(ctx, query, j.UserID, j.RoleID, j.CreatedBy, now); err != nil {
			return mapUnique(err)
		}
	}
	return nil
}

func (r *PGRepository) SoftDeleteUserRoles(ctx context.Context, roleID int64, userIDs []string, operator string) error {
	const query = `
		UPDATE user_roles
		SET deleted = TRUE, modified_by = $3, modified_at = $4
		WHERE role_id = $1 AND user_id = ANY($2) AND NOT deleted`
	_, err := r.q.Exec(ctx, query, roleID, userIDs, operator, time.Now().UTC())
	return err
}

func (r *PGRepository) SoftDeletePermissions(ctx context.Context, ids []int64, operator string) error {
	return r.softDeleteByIDs(ctx, "permissions", "id", ids, operator)
}

func (r *PGRepository) SoftDeleteRolePermissionsByPermissionIDs(ctx context.Context, permissionIDs []int64, operator string) error {
	return r.softDeleteByIDs(ctx, "role_permissions", "permission_id", permissionIDs, operator)
}

func (r *PGRepository) SoftDeleteRoles(ctx context.Context, ids []int64, operator string) error {
	return r.softDeleteByIDs(ctx, "roles", "id", ids, operator)
}

func (r *PGRepository) SoftDeleteUserRolesByRoleIDs(ctx context.Context, roleIDs []int64, operator string) error {
	return r.softDeleteByIDs(ctx, "user_roles", "role_id", roleIDs, operator)
}

func (r *PGRepository) SoftDeleteConsumerRolesByRoleIDs(ctx context.Context, roleIDs []int64, operator string) error {
	return r.softDeleteByIDs(ctx, "consumer_roles", "role_id", roleIDs, operator)
}

func (r *PGRepository) softDeleteByIDs(ctx context.Context, table, column string, ids []int64, operator string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET deleted = TRUE, modified_by = $2, modified_at = $3
		WHERE %s = ANY($1) AND NOT deleted`, table, column)
	_, err := r.q.Exec(ctx, query, ids, operator, time.Now().UTC())
	return err
}

func (r *PGRepository) FindRoleByName(ctx context.Context, roleName string) (*Role, error) {
	const query = `
		SELECT id, role_name, created_by, created_at, modified_by, modified_at
		FROM roles
		WHERE role_name = $1 AND NOT deleted
		LIMIT 1`
	var role Role
	err := r.q.QueryRow(ctx, query, roleName).
		Scan(&role.ID, &role.Name, &role.CreatedBy, &role.CreatedAt, &role.ModifiedBy, &role.ModifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

func (r *PGRepository) FindRolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `
		SELECT id, role_name, created_by, created_at, modified_by, modified_at
		FROM roles
		WHERE id = ANY($1) AND NOT deleted
		ORDER BY role_name`
	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedBy, &role.CreatedAt, &role.ModifiedBy, &role.ModifiedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *PGRepository) FindPermission(ctx context.Context, permissionType rolekey.PermissionType, targetID string) (*Permission, error) {
	const query = `
		SELECT id, permission_type, target_id, created_by, created_at, modified_by, modified_at
		FROM permissions
		WHERE permission_type = $1 AND target_id = $2 AND NOT deleted
		LIMIT 1`
	var p Permission
	var permType string
	err := r.q.QueryRow(ctx, query, string(permissionType), targetID).
		Scan(&p.ID, &permType, &p.TargetID, &p.CreatedBy, &p.CreatedAt, &p.ModifiedBy, &p.ModifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	p.Type = rolekey.PermissionType(permType)
	return &p, nil
}

func (r *PGRepository) FindPermissionsByTypesAndTarget(ctx context.Context, permissionTypes []rolekey.PermissionType, targetID string) ([]Permission, error) {
	if len(permissionTypes) == 0 {
		return nil, nil
	}
	types := make([]string, len(permissionTypes))
	for i, t := range permissionTypes {
		types[i] = string(t)
	}
	const query = `
		SELECT id, permission_type, target_id, created_by, created_at, modified_by, modified_at
		FROM permissions
		WHERE permission_type = ANY($1) AND target_id = $2 AND NOT deleted`
	rows, err := r.q.Query(ctx, query, types, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		var permType string
		if err := rows.Scan(&p.ID, &permType, &p.TargetID, &p.CreatedBy, &p.CreatedAt, &p.ModifiedBy, &p.ModifiedAt); err != nil {
			return nil, err
		}
		p.Type = rolekey.PermissionType(permType)
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *PGRepository) FindUserRolesByUserID(ctx context.Context, userID string) ([]UserRole, error) {
	const query = `
		SELECT id, user_id, role_id, created_by, created_at, modified_by, modified_at
		FROM user_roles
		WHERE user_id = $1 AND NOT deleted`
	return r.queryUserRoles(ctx, query, userID)
}

func (r *PGRepository) FindUserRolesByRoleID(ctx context.Context, roleID int64) ([]UserRole, error) {
	const query = `
		SELECT id, user_id, role_id, created_by, created_at, modified_by, modified_at
		FROM user_roles
		WHERE role_id = $1 AND NOT deleted`
	return r.queryUserRoles(ctx, query, roleID)
}

func (r *PGRepository) FindUserRolesByUserIDsAndRoleID(ctx context.Context, userIDs []string, roleID int64) ([]UserRole, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	const query = `
		SELECT id, user_id, role_id, created_by, created_at, modified_by, modified_at
		FROM user_roles
		WHERE user_id = ANY($1) AND role_id = $2 AND NOT deleted`
	return r.queryUserRoles(ctx, query, userIDs, roleID)
}

func (r *PGRepository) queryUserRoles(ctx context.Context, query string, args ...any) ([]UserRole, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var joins []UserRole
	for rows.Next() {
		var j UserRole
		if err := rows.Scan(&j.ID, &j.UserID, &j.RoleID, &j.CreatedBy, &j.CreatedAt, &j.ModifiedBy, &j.ModifiedAt); err != nil {
			return nil, err
		}
		joins = append(joins, j)
	}
	return joins, rows.Err()
}

func (r *PGRepository) FindRolePermissionsByRoleIDs(ctx context.Context, roleIDs []int64) ([]RolePermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	const query = `
		SELECT id, role_id, permission_id, created_by, created_at, modified_by, modified_at
		FROM role_permissions
		WHERE role_id = ANY($1) AND NOT deleted`
	rows, err := r.q.Query(ctx, query, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var joins []RolePermission
	for rows.Next() {
		var j RolePermission
		if err := rows.Scan(&j.ID, &j.RoleID, &j.PermissionID, &j.CreatedBy, &j.CreatedAt, &j.ModifiedBy, &j.ModifiedAt); err != nil {
			return nil, err
		}
		joins = append(joins, j)
	}
	return joins, rows.Err()
}

// FindPermissionIDsByAppID matches permissions whose target is the
// application itself or any scope underneath it.
func (r *PGRepository) FindPermissionIDsByAppID(ctx context.Context, appID string) ([]int64, error) {
	const query = `
		SELECT id FROM permissions
		WHERE (target_id = $1 OR target_id LIKE $1 || '+%') AND NOT deleted`
	return r.queryIDs(ctx, query, appID)
}

func (r *PGRepository) FindPermissionIDsByAppIDAndNamespace(ctx context.Context, appID, namespaceName string) ([]int64, error) {
	target := rolekey.NamespaceScope(appID, namespaceName).TargetID()
	const query = `
		SELECT id FROM permissions
		WHERE (target_id = $1 OR target_id LIKE $1 || '+%') AND NOT deleted`
	return r.queryIDs(ctx, query, target)
}

// FindRoleIDsByAppID matches every role name shape the provisioning service
// creates for an application.
func (r *PGRepository) FindRoleIDsByAppID(ctx context.Context, appID string) ([]int64, error) {
	const query = `
		SELECT id FROM roles
		WHERE (role_name = $1 OR role_name = $2 OR role_name LIKE $3 || '+%' OR role_name LIKE $4 || '+%')
		  AND NOT deleted`
	return r.queryIDs(ctx, query,
		rolekey.AppMasterRoleName(appID),
		rolekey.ManageAppMasterRoleName(appID),
		rolekey.RoleName(rolekey.RoleModifyNamespace, rolekey.AppScope(appID)),
		rolekey.RoleName(rolekey.RoleReleaseNamespace, rolekey.AppScope(appID)))
}

func (r *PGRepository) FindRoleIDsByAppIDAndNamespace(ctx context.Context, appID, namespaceName string) ([]int64, error) {
	scope := rolekey.NamespaceScope(appID, namespaceName)
	modify := rolekey.RoleName(rolekey.RoleModifyNamespace, scope)
	release := rolekey.RoleName(rolekey.RoleReleaseNamespace, scope)
	const query = `
		SELECT id FROM roles
		WHERE (role_name = $1 OR role_name = $2 OR role_name LIKE $1 || '+%' OR role_name LIKE $2 || '+%')
		  AND NOT deleted`
	return r.queryIDs(ctx, query, modify, release)
}

func (r *PGRepository) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
var _ TxRepository = (*PGRepository)(nil)
