package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-config/meridian/internal/rolekey"
	"github.com/meridian-config/meridian/internal/shared"
)

// Service owns the four authorization entities. All writes go through it;
// every multi-row write runs inside one transaction.
type Service struct {
	repo        Repository
	superAdmins SuperAdminList
	logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, superAdmins SuperAdminList, logger *slog.Logger) *Service {
	return &Service{repo: repo, superAdmins: superAdmins, logger: logger}
}

// CreatePermission persists a permission. The (type, targetId) pair must not
// exist yet.
func (s *Service) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	current, err := s.repo.FindPermission(ctx, p.Type, p.TargetID)
	if err != nil && !isNotFound(err) {
		return Permission{}, err
	}
	if current != nil {
		return Permission{}, fmt.Errorf("permission %s for target %s already exists: %w", p.Type, p.TargetID, shared.ErrConflict)
	}

	var created Permission
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err = tx.InsertPermission(ctx, p)
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	return created, nil
}

// CreatePermissions persists a batch of permissions. The requested types are
// validated per target across the whole batch before anything is written; the
// store's unique constraint remains the final authority under concurrency.
func (s *Service) CreatePermissions(ctx context.Context, perms []Permission) ([]Permission, error) {
	byTarget := make(map[string][]rolekey.PermissionType)
	for _, p := range perms {
		byTarget[p.TargetID] = append(byTarget[p.TargetID], p.Type)
	}
	for targetID, types := range byTarget {
		existing, err := s.repo.FindPermissionsByTypesAndTarget(ctx, types, targetID)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return nil, fmt.Errorf("permission %s for target %s already exists: %w", existing[0].Type, targetID, shared.ErrConflict)
		}
	}

	created := make([]Permission, 0, len(perms))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, p := range perms {
			saved, err := tx.InsertPermission(ctx, p)
			if err != nil {
				return err
			}
			created = append(created, saved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateRoleWithPermissions persists a role and one join row per permission
// id. The role name must not exist yet.
func (s *Service) CreateRoleWithPermissions(ctx context.Context, role Role, permissionIDs []int64) (Role, error) {
	current, err := s.repo.FindRoleByName(ctx, role.Name)
	if err != nil && !isNotFound(err) {
		return Role{}, err
	}
	if current != nil {
		return Role{}, fmt.Errorf("role %s already exists: %w", role.Name, shared.ErrConflict)
	}

	var created Role
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err = tx.InsertRole(ctx, role)
		if err != nil {
			return err
		}
		if len(permissionIDs) == 0 {
			return nil
		}
		joins := make([]RolePermission, 0, len(permissionIDs))
		for _, pid := range permissionIDs {
			joins = append(joins, RolePermission{
				RoleID:       created.ID,
				PermissionID: pid,
				Audit:        Audit{CreatedBy: role.CreatedBy, ModifiedBy: role.ModifiedBy},
			})
		}
		return tx.InsertRolePermissions(ctx, joins)
	})
	if err != nil {
		return Role{}, err
	}
	return created, nil
}

// AssignRoleToUsers grants the role to every requested user that does not
// already hold it and returns the set of users newly granted. Re-assigning an
// already held role is a silent no-op for that user.
func (s *Service) AssignRoleToUsers(ctx context.Context, roleName string, userIDs []string, operator string) ([]string, error) {
	role, err := s.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("role %s does not exist: %w", roleName, shared.ErrNotFound)
		}
		return nil, err
	}

	requested := dedupe(userIDs)
	existing, err := s.repo.FindUserRolesByUserIDsAndRoleID(ctx, requested, role.ID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]struct{}, len(existing))
	for _, ur := range existing {
		held[ur.UserID] = struct{}{}
	}

	toAssign := make([]string, 0, len(requested))
	for _, userID := range requested {
		if _, ok := held[userID]; !ok {
			toAssign = append(toAssign, userID)
		}
	}
	if len(toAssign) == 0 {
		return nil, nil
	}

	joins := make([]UserRole, 0, len(toAssign))
	for _, userID := range toAssign {
		joins = append(joins, UserRole{
			UserID: userID,
			RoleID: role.ID,
			Audit:  Audit{CreatedBy: operator, ModifiedBy: operator},
		})
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertUserRoles(ctx, joins)
	}); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("role assigned",
			slog.String("role", roleName),
			slog.Int("users", len(toAssign)),
			slog.String("operator", operator))
	}
	return toAssign, nil
}

// RemoveRoleFromUsers marks the matching join rows as removed. The removal is
// logical; the rows stay for auditing.
func (s *Service) RemoveRoleFromUsers(ctx context.Context, roleName string, userIDs []string, operator string) error {
	role, err := s.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("role %s does not exist: %w", roleName, shared.ErrNotFound)
		}
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SoftDeleteUserRoles(ctx, role.ID, dedupe(userIDs), operator)
	})
}

// QueryUsersWithRole returns the ids of every user holding the role. An
// unknown role yields an empty set, not an error.
func (s *Service) QueryUsersWithRole(ctx context.Context, roleName string) ([]string, error) {
	role, err := s.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	joins, err := s.repo.FindUserRolesByRoleID(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(joins))
	seen := make(map[string]struct{}, len(joins))
	for _, j := range joins {
		if _, ok := seen[j.UserID]; ok {
			continue
		}
		seen[j.UserID] = struct{}{}
		users = append(users, j.UserID)
	}
	return users, nil
}

// FindPermission fetches a permission by its unique (type, targetId) pair.
func (s *Service) FindPermission(ctx context.Context, permissionType rolekey.PermissionType, targetID string) (*Permission, error) {
	return s.repo.FindPermission(ctx, permissionType, targetID)
}

// FindRoleByName fetches a role by its unique name.
func (s *Service) FindRoleByName(ctx context.Context, roleName string) (*Role, error) {
	return s.repo.FindRoleByName(ctx, roleName)
}

// FindUserRoles returns every role held by the user.
func (s *Service) FindUserRoles(ctx context.Context, userID string) ([]Role, error) {
	joins, err := s.repo.FindUserRolesByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(joins) == 0 {
		return nil, nil
	}
	roleIDs := make([]int64, 0, len(joins))
	for _, j := range joins {
		roleIDs = append(roleIDs, j.RoleID)
	}
	return s.repo.FindRolesByIDs(ctx, roleIDs)
}

// UserHasPermission reports whether the user may perform the operation on the
// target. An unresolvable target never grants access; super-admins bypass the
// role walk entirely.
func (s *Service) UserHasPermission(ctx context.Context, userID string, permissionType rolekey.PermissionType, targetID string) (bool, error) {
	permission, err := s.repo.FindPermission(ctx, permissionType, targetID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if s.IsSuperAdmin(userID) {
		return true, nil
	}

	userRoles, err := s.repo.FindUserRolesByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(userRoles) == 0 {
		return false, nil
	}

	roleIDs := make([]int64, 0, len(userRoles))
	for _, ur := range userRoles {
		roleIDs = append(roleIDs, ur.RoleID)
	}
	rolePermissions, err := s.repo.FindRolePermissionsByRoleIDs(ctx, roleIDs)
	if err != nil {
		return false, err
	}
	for _, rp := range rolePermissions {
		if rp.PermissionID == permission.ID {
			return true, nil
		}
	}
	return false, nil
}

// IsSuperAdmin reports whether the user is on the configured allow-list.
func (s *Service) IsSuperAdmin(userID string) bool {
	for _, admin := range s.superAdmins.SuperAdmins() {
		if admin == userID {
			return true
		}
	}
	return false
}

// DeleteRolePermissionsByAppID removes every authorization entity scoped to
// the application. Permissions and their join rows go first, then roles and
// everything referencing them, so no step leaves a dangling reference.
func (s *Service) DeleteRolePermissionsByAppID(ctx context.Context, appID, operator string) error {
	permissionIDs, err := s.repo.FindPermissionIDsByAppID(ctx, appID)
	if err != nil {
		return err
	}
	roleIDs, err := s.repo.FindRoleIDsByAppID(ctx, appID)
	if err != nil {
		return err
	}
	return s.deleteScoped(ctx, permissionIDs, roleIDs, operator)
}

// DeleteRolePermissionsByAppIDAndNamespace removes every authorization entity
// scoped to one namespace of the application.
func (s *Service) DeleteRolePermissionsByAppIDAndNamespace(ctx context.Context, appID, namespaceName, operator string) error {
	permissionIDs, err := s.repo.FindPermissionIDsByAppIDAndNamespace(ctx, appID, namespaceName)
	if err != nil {
		return err
	}
	roleIDs, err := s.repo.FindRoleIDsByAppIDAndNamespace(ctx, appID, namespaceName)
	if err != nil {
		return err
	}
	return s.deleteScoped(ctx, permissionIDs, roleIDs, operator)
}

func (s *Service) deleteScoped(ctx context.Context, permissionIDs, roleIDs []int64, operator string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if len(permissionIDs) > 0 {
			if err := tx.SoftDeletePermissions(ctx, permissionIDs, operator); err != nil {
				return err
			}
			if err := tx.SoftDeleteRolePermissionsByPermissionIDs(ctx, permissionIDs, operator); err != nil {
				return err
			}
		}
		if len(roleIDs) > 0 {
			if err := tx.SoftDeleteRoles(ctx, roleIDs, operator); err != nil {
				return err
			}
			if err := tx.SoftDeleteUserRolesByRoleIDs(ctx, roleIDs, operator); err != nil {
				return err
			}
			if err := tx.SoftDeleteConsumerRolesByRoleIDs(ctx, roleIDs, operator); err != nil {
				return err
			}
		}
		return nil
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
