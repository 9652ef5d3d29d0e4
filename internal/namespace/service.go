// Package namespace governs app namespace registration: the naming
// transform, the public/private uniqueness rules, and the role provisioning
// cascade that follows a successful registration.
package namespace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/meridian-config/meridian/internal/registry"
	"github.com/meridian-config/meridian/internal/rolekey"
	"github.com/meridian-config/meridian/internal/shared"
)

// privateCollisionDisclosureLimit bounds how many offending application ids a
// public-vs-private conflict message enumerates.
const privateCollisionDisclosureLimit = 5

// Provisioner creates the namespace-scoped roles after registration.
type Provisioner interface {
	InitNamespaceRoles(ctx context.Context, appID, namespaceName, operator string) error
	InitNamespaceEnvRoles(ctx context.Context, appID, namespaceName, operator string) error
}

// RoleCleaner removes the authorization entities scoped to a deleted
// namespace.
type RoleCleaner interface {
	DeleteRolePermissionsByAppIDAndNamespace(ctx context.Context, appID, namespaceName, operator string) error
}

// UserHolder yields the authenticated user for the current request.
type UserHolder interface {
	CurrentUser(ctx context.Context) string
}

// Service registers and removes app namespaces.
type Service struct {
	repo        Repository
	apps        registry.AppLoader
	provisioner Provisioner
	roles       RoleCleaner
	users       UserHolder
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, apps registry.AppLoader, provisioner Provisioner, roles RoleCleaner, users UserHolder, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		apps:        apps,
		provisioner: provisioner,
		roles:       roles,
		users:       users,
		validate:    validator.New(),
		logger:      logger,
	}
}

// FindPublic returns the public namespace with the given name, if any.
func (s *Service) FindPublic(ctx context.Context, name string) (*AppNamespace, error) {
	namespaces, err := s.repo.FindByNameAndIsPublic(ctx, name, true)
	if err != nil {
		return nil, err
	}
	if len(namespaces) == 0 {
		return nil, nil
	}
	return &namespaces[0], nil
}

// FindByAppIDAndName fetches one namespace of an application.
func (s *Service) FindByAppIDAndName(ctx context.Context, appID, name string) (*AppNamespace, error) {
	return s.repo.FindByAppIDAndName(ctx, appID, name)
}

// FindByAppID lists all namespaces of an application.
func (s *Service) FindByAppID(ctx context.Context, appID string) ([]AppNamespace, error) {
	return s.repo.FindByAppID(ctx, appID)
}

// IsNameUnique reports whether the application has no namespace with the
// given name yet.
func (s *Service) IsNameUnique(ctx context.Context, appID, name string) (bool, error) {
	existing, err := s.repo.FindByAppIDAndName(ctx, appID, name)
	if err != nil && !isNotFound(err) {
		return false, err
	}
	return existing == nil, nil
}

// CreateDefault registers the default namespace a new application starts
// with.
func (s *Service) CreateDefault(ctx context.Context, appID string) error {
	unique, err := s.IsNameUnique(ctx, appID, rolekey.DefaultNamespace)
	if err != nil {
		return err
	}
	if !unique {
		return fmt.Errorf("app %s already has its default namespace: %w", appID, shared.ErrConflict)
	}

	operator := s.users.CurrentUser(ctx)
	_, err = s.repo.Insert(ctx, AppNamespace{
		AppID:   appID,
		Name:    rolekey.DefaultNamespace,
		Comment: "default app namespace",
		Format:  FormatProperties,
		Audit:   shared.Audit{CreatedBy: operator, ModifiedBy: operator},
	})
	return err
}

// CreateInLocal registers a namespace after applying the naming transform and
// the uniqueness rules, then provisions its roles. When appendPrefix is set,
// a public namespace name is prefixed with the owning organization's id.
func (s *Service) CreateInLocal(ctx context.Context, ns AppNamespace, appendPrefix bool) (AppNamespace, error) {
	app, err := s.apps.LoadApp(ctx, ns.AppID)
	if err != nil {
		if isNotFound(err) {
			return AppNamespace{}, fmt.Errorf("app %s does not exist: %w", ns.AppID, shared.ErrNotFound)
		}
		return AppNamespace{}, err
	}

	format, err := ParseFormat(string(ns.Format))
	if err != nil {
		return AppNamespace{}, err
	}
	ns.Format = format

	// The stored name is final before any uniqueness check runs.
	ns.Name = storedName(app.OrgID, ns.Name, format, ns.IsPublic && appendPrefix)

	if err := s.validate.Struct(ns); err != nil {
		return AppNamespace{}, fmt.Errorf("%s: %w", err, shared.ErrValidation)
	}

	operator := ns.CreatedBy
	if operator == "" {
		operator = s.users.CurrentUser(ctx)
		ns.CreatedBy = operator
	}
	ns.ModifiedBy = operator

	if ns.IsPublic {
		if err := s.checkGlobalUniqueness(ctx, ns.Name); err != nil {
			return AppNamespace{}, err
		}
	} else {
		existing, err := s.repo.FindByAppIDAndName(ctx, ns.AppID, ns.Name)
		if err != nil && !isNotFound(err) {
			return AppNamespace{}, err
		}
		if existing != nil {
			return AppNamespace{}, fmt.Errorf("private namespace %s already exists in app %s: %w", ns.Name, ns.AppID, shared.ErrConflict)
		}
		if err := s.checkPublicUniqueness(ctx, ns.Name); err != nil {
			return AppNamespace{}, err
		}
	}

	created, err := s.repo.Insert(ctx, ns)
	if err != nil {
		return AppNamespace{}, err
	}

	if err := s.provisioner.InitNamespaceRoles(ctx, created.AppID, created.Name, operator); err != nil {
		return AppNamespace{}, err
	}
	if err := s.provisioner.InitNamespaceEnvRoles(ctx, created.AppID, created.Name, operator); err != nil {
		return AppNamespace{}, err
	}

	if s.logger != nil {
		s.logger.Info("namespace registered",
			slog.String("app", created.AppID),
			slog.String("namespace", created.Name),
			slog.Bool("public", created.IsPublic))
	}
	return created, nil
}

// Delete removes a namespace and every role and permission scoped to it.
func (s *Service) Delete(ctx context.Context, appID, name string) (AppNamespace, error) {
	existing, err := s.repo.FindByAppIDAndName(ctx, appID, name)
	if err != nil {
		if isNotFound(err) {
			return AppNamespace{}, fmt.Errorf("namespace %s does not exist in app %s: %w", name, appID, shared.ErrNotFound)
		}
		return AppNamespace{}, err
	}

	operator := s.users.CurrentUser(ctx)
	if err := s.repo.SoftDelete(ctx, appID, name, operator); err != nil {
		return AppNamespace{}, err
	}
	if err := s.roles.DeleteRolePermissionsByAppIDAndNamespace(ctx, appID, name, operator); err != nil {
		return AppNamespace{}, err
	}
	return *existing, nil
}

// DeleteByAppID removes every namespace of a deleted application.
func (s *Service) DeleteByAppID(ctx context.Context, appID, operator string) error {
	return s.repo.SoftDeleteByAppID(ctx, appID, operator)
}

// checkGlobalUniqueness enforces rule (a): a public candidate must not exist
// as a public namespace anywhere nor as a private namespace in any
// application.
func (s *Service) checkGlobalUniqueness(ctx context.Context, name string) error {
	if err := s.checkPublicUniqueness(ctx, name); err != nil {
		return err
	}

	private, err := s.repo.FindByNameAndIsPublic(ctx, name, false)
	if err != nil {
		return err
	}
	if len(private) == 0 {
		return nil
	}

	// Bounded disclosure: name at most a handful of the offending apps.
	appIDs := make([]string, 0, privateCollisionDisclosureLimit)
	seen := make(map[string]struct{})
	for _, ns := range private {
		if _, ok := seen[ns.AppID]; ok {
			continue
		}
		seen[ns.AppID] = struct{}{}
		appIDs = append(appIDs, ns.AppID)
		if len(appIDs) == privateCollisionDisclosureLimit {
			break
		}
	}
	return fmt.Errorf("public namespace %s already exists as private namespace in apps %s, etc. please select another name: %w",
		name, strings.Join(appIDs, ","), shared.ErrConflict)
}

// checkPublicUniqueness enforces that no public namespace carries the name.
func (s *Service) checkPublicUniqueness(ctx context.Context, name string) error {
	existing, err := s.FindPublic(ctx, name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("public namespace %s already exists in app %s: %w", name, existing.AppID, shared.ErrConflict)
	}
	return nil
}

// storedName builds the final stored namespace name: NFC-normalized, public
// names optionally prefixed with the owning org id, non-default formats
// appended as a dotted suffix.
func storedName(orgID, name string, format Format, addOrgPrefix bool) string {
	var b strings.Builder
	if addOrgPrefix {
		b.WriteString(orgID)
		b.WriteString(".")
	}
	b.WriteString(strings.TrimSpace(name))
	if format != FormatProperties {
		b.WriteString(".")
		b.WriteString(string(format))
	}
	return norm.NFC.String(b.String())
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
