package namespace

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-config/meridian/internal/shared"
)

// Repository defines persistence operations for app namespaces.
type Repository interface {
	FindByAppIDAndName(ctx context.Context, appID, name string) (*AppNamespace, error)
	FindByAppID(ctx context.Context, appID string) ([]AppNamespace, error)
	FindByNameAndIsPublic(ctx context.Context, name string, isPublic bool) ([]AppNamespace, error)
	Insert(ctx context.Context, ns AppNamespace) (AppNamespace, error)
	SoftDelete(ctx context.Context, appID, name, operator string) error
	SoftDeleteByAppID(ctx context.Context, appID, operator string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectColumns = `id, app_id, name, comment, format, is_public, created_by, created_at, modified_by, modified_at`

func (r *PGRepository) FindByAppIDAndName(ctx context.Context, appID, name string) (*AppNamespace, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM app_namespaces
		WHERE app_id = $1 AND name = $2 AND NOT deleted
		LIMIT 1`
	var ns AppNamespace
	var format string
	err := r.pool.QueryRow(ctx, query, appID, name).Scan(
		&ns.ID, &ns.AppID, &ns.Name, &ns.Comment, &format, &ns.IsPublic,
		&ns.CreatedBy, &ns.CreatedAt, &ns.ModifiedBy, &ns.ModifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	ns.Format = Format(format)
	return &ns, nil
}

func (r *PGRepository) FindByAppID(ctx context.Context, appID string) ([]AppNamespace, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM app_namespaces
		WHERE app_id = $1 AND NOT deleted
		ORDER BY name`
	return r.queryNamespaces(ctx, query, appID)
}

func (r *PGRepository) FindByNameAndIsPublic(ctx context.Context, name string, isPublic bool) ([]AppNamespace, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM app_namespaces
		WHERE name = $1 AND is_public = $2 AND NOT deleted
		ORDER BY app_id`
	return r.queryNamespaces(ctx, query, name, isPublic)
}

func (r *PGRepository) queryNamespaces(ctx context.Context, query string, args ...any) ([]AppNamespace, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var namespaces []AppNamespace
	for rows.Next() {
		var ns AppNamespace
		var format string
		if err := rows.Scan(&ns.ID, &ns.AppID, &ns.Name, &ns.Comment, &format, &ns.IsPublic,
			&ns.CreatedBy, &ns.CreatedAt, &ns.ModifiedBy, &ns.ModifiedAt); err != nil {
			return nil, err
		}
		ns.Format = Format(format)
		namespaces = append(namespaces, ns)
	}
	return namespaces, rows.Err()
}

func (r *PGRepository) Insert(ctx context.Context, ns AppNamespace) (AppNamespace, error) {
	now := time.Now().UTC()
	const query = `
		INSERT INTO app_namespaces (app_id, name, comment, format, is_public, created_by, created_at, modified_by, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $6, $7)
		RETURNING id`
	if err := r.pool.QueryRow(ctx, query,
		ns.AppID, ns.Name, ns.Comment, string(ns.Format), ns.IsPublic, ns.CreatedBy, now).Scan(&ns.ID); err != nil {
		return AppNamespace{}, err
	}
	ns.CreatedAt = now
	ns.ModifiedBy = ns.CreatedBy
	ns.ModifiedAt = now
	return ns, nil
}

func (r *PGRepository) SoftDelete(ctx context.Context, appID, name, operator string) error {
	const query = `
		UPDATE app_namespaces
		SET deleted = TRUE, modified_by = $3, modified_at = $4
		WHERE app_id = $1 AND name = $2 AND NOT deleted`
	_, err := r.pool.Exec(ctx, query, appID, name, operator, time.Now().UTC())
	return err
}

func (r *PGRepository) SoftDeleteByAppID(ctx context.Context, appID, operator string) error {
	const query = `
		UPDATE app_namespaces
		SET deleted = TRUE, modified_by = $2, modified_at = $3
		WHERE app_id = $1 AND NOT deleted`
	_, err := r.pool.Exec(ctx, query, appID, operator, time.Now().UTC())
	return err
}

var _ Repository = (*PGRepository)(nil)
