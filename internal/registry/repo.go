package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-config/meridian/internal/shared"
)

// PGRepository loads application records from Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// LoadApp fetches one application by id.
func (r *PGRepository) LoadApp(ctx context.Context, appID string) (*App, error) {
	const query = `
		SELECT app_id, name, org_id, org_name, owner_name, created_by
		FROM apps
		WHERE app_id = $1 AND deleted = FALSE`

	var app App
	err := r.pool.QueryRow(ctx, query, appID).Scan(
		&app.AppID, &app.Name, &app.OrgID, &app.OrgName, &app.OwnerName, &app.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("app %s: %w", appID, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("load app %s: %w", appID, err)
	}
	return &app, nil
}
