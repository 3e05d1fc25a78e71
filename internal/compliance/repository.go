package compliance

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) IsOptedOut(ctx context.Context, organizationID, leadID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM opt_outs WHERE organization_id = $1 AND lead_id = $2)`,
		organizationID, leadID).Scan(&exists)
	return exists, err
}

func (r *Repository) RecordOptOut(ctx context.Context, organizationID, leadID, reason string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO opt_outs (organization_id, lead_id, reason)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (organization_id, lead_id) DO NOTHING`,
		organizationID, leadID, reason)
	return err
}

func (r *Repository) IsOutboundPaused(ctx context.Context, organizationID string) (bool, error) {
	var paused bool
	err := r.pool.QueryRow(ctx,
		`SELECT outbound_paused FROM organization_settings WHERE organization_id = $1`,
		organizationID).Scan(&paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return paused, err
}

// SetOutboundPaused flips the organization kill switch.
func (r *Repository) SetOutboundPaused(ctx context.Context, organizationID string, paused bool) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO organization_settings (organization_id, outbound_paused, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (organization_id) DO UPDATE SET outbound_paused = EXCLUDED.outbound_paused, updated_at = now()`,
		organizationID, paused)
	return err
}

// OrganizationName returns the display name used in lead-facing templates.
func (r *Repository) OrganizationName(ctx context.Context, organizationID string) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx,
		`SELECT name FROM organization_settings WHERE organization_id = $1`,
		organizationID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return name, err
}
