package endpoint

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed endpoint registry and subscription resolver.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create registers a new endpoint. An empty secret gets a generated 256-bit
// one; the secret is returned exactly once, on creation.
func (s *Store) Create(ctx context.Context, orgID, rawURL, secret string, eventTypes []string) (Endpoint, error) {
	if err := ValidateNew(orgID, rawURL, eventTypes); err != nil {
		return Endpoint{}, err
	}
	if secret == "" {
		var err error
		secret, err = GenerateSecret(32) // 256-bit
		if err != nil {
			return Endpoint{}, err
		}
	}

	ep := Endpoint{
		OrganizationID: orgID,
		URL:            rawURL,
		Secret:         secret,
		EventTypes:     eventTypes,
		Enabled:        true,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhooks.endpoints(organization_id, url, secret, event_types)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		orgID, rawURL, secret, eventTypes,
	).Scan(&ep.ID, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// List returns all endpoints owned by an organization, newest first.
// Secrets are not loaded.
func (s *Store) List(ctx context.Context, orgID string) ([]Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, url, event_types, enabled, created_at, updated_at
		FROM webhooks.endpoints
		WHERE organization_id = $1
		ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		var ep Endpoint
		if err := rows.Scan(&ep.ID, &ep.OrganizationID, &ep.URL, &ep.EventTypes,
			&ep.Enabled, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// SetEnabled flips the enabled flag. Per the registry contract this only
// affects future subscription resolution, not deliveries already in the
// ledger (see the dispatcher's disabled-endpoint policy).
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE webhooks.endpoints
		SET enabled = $2, updated_at = now()
		WHERE id = $1`,
		id, enabled,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an endpoint. The deliveries FK cascades, which is the only
// cancellation primitive: an in-flight HTTP call simply finds no row to
// update afterwards.
func (s *Store) Delete(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM webhooks.endpoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Resolve returns the enabled endpoints of an organization subscribed to
// eventType, secrets included. An empty result is valid and produces zero
// deliveries.
func (s *Store) Resolve(ctx context.Context, orgID, eventType string) ([]Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, url, secret, event_types, enabled, created_at, updated_at
		FROM webhooks.endpoints
		WHERE organization_id = $1
		  AND enabled
		  AND $2 = ANY(event_types)`,
		orgID, eventType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		var ep Endpoint
		if err := rows.Scan(&ep.ID, &ep.OrganizationID, &ep.URL, &ep.Secret,
			&ep.EventTypes, &ep.Enabled, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}
