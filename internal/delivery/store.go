package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a delivery id does not exist.
var ErrNotFound = errors.New("delivery not found")

// Store is the Postgres-backed delivery ledger. All worker coordination goes
// through conditional updates on this table; there are no in-process locks
// shared between workers, so dispatchers scale across processes.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateBatch appends one pending row per record in a single batch. Called
// only by the emitter.
func (s *Store) CreateBatch(ctx context.Context, recs []NewDelivery) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(`
			INSERT INTO webhooks.deliveries(id, endpoint_id, event_type, payload, status, max_attempts)
			VALUES ($1, $2, $3, $4, 'pending', $5)`,
			r.ID, r.EndpointID, r.EventType, r.Payload, r.MaxAttempts)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert delivery: %w", err)
		}
	}
	return nil
}

// Claim atomically marks up to limit due rows inflight for this worker and
// returns them joined with their endpoint. The attempt counter is incremented
// here, before any network call, so a crash mid-dispatch can never push a
// delivery past its max_attempts. Concurrent sweeps skip each other's rows
// (FOR UPDATE SKIP LOCKED): at most one worker holds a given delivery.
func (s *Store) Claim(ctx context.Context, limit int) ([]Task, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM webhooks.deliveries
			WHERE (status = 'pending' OR (status = 'retrying' AND next_retry_at <= now()))
			  AND attempts < max_attempts
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		UPDATE webhooks.deliveries d
		SET status = 'inflight', attempts = d.attempts + 1, next_retry_at = NULL, updated_at = now()
		FROM due
		WHERE d.id = due.id
		RETURNING d.id, d.endpoint_id, d.event_type, d.payload, d.attempts, d.max_attempts`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	var endpointIDs []string
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.DeliveryID, &t.EndpointID, &t.EventType, &t.Payload,
			&t.Attempt, &t.MaxAttempts); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
		endpointIDs = append(endpointIDs, t.EndpointID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	eps, err := s.fetchEndpoints(ctx, endpointIDs)
	if err != nil {
		return nil, err
	}

	// An endpoint deleted between claim and fetch cascaded its deliveries
	// away; those tasks are dropped, there is no row left to update.
	out := tasks[:0]
	for _, t := range tasks {
		ep, ok := eps[t.EndpointID]
		if !ok {
			continue
		}
		t.EndpointURL = ep.url
		t.Secret = ep.secret
		t.EndpointEnabled = ep.enabled
		t.OrganizationID = ep.orgID
		out = append(out, t)
	}
	return out, nil
}

type endpointRow struct {
	url     string
	secret  string
	enabled bool
	orgID   string
}

func (s *Store) fetchEndpoints(ctx context.Context, ids []string) (map[string]endpointRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, url, secret, enabled, organization_id
		FROM webhooks.endpoints
		WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]endpointRow, len(ids))
	for rows.Next() {
		var id string
		var ep endpointRow
		if err := rows.Scan(&id, &ep.url, &ep.secret, &ep.enabled, &ep.orgID); err != nil {
			return nil, err
		}
		out[id] = ep
	}
	return out, rows.Err()
}

// MarkSucceeded moves an inflight delivery to its terminal success state.
func (s *Store) MarkSucceeded(ctx context.Context, id string, httpStatus int, responseBody string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhooks.deliveries
		SET status = 'succeeded', http_status = $2, response_body = $3,
		    last_error = NULL, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'inflight'`,
		id, httpStatus, Truncate(responseBody),
	)
	return err
}

// MarkRetrying schedules the next attempt of an inflight delivery.
func (s *Store) MarkRetrying(ctx context.Context, id string, nextRetryAt time.Time, httpStatus int, responseBody, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhooks.deliveries
		SET status = 'retrying', next_retry_at = $2, http_status = NULLIF($3, 0),
		    response_body = $4, last_error = $5, updated_at = now()
		WHERE id = $1 AND status = 'inflight'`,
		id, nextRetryAt, httpStatus, Truncate(responseBody), lastErr,
	)
	return err
}

// MarkFailed moves an inflight delivery to its terminal failure state.
func (s *Store) MarkFailed(ctx context.Context, id string, httpStatus int, responseBody, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhooks.deliveries
		SET status = 'failed', http_status = NULLIF($2, 0), response_body = $3,
		    last_error = $4, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'inflight'`,
		id, httpStatus, Truncate(responseBody), lastErr,
	)
	return err
}

// RequeueStale recovers rows left inflight by a crashed worker. Rows with
// attempts remaining go back to retrying, immediately due; rows already at
// their bound fail terminally. Returns (requeued, failed).
func (s *Store) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, int64, error) {
	cutoff := time.Now().Add(-olderThan)

	req, err := s.pool.Exec(ctx, `
		UPDATE webhooks.deliveries
		SET status = 'retrying', next_retry_at = now(), updated_at = now()
		WHERE status = 'inflight' AND updated_at < $1 AND attempts < max_attempts`,
		cutoff,
	)
	if err != nil {
		return 0, 0, err
	}

	failed, err := s.pool.Exec(ctx, `
		UPDATE webhooks.deliveries
		SET status = 'failed', last_error = 'worker lost before outcome was recorded',
		    completed_at = now(), updated_at = now()
		WHERE status = 'inflight' AND updated_at < $1 AND attempts >= max_attempts`,
		cutoff,
	)
	if err != nil {
		return req.RowsAffected(), 0, err
	}
	return req.RowsAffected(), failed.RowsAffected(), nil
}

// CountByStatus returns the ledger backlog per status, for the gauge loop.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM webhooks.deliveries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Status]int64)
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[Status(st)] = n
	}
	return out, rows.Err()
}

// Get returns one delivery by id.
func (s *Store) Get(ctx context.Context, id string) (Delivery, error) {
	var d Delivery
	err := s.pool.QueryRow(ctx, `
		SELECT id, endpoint_id, event_type, payload, status, attempts, max_attempts,
		       COALESCE(http_status, 0), COALESCE(response_body, ''), COALESCE(last_error, ''),
		       next_retry_at, completed_at, created_at, updated_at
		FROM webhooks.deliveries
		WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.EndpointID, &d.EventType, &d.Payload, &d.Status, &d.Attempts,
		&d.MaxAttempts, &d.HTTPStatus, &d.ResponseBody, &d.LastError,
		&d.NextRetryAt, &d.CompletedAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrNotFound
	}
	if err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// ListByEndpoint returns recent deliveries for one endpoint, newest first.
// An empty status filters nothing.
func (s *Store) ListByEndpoint(ctx context.Context, endpointID string, status Status, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, endpoint_id, event_type, payload, status, attempts, max_attempts,
		       COALESCE(http_status, 0), COALESCE(response_body, ''), COALESCE(last_error, ''),
		       next_retry_at, completed_at, created_at, updated_at
		FROM webhooks.deliveries
		WHERE endpoint_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`,
		endpointID, string(status), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.EndpointID, &d.EventType, &d.Payload, &d.Status,
			&d.Attempts, &d.MaxAttempts, &d.HTTPStatus, &d.ResponseBody, &d.LastError,
			&d.NextRetryAt, &d.CompletedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
