package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fax/internal/domain"
	"fax/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const jobColumns = `
	id, document_key, destination_fax, destination_country, COALESCE(notification_email,''),
	status, COALESCE(provider_status,''), COALESCE(provider_job_id,''), send_attempts,
	COALESCE(failure_reason,''), COALESCE(client_ip,''),
	created_at, updated_at, submitted_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.FaxJob, error) {
	var j domain.FaxJob
	var status string
	err := row.Scan(&j.ID, &j.DocumentKey, &j.DestinationFax, &j.DestinationCountry, &j.NotificationEmail,
		&status, &j.ProviderStatus, &j.ProviderJobID, &j.SendAttempts,
		&j.FailureReason, &j.ClientIP,
		&j.CreatedAt, &j.UpdatedAt, &j.SubmittedAt, &j.CompletedAt)
	if err != nil {
		return domain.FaxJob{}, err
	}
	j.Status = domain.JobStatus(status)
	return j, nil
}

func (s *Store) CreateJob(ctx context.Context, j domain.FaxJob) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO fax_jobs (id, document_key, destination_fax, destination_country, notification_email,
			status, provider_status, provider_job_id, send_attempts, failure_reason, client_ip,
			created_at, updated_at, submitted_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, j.ID, j.DocumentKey, j.DestinationFax, j.DestinationCountry, nullIfEmpty(j.NotificationEmail),
		string(j.Status), nullIfEmpty(j.ProviderStatus), nullIfEmpty(j.ProviderJobID), j.SendAttempts,
		nullIfEmpty(j.FailureReason), nullIfEmpty(j.ClientIP),
		j.CreatedAt, j.UpdatedAt, j.SubmittedAt, j.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert fax job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (domain.FaxJob, bool, error) {
	j, err := scanJob(s.DB.QueryRow(ctx, `SELECT `+jobColumns+` FROM fax_jobs WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FaxJob{}, false, nil
		}
		return domain.FaxJob{}, false, fmt.Errorf("get fax job: %w", err)
	}
	return j, true, nil
}

func (s *Store) FindJobByProviderJobID(ctx context.Context, providerJobID string) (domain.FaxJob, bool, error) {
	j, err := scanJob(s.DB.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM fax_jobs WHERE provider_job_id=$1 ORDER BY created_at LIMIT 1
	`, providerJobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FaxJob{}, false, nil
		}
		return domain.FaxJob{}, false, fmt.Errorf("find fax job by provider id: %w", err)
	}
	return j, true, nil
}

// UpdateJob locks the row with SELECT ... FOR UPDATE, applies fn and writes
// the result in the same transaction.
func (s *Store) UpdateJob(ctx context.Context, id string, fn store.Mutation) (domain.FaxJob, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.FaxJob{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM fax_jobs WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FaxJob{}, domain.ErrNotFound
		}
		return domain.FaxJob{}, fmt.Errorf("lock fax job: %w", err)
	}

	next, write, err := store.Apply(cur, fn)
	if err != nil || !write {
		return next, err
	}
	next.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE fax_jobs SET
			status=$2, provider_status=$3, provider_job_id=$4, send_attempts=$5,
			failure_reason=$6, submitted_at=$7, completed_at=$8, updated_at=$9
		WHERE id=$1
	`, id, string(next.Status), nullIfEmpty(next.ProviderStatus), nullIfEmpty(next.ProviderJobID), next.SendAttempts,
		nullIfEmpty(next.FailureReason), next.SubmittedAt, next.CompletedAt, next.UpdatedAt)
	if err != nil {
		return domain.FaxJob{}, fmt.Errorf("update fax job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.FaxJob{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// InsertWebhookEvent reports false when (provider, external_event_id) already exists.
func (s *Store) InsertWebhookEvent(ctx context.Context, ev domain.WebhookEvent) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO webhook_events (id, provider, external_event_id, event_type, provider_job_id, payload_json, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (provider, external_event_id) DO NOTHING
	`, ev.ID, ev.Provider, ev.ExternalEventID, ev.EventType, nullIfEmpty(ev.ProviderJobID), []byte(ev.Payload), ev.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *Store) ListWebhookEvents(ctx context.Context, provider, providerJobID string, limit int) ([]domain.WebhookEvent, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, provider, external_event_id, event_type, COALESCE(provider_job_id,''), payload_json, received_at
		FROM webhook_events
		WHERE provider=$1 AND provider_job_id=$2
		ORDER BY received_at ASC, id ASC
		LIMIT $3
	`, provider, providerJobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEvent
	for rows.Next() {
		var ev domain.WebhookEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Provider, &ev.ExternalEventID, &ev.EventType, &ev.ProviderJobID, &payload, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) CountWebhookEvents(ctx context.Context, provider, externalEventID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT count(*) FROM webhook_events WHERE provider=$1 AND external_event_id=$2
	`, provider, externalEventID).Scan(&n)
	return n, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
