// Package sqlite is the embedded GORM backend used for local development and
// tests. All access goes through one connection, which is what serializes
// UpdateJob in place of row locks.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	sqlitedriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"fax/internal/domain"
	"fax/internal/store"
)

type jobRow struct {
	ID                 string `gorm:"primaryKey"`
	DocumentKey        string `gorm:"not null"`
	DestinationFax     string `gorm:"not null"`
	DestinationCountry string `gorm:"not null;default:US"`
	NotificationEmail  string
	Status             string `gorm:"not null;index"`
	ProviderStatus     string
	ProviderJobID      string `gorm:"index"`
	SendAttempts       int    `gorm:"not null;default:0"`
	FailureReason      string
	ClientIP           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	SubmittedAt        *time.Time
	CompletedAt        *time.Time
}

func (jobRow) TableName() string { return "fax_jobs" }

type eventRow struct {
	ID              string    `gorm:"primaryKey"`
	Provider        string    `gorm:"not null;uniqueIndex:uq_webhook_provider_event"`
	ExternalEventID string    `gorm:"not null;uniqueIndex:uq_webhook_provider_event"`
	EventType       string    `gorm:"not null"`
	ProviderJobID   string    `gorm:"index:idx_webhook_events_job"`
	PayloadJSON     string    `gorm:"not null"`
	ReceivedAt      time.Time `gorm:"not null"`
}

func (eventRow) TableName() string { return "webhook_events" }

type Store struct {
	db *gorm.DB
}

// Open connects to dsn (a file path, or ":memory:") and creates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := gorm.Open(sqlitedriver.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&jobRow{}, &eventRow{})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateJob(ctx context.Context, j domain.FaxJob) error {
	row := toRow(j)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert fax job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (domain.FaxJob, bool, error) {
	var row jobRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.FaxJob{}, false, nil
	}
	if err != nil {
		return domain.FaxJob{}, false, fmt.Errorf("get fax job: %w", err)
	}
	return fromRow(row), true, nil
}

func (s *Store) FindJobByProviderJobID(ctx context.Context, providerJobID string) (domain.FaxJob, bool, error) {
	var row jobRow
	err := s.db.WithContext(ctx).
		Where("provider_job_id = ?", providerJobID).
		Order("created_at ASC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.FaxJob{}, false, nil
	}
	if err != nil {
		return domain.FaxJob{}, false, fmt.Errorf("find fax job by provider id: %w", err)
	}
	return fromRow(row), true, nil
}

func (s *Store) UpdateJob(ctx context.Context, id string, fn store.Mutation) (domain.FaxJob, error) {
	var out domain.FaxJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row jobRow
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		next, write, err := store.Apply(fromRow(row), fn)
		out = next
		if err != nil || !write {
			return err
		}

		updated := toRow(next)
		updated.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&updated).Error; err != nil {
			return fmt.Errorf("update fax job: %w", err)
		}
		out = fromRow(updated)
		return nil
	})
	if err != nil {
		return domain.FaxJob{}, err
	}
	return out, nil
}

func (s *Store) InsertWebhookEvent(ctx context.Context, ev domain.WebhookEvent) (bool, error) {
	row := eventRow{
		ID:              ev.ID,
		Provider:        ev.Provider,
		ExternalEventID: ev.ExternalEventID,
		EventType:       ev.EventType,
		ProviderJobID:   ev.ProviderJobID,
		PayloadJSON:     string(ev.Payload),
		ReceivedAt:      ev.ReceivedAt.UTC(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "external_event_id"}},
			DoNothing: true,
		}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("insert webhook event: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ListWebhookEvents(ctx context.Context, provider, providerJobID string, limit int) ([]domain.WebhookEvent, error) {
	var rows []eventRow
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_job_id = ?", provider, providerJobID).
		Order("received_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	out := make([]domain.WebhookEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.WebhookEvent{
			ID:              r.ID,
			Provider:        r.Provider,
			ExternalEventID: r.ExternalEventID,
			EventType:       r.EventType,
			ProviderJobID:   r.ProviderJobID,
			Payload:         []byte(r.PayloadJSON),
			ReceivedAt:      r.ReceivedAt,
		})
	}
	return out, nil
}

func (s *Store) CountWebhookEvents(ctx context.Context, provider, externalEventID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&eventRow{}).
		Where("provider = ? AND external_event_id = ?", provider, externalEventID).
		Count(&n).Error
	return int(n), err
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func toRow(j domain.FaxJob) jobRow {
	return jobRow{
		ID:                 j.ID,
		DocumentKey:        j.DocumentKey,
		DestinationFax:     j.DestinationFax,
		DestinationCountry: j.DestinationCountry,
		NotificationEmail:  j.NotificationEmail,
		Status:             string(j.Status),
		ProviderStatus:     j.ProviderStatus,
		ProviderJobID:      j.ProviderJobID,
		SendAttempts:       j.SendAttempts,
		FailureReason:      j.FailureReason,
		ClientIP:           j.ClientIP,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
		SubmittedAt:        j.SubmittedAt,
		CompletedAt:        j.CompletedAt,
	}
}

func fromRow(r jobRow) domain.FaxJob {
	return domain.FaxJob{
		ID:                 r.ID,
		DocumentKey:        r.DocumentKey,
		DestinationFax:     r.DestinationFax,
		DestinationCountry: r.DestinationCountry,
		NotificationEmail:  r.NotificationEmail,
		Status:             domain.JobStatus(r.Status),
		ProviderStatus:     r.ProviderStatus,
		ProviderJobID:      r.ProviderJobID,
		SendAttempts:       r.SendAttempts,
		FailureReason:      r.FailureReason,
		ClientIP:           r.ClientIP,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		SubmittedAt:        r.SubmittedAt,
		CompletedAt:        r.CompletedAt,
	}
}
