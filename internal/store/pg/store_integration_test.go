//go:build integration

package pg

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"fax/internal/domain"
	"fax/internal/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("fax_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	_, err = Migrate(dsn, "file://../../../migrations")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn, PoolOptions{MaxConns: 10})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return New(pool)
}

func TestPostgresStore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	job := domain.FaxJob{
		ID: "fax_pg_1", DocumentKey: "doc.pdf", DestinationFax: "+15551234567", DestinationCountry: "US",
		Status: domain.StatusQueuedForSend, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateJob(ctx, job))

	t.Run("row lock serializes read-modify-write", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateJob(ctx, job.ID, func(j *domain.FaxJob) error {
					j.SendAttempts++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		got, ok, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 25, got.SendAttempts)
	})

	t.Run("unchanged mutation writes nothing", func(t *testing.T) {
		before, _, _ := s.GetJob(ctx, job.ID)
		got, err := s.UpdateJob(ctx, job.ID, func(j *domain.FaxJob) error {
			j.Status = domain.StatusCanceled
			return store.ErrUnchanged
		})
		require.NoError(t, err)
		assert.Equal(t, before.Status, got.Status)
	})

	t.Run("missing job", func(t *testing.T) {
		_, err := s.UpdateJob(ctx, "nope", func(*domain.FaxJob) error { return nil })
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("concurrent duplicate webhook inserts", func(t *testing.T) {
		var firsts atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.InsertWebhookEvent(ctx, domain.WebhookEvent{
					ID: "wh_" + string(rune('a'+i)), Provider: "telnyx", ExternalEventID: "evt_1",
					EventType: "fax.queued", ProviderJobID: "tx_1",
					Payload: []byte(`{"data":{"id":"evt_1"}}`), ReceivedAt: now,
				})
				assert.NoError(t, err)
				if ok {
					firsts.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int64(1), firsts.Load())

		n, err := s.CountWebhookEvents(ctx, "telnyx", "evt_1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		evs, err := s.ListWebhookEvents(ctx, "telnyx", "tx_1", store.MaxTimelineEvents)
		require.NoError(t, err)
		assert.Len(t, evs, 1)
	})
}
