package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fax/internal/domain"
	"fax/internal/store"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]domain.FaxJob
}

func newMemStore(jobs ...domain.FaxJob) *memStore {
	m := &memStore{jobs: map[string]domain.FaxJob{}}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memStore) GetJob(_ context.Context, id string) (domain.FaxJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok, nil
}

func (m *memStore) UpdateJob(_ context.Context, id string, fn store.Mutation) (domain.FaxJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.FaxJob{}, domain.ErrNotFound
	}
	next, write, err := store.Apply(j, fn)
	if err != nil {
		return domain.FaxJob{}, err
	}
	if write {
		m.jobs[id] = next
	}
	return next, nil
}

type fakeProvider struct {
	mu        sync.Mutex
	sends     int
	cancels   int
	result    domain.SendResult
	sendErr   error
	cancelRes string
	cancelErr error
	block     bool
}

func (p *fakeProvider) SendFax(ctx context.Context, _, _ string) (domain.SendResult, error) {
	p.mu.Lock()
	p.sends++
	p.mu.Unlock()
	if p.block {
		<-ctx.Done()
		return domain.SendResult{}, ctx.Err()
	}
	return p.result, p.sendErr
}

func (p *fakeProvider) CancelFax(context.Context, string) (string, error) {
	p.mu.Lock()
	p.cancels++
	p.mu.Unlock()
	return p.cancelRes, p.cancelErr
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, to, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, to+"|"+subject)
	return n.err
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func queuedJob(id string) domain.FaxJob {
	return domain.FaxJob{
		ID:                id,
		DestinationFax:    "+15551234567",
		NotificationEmail: "owner@example.com",
		Status:            domain.StatusQueuedForSend,
		CreatedAt:         t0,
	}
}

func newDispatcher(st Store, p Provider, n Notifier) *Dispatcher {
	d := New(st, p, n, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.Now = func() time.Time { return t0.Add(time.Minute) }
	return d
}

func TestDispatch_DeliveredOnSubmit(t *testing.T) {
	st := newMemStore(queuedJob("fax_1"))
	p := &fakeProvider{result: domain.SendResult{ProviderJobID: "mock_fax_1", ProviderStatus: "delivered"}}
	n := &fakeNotifier{}
	d := newDispatcher(st, p, n)

	job, err := d.Dispatch(context.Background(), "fax_1", "https://media/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, job.Status)
	assert.Equal(t, "mock_fax_1", job.ProviderJobID)
	assert.Equal(t, 1, job.SendAttempts)
	require.NotNil(t, job.SubmittedAt)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, []string{"owner@example.com|Fax delivered"}, n.sent)
}

func TestDispatch_IsIdempotent(t *testing.T) {
	st := newMemStore(queuedJob("fax_1"))
	p := &fakeProvider{result: domain.SendResult{ProviderJobID: "tx_1", ProviderStatus: "queued"}}
	d := newDispatcher(st, p, nil)
	ctx := context.Background()

	first, err := d.Dispatch(ctx, "fax_1", "u")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSending, first.Status)

	second, err := d.Dispatch(ctx, "fax_1", "u")
	require.NoError(t, err)
	assert.Equal(t, 1, second.SendAttempts)
	assert.Equal(t, 1, p.sends)
}

func TestDispatch_ConcurrentTriggersSendOnce(t *testing.T) {
	st := newMemStore(queuedJob("fax_1"))
	p := &fakeProvider{result: domain.SendResult{ProviderJobID: "tx_1", ProviderStatus: "queued"}}
	d := newDispatcher(st, p, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Dispatch(context.Background(), "fax_1", "u")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, p.sends)
}

func TestDispatch_TerminalJobUntouched(t *testing.T) {
	job := queuedJob("fax_1")
	job.Status = domain.StatusDelivered
	st := newMemStore(job)
	p := &fakeProvider{}
	d := newDispatcher(st, p, nil)

	got, err := d.Dispatch(context.Background(), "fax_1", "u")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)
	assert.Equal(t, 0, p.sends)
}

func TestDispatch_ProviderErrorMarksFailed(t *testing.T) {
	st := newMemStore(queuedJob("fax_1"))
	p := &fakeProvider{sendErr: &domain.ProviderError{Op: "send", HTTPStatus: 500, Err: errors.New("upstream boom")}}
	n := &fakeNotifier{}
	d := newDispatcher(st, p, n)

	job, err := d.Dispatch(context.Background(), "fax_1", "u")
	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.FailureReason, "upstream boom")
	assert.Equal(t, 1, job.SendAttempts)
	assert.Empty(t, n.sent)
}

func TestDispatch_MissingProviderIDIsProviderError(t *testing.T) {
	st := newMemStore(queuedJob("fax_1"))
	p := &fakeProvider{result: domain.SendResult{ProviderStatus: "queued"}}
	d := newDispatcher(st, p, nil)

	job, err := d.Dispatch(context.Background(), "fax_1", "u")
	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.StatusFailed, job.Status)
}

func TestDispatch_TimeoutBoundsProviderCall(t *testing.T) {
	st := newMemStore(queuedJob("fax_1"))
	p := &fakeProvider{block: true}
	d := newDispatcher(st, p, nil)
	d.CallTimeout = 20 * time.Millisecond

	start := time.Now()
	job, err := d.Dispatch(context.Background(), "fax_1", "u")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.StatusFailed, job.Status)
}

func TestDispatch_Outcomes(t *testing.T) {
	cases := []struct {
		providerStatus string
		wantStatus     domain.JobStatus
		wantReason     string
		wantCompleted  bool
	}{
		{"queued", domain.StatusSending, "", false},
		{"Success", domain.StatusDelivered, "", true},
		{"cancel_requested", domain.StatusCanceled, domain.CanceledByUser, true},
		{"rejected", domain.StatusFailed, reasonProviderFailed, false},
		{"teleported", domain.StatusSending, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.providerStatus, func(t *testing.T) {
			st := newMemStore(queuedJob("fax_1"))
			p := &fakeProvider{result: domain.SendResult{ProviderJobID: "tx_1", ProviderStatus: tc.providerStatus}}
			d := newDispatcher(st, p, nil)

			job, err := d.Dispatch(context.Background(), "fax_1", "u")
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, job.Status)
			assert.Equal(t, tc.wantReason, job.FailureReason)
			assert.Equal(t, tc.wantCompleted, job.CompletedAt != nil)
			assert.Equal(t, tc.providerStatus, job.ProviderStatus)
		})
	}
}

func TestCancel_TerminalIsConflict(t *testing.T) {
	for _, s := range []domain.JobStatus{domain.StatusDelivered, domain.StatusFailed, domain.StatusCanceled} {
		job := queuedJob("fax_1")
		job.Status = s
		st := newMemStore(job)
		p := &fakeProvider{}
		d := newDispatcher(st, p, nil)

		_, err := d.Cancel(context.Background(), "fax_1")
		var ce *domain.ConflictError
		require.True(t, errors.As(err, &ce), "status %s", s)

		got, _, _ := st.GetJob(context.Background(), "fax_1")
		assert.Equal(t, job, got)
		assert.Equal(t, 0, p.cancels)
	}
}

func TestCancel_QueuedSkipsProvider(t *testing.T) {
	st := newMemStore(queuedJob("fax_1"))
	p := &fakeProvider{}
	d := newDispatcher(st, p, nil)

	job, err := d.Cancel(context.Background(), "fax_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, job.Status)
	assert.Equal(t, domain.CanceledByUser, job.FailureReason)
	assert.Equal(t, "canceled", job.ProviderStatus)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, 0, p.cancels)
}

func TestCancel_SendingCallsProvider(t *testing.T) {
	job := queuedJob("fax_1")
	job.Status = domain.StatusSending
	job.ProviderJobID = "tx_1"
	st := newMemStore(job)
	p := &fakeProvider{cancelRes: "cancel_requested"}
	d := newDispatcher(st, p, nil)

	got, err := d.Cancel(context.Background(), "fax_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, got.Status)
	assert.Equal(t, "cancel_requested", got.ProviderStatus)
	assert.Equal(t, 1, p.cancels)
}

func TestCancel_ProviderErrorLeavesJob(t *testing.T) {
	job := queuedJob("fax_1")
	job.Status = domain.StatusSending
	job.ProviderJobID = "tx_1"
	st := newMemStore(job)
	p := &fakeProvider{cancelErr: errors.New("connection reset")}
	d := newDispatcher(st, p, nil)

	_, err := d.Cancel(context.Background(), "fax_1")
	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))

	got, _, _ := st.GetJob(context.Background(), "fax_1")
	assert.Equal(t, job, got)
}

func TestCancel_NotFound(t *testing.T) {
	d := newDispatcher(newMemStore(), &fakeProvider{}, nil)
	_, err := d.Cancel(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func sendingJob() domain.FaxJob {
	j := queuedJob("fax_1")
	j.Status = domain.StatusSending
	j.ProviderJobID = "tx_1"
	j.FailureReason = "stale"
	return j
}

func TestApplyProviderStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("delivered clears reason and notifies", func(t *testing.T) {
		st := newMemStore(sendingJob())
		n := &fakeNotifier{}
		d := newDispatcher(st, &fakeProvider{}, n)
		job, err := d.ApplyProviderStatus(ctx, "fax_1", "DELIVERED", "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDelivered, job.Status)
		assert.Empty(t, job.FailureReason)
		assert.NotNil(t, job.CompletedAt)
		assert.Len(t, n.sent, 1)
	})

	t.Run("failed uses provided reason", func(t *testing.T) {
		st := newMemStore(sendingJob())
		d := newDispatcher(st, &fakeProvider{}, nil)
		job, err := d.ApplyProviderStatus(ctx, "fax_1", "failed", "busy line")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, job.Status)
		assert.Equal(t, "busy line", job.FailureReason)
		assert.NotNil(t, job.CompletedAt)
	})

	t.Run("failed falls back to generic reason", func(t *testing.T) {
		st := newMemStore(sendingJob())
		d := newDispatcher(st, &fakeProvider{}, nil)
		job, err := d.ApplyProviderStatus(ctx, "fax_1", "error", "")
		require.NoError(t, err)
		assert.Equal(t, reasonWebhookFailed, job.FailureReason)
	})

	t.Run("cancelled spelling", func(t *testing.T) {
		st := newMemStore(sendingJob())
		d := newDispatcher(st, &fakeProvider{}, nil)
		job, err := d.ApplyProviderStatus(ctx, "fax_1", "cancelled", "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCanceled, job.Status)
		assert.Equal(t, domain.CanceledByUser, job.FailureReason)
	})

	t.Run("unrecognized keeps sending", func(t *testing.T) {
		st := newMemStore(sendingJob())
		d := newDispatcher(st, &fakeProvider{}, nil)
		job, err := d.ApplyProviderStatus(ctx, "fax_1", "warp_drive_engaged", "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSending, job.Status)
		assert.Equal(t, "stale", job.FailureReason)
		assert.Nil(t, job.CompletedAt)
	})

	t.Run("terminal job ignores late events", func(t *testing.T) {
		j := sendingJob()
		j.Status = domain.StatusDelivered
		j.ProviderStatus = "delivered"
		st := newMemStore(j)
		n := &fakeNotifier{}
		d := newDispatcher(st, &fakeProvider{}, n)
		for _, s := range []string{"failed", "sending", "canceled", "delivered"} {
			got, err := d.ApplyProviderStatus(ctx, "fax_1", s, "late")
			require.NoError(t, err)
			assert.Equal(t, j, got)
		}
		assert.Empty(t, n.sent, "terminal job must not notify again")
	})
}

func TestNotifierFailureIsSwallowed(t *testing.T) {
	st := newMemStore(queuedJob("fax_1"))
	p := &fakeProvider{result: domain.SendResult{ProviderJobID: "tx_1", ProviderStatus: "delivered"}}
	n := &fakeNotifier{err: errors.New("smtp down")}
	d := newDispatcher(st, p, n)

	job, err := d.Dispatch(context.Background(), "fax_1", "u")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, job.Status)
}

func TestMarkFailed(t *testing.T) {
	st := newMemStore(queuedJob("fax_1"))
	d := newDispatcher(st, &fakeProvider{}, nil)

	job, err := d.MarkFailed(context.Background(), "fax_1", "Document file missing")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, "Document file missing", job.FailureReason)

	again, err := d.MarkFailed(context.Background(), "fax_1", "other")
	require.NoError(t, err)
	assert.Equal(t, "Document file missing", again.FailureReason)
}
