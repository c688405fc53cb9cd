package httpserver

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fax/internal/dispatch"
	"fax/internal/domain"
	"fax/internal/media"
	"fax/internal/providers/telnyx"
	"fax/internal/ratelimit"
	"fax/internal/statusview"
	"fax/internal/store/sqlite"
	"fax/internal/webhook"
)

type fakeService struct {
	createErr error
	gotIP     string
	gotReq    domain.CreateFaxJobRequest
	views     map[string]statusview.View
	cancelErr error
}

func (f *fakeService) CreateJob(_ context.Context, req domain.CreateFaxJobRequest, ip string) (domain.CreateFaxJobResponse, error) {
	f.gotReq, f.gotIP = req, ip
	if f.createErr != nil {
		return domain.CreateFaxJobResponse{}, f.createErr
	}
	return domain.CreateFaxJobResponse{FaxJobID: "fax_1", Status: "queued_for_send"}, nil
}

func (f *fakeService) GetStatus(_ context.Context, id string) (statusview.View, error) {
	v, ok := f.views[id]
	if !ok {
		return statusview.View{}, domain.ErrNotFound
	}
	return v, nil
}

func (f *fakeService) Cancel(_ context.Context, id string) (statusview.View, error) {
	if f.cancelErr != nil {
		return statusview.View{}, f.cancelErr
	}
	return statusview.View{FaxJobID: id, Status: "canceled"}, nil
}

func newAPI(svc *fakeService, trust bool) http.Handler {
	s := New()
	(&API{Svc: svc, TrustForwardedFor: trust}).Register(s.Mux)
	return s.Handler()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateJob(t *testing.T) {
	svc := &fakeService{}
	h := newAPI(svc, true)

	req := httptest.NewRequest(http.MethodPost, "/v1/fax/jobs",
		strings.NewReader(`{"document_key":"doc.pdf","destination_fax":"5551234567"}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := do(t, h, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp domain.CreateFaxJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "fax_1", resp.FaxJobID)
	assert.Equal(t, "203.0.113.9", svc.gotIP)
	assert.Equal(t, "doc.pdf", svc.gotReq.DocumentKey)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestCreateJob_IgnoresForwardedWhenUntrusted(t *testing.T) {
	svc := &fakeService{}
	req := httptest.NewRequest(http.MethodPost, "/v1/fax/jobs", strings.NewReader(`{}`))
	req.RemoteAddr = "192.0.2.4:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	do(t, newAPI(svc, false), req)
	assert.Equal(t, "192.0.2.4", svc.gotIP)
}

func TestCreateJob_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&domain.ValidationError{Field: "destination_fax", Msg: "Invalid US fax number. Use a 10-digit US number."}, http.StatusBadRequest},
		{fmt.Errorf("document x: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{&domain.ProviderError{Op: "send", Err: errors.New("boom")}, http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := &fakeService{createErr: tc.err}
		req := httptest.NewRequest(http.MethodPost, "/v1/fax/jobs", strings.NewReader(`{}`))
		rec := do(t, newAPI(svc, false), req)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}

	rec := do(t, newAPI(&fakeService{}, false), httptest.NewRequest(http.MethodPost, "/v1/fax/jobs", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJob_InternalErrorHidesDetail(t *testing.T) {
	svc := &fakeService{createErr: errors.New("pq: password authentication failed")}
	rec := do(t, newAPI(svc, false), httptest.NewRequest(http.MethodPost, "/v1/fax/jobs", strings.NewReader(`{}`)))
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestGetAndCancelJob(t *testing.T) {
	svc := &fakeService{views: map[string]statusview.View{
		"fax_1": {FaxJobID: "fax_1", Status: "sending", ProgressPercent: 45, Timeline: []statusview.TimelineEntry{}},
	}}
	h := newAPI(svc, false)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/v1/fax/jobs/fax_1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var v map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "sending", v["status"])
	assert.EqualValues(t, 45, v["progress_percent"])

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/fax/jobs/fax_2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/v1/fax/jobs/fax_1/cancel", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.cancelErr = &domain.ConflictError{JobID: "fax_1", Status: domain.StatusDelivered, Op: "cancel"}
	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/v1/fax/jobs/fax_1/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "delivered")
}

func TestRequestIDPropagates(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/fax/jobs/nope", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	rec := do(t, newAPI(&fakeService{}, false), req)
	assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))
}

func TestHealthAndReady(t *testing.T) {
	s := New()
	s.Mux.HandleFunc("/healthz", Healthz())
	s.Mux.HandleFunc("/readyz", Readyz(time.Second, func(context.Context) error { return errors.New("db down") }))

	assert.Equal(t, http.StatusOK, do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)
}

func newMedia(t *testing.T, requireSig bool) (*media.Local, http.Handler) {
	t.Helper()
	l, err := media.NewLocal(t.TempDir(), "http://example.test", "secret")
	require.NoError(t, err)
	require.NoError(t, l.Save(context.Background(), "doc.pdf", strings.NewReader("%PDF-1.4 test")))
	s := New()
	(&Media{Backend: l, PresignTTL: time.Minute, RequireSignature: requireSig}).Register(s.Mux)
	return l, s.Handler()
}

func TestMedia_SignedLink(t *testing.T) {
	l, h := newMedia(t, true)
	link, err := l.PublicURL(context.Background(), "doc.pdf", time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4 test", rec.Body.String())

	q := u.Query()
	q.Set("sig", strings.Repeat("0", 64))
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/media/doc.pdf?"+q.Encode(), nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/media/doc.pdf", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMedia_UnsignedAllowedOutsideProduction(t *testing.T) {
	_, h := newMedia(t, false)
	assert.Equal(t, http.StatusOK, do(t, h, httptest.NewRequest(http.MethodGet, "/v1/media/doc.pdf", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, httptest.NewRequest(http.MethodGet, "/v1/media/missing.pdf", nil)).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, httptest.NewRequest(http.MethodGet, "/v1/media/doc.pdf?exp=1&sig=x", nil)).Code)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type webhookFixture struct {
	handler http.Handler
	store   *sqlite.Store
	priv    ed25519.PrivateKey
}

func newWebhook(t *testing.T, limiter ratelimit.Limiter, perMinute int) *webhookFixture {
	t.Helper()
	st, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	priv := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	guard := &webhook.Guard{
		Store:   st,
		Applier: dispatch.New(st, &telnyx.Mock{}, nil, log),
		Log:     log,
		Now:     func() time.Time { return fixedNow },
		Verifier: &telnyx.Verifier{
			PublicKey: priv.Public().(ed25519.PublicKey),
			Tolerance: 300 * time.Second,
			Now:       func() time.Time { return fixedNow },
		},
	}
	s := New()
	(&Webhook{Guard: guard, Limiter: limiter, PerIPPerMinute: perMinute}).Register(s.Mux)
	return &webhookFixture{handler: s.Handler(), store: st, priv: priv}
}

func (f *webhookFixture) post(t *testing.T, body string, at time.Time) *httptest.ResponseRecorder {
	t.Helper()
	sig, ts := telnyx.Sign(f.priv, []byte(body), at)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/telnyx", strings.NewReader(body))
	req.Header.Set(telnyx.HeaderSignature, sig)
	req.Header.Set(telnyx.HeaderTimestamp, ts)
	return do(t, f.handler, req)
}

func TestWebhook_AcceptDuplicateIgnore(t *testing.T) {
	f := newWebhook(t, nil, 0)
	ctx := context.Background()
	sub := fixedNow.Add(-time.Minute)
	require.NoError(t, f.store.CreateJob(ctx, domain.FaxJob{
		ID: "fax_1", DocumentKey: "doc.pdf", DestinationFax: "+15551234567", DestinationCountry: "US",
		Status: domain.StatusSending, ProviderJobID: "tx_1", SendAttempts: 1, CreatedAt: sub, UpdatedAt: sub, SubmittedAt: &sub,
	}))

	body := `{"data":{"id":"evt_1","event_type":"fax.delivered","payload":{"fax_id":"tx_1","status":"delivered"}}}`
	rec := f.post(t, body, fixedNow)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"duplicate":false,"ignored":false}`, rec.Body.String())

	job, _, err := f.store.GetJob(ctx, "fax_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, job.Status)

	rec = f.post(t, body, fixedNow)
	assert.JSONEq(t, `{"ok":true,"duplicate":true,"ignored":false,"message":"Duplicate Telnyx event ignored"}`, rec.Body.String())

	rec = f.post(t, `{"data":{"id":"evt_2","event_type":"fax.queued","payload":{"fax_id":"tx_unknown"}}}`, fixedNow)
	assert.JSONEq(t, `{"ok":true,"duplicate":false,"ignored":true,"message":"Fax job not found for provider id"}`, rec.Body.String())
}

func TestWebhook_Rejections(t *testing.T) {
	f := newWebhook(t, nil, 0)

	rec := f.post(t, `{"data":{"id":"evt_1"}}`, fixedNow.Add(-301*time.Second))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/telnyx", strings.NewReader(`{"data":{"id":"evt_1"}}`))
	assert.Equal(t, http.StatusUnauthorized, do(t, f.handler, req).Code)

	rec = f.post(t, `not json`, fixedNow)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	n, err := f.store.CountWebhookEvents(context.Background(), telnyx.ProviderName, "evt_1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWebhook_RateLimited(t *testing.T) {
	f := newWebhook(t, ratelimit.NewSlidingWindow(), 1)
	assert.Equal(t, http.StatusOK, f.post(t, `{"data":{"id":"evt_1","event_type":"fax.queued"}}`, fixedNow).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.post(t, `{"data":{"id":"evt_2","event_type":"fax.queued"}}`, fixedNow).Code)
}
