package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fax/internal/domain"
	"fax/internal/media"
	"fax/internal/observability"
	"fax/internal/providers/telnyx"
	"fax/internal/ratelimit"
	"fax/internal/statusview"
	"fax/internal/store"
	"fax/internal/util"
)

const (
	DefaultPresignTTL    = 900 * time.Second
	DefaultJobsPerIPHour = 200

	reasonDocumentMissing = "Document file missing"
	reasonEnqueueFailed   = "Dispatch enqueue failed"
)

type Store interface {
	CreateJob(ctx context.Context, j domain.FaxJob) error
	GetJob(ctx context.Context, id string) (domain.FaxJob, bool, error)
	ListWebhookEvents(ctx context.Context, provider, providerJobID string, limit int) ([]domain.WebhookEvent, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, jobID, mediaURL string) (domain.FaxJob, error)
	Cancel(ctx context.Context, jobID string) (domain.FaxJob, error)
	MarkFailed(ctx context.Context, jobID, reason string) (domain.FaxJob, error)
}

type Queue interface {
	EnqueueDispatch(ctx context.Context, jobID string) error
}

// FaxService is the API-facing entry point. With a Queue set, new jobs are
// handed to the worker; otherwise they are dispatched inline.
type FaxService struct {
	Store      Store
	Dispatcher Dispatcher
	Media      media.Backend
	Limiter    ratelimit.Limiter
	Queue      Queue
	Log        *slog.Logger

	SupportedCountries []string
	JobsPerIPHour      int
	PresignTTL         time.Duration

	NewID func() string
	Now   func() time.Time
}

func (s *FaxService) CreateJob(ctx context.Context, req domain.CreateFaxJobRequest, clientIP string) (domain.CreateFaxJobResponse, error) {
	if err := req.Validate(); err != nil {
		return domain.CreateFaxJobResponse{}, err
	}
	country := strings.ToUpper(strings.TrimSpace(req.DestinationCountry))
	if country == "" {
		country = "US"
	}
	if !s.countrySupported(country) {
		return domain.CreateFaxJobResponse{}, &domain.ValidationError{
			Field: "destination_country",
			Msg:   fmt.Sprintf("Destination country %s is not supported", country),
		}
	}
	fax, err := util.NormalizeUSFax(req.DestinationFax)
	if err != nil {
		return domain.CreateFaxJobResponse{}, err
	}

	if clientIP == "" {
		clientIP = "unknown"
	}
	allowed, err := s.limiter().Allow(ctx, "faxjob:ip:"+clientIP, s.jobsPerHour(), time.Hour)
	if err != nil {
		return domain.CreateFaxJobResponse{}, fmt.Errorf("rate limit: %w", err)
	}
	if !allowed {
		observability.RateLimited.WithLabelValues("faxjob_ip").Inc()
		return domain.CreateFaxJobResponse{}, domain.ErrRateLimited
	}

	key := strings.TrimSpace(req.DocumentKey)
	if err := media.ValidateKey(key); err != nil {
		return domain.CreateFaxJobResponse{}, &domain.ValidationError{Field: "document_key", Msg: "is not a valid storage key"}
	}
	exists, err := s.Media.Exists(ctx, key)
	if err != nil {
		return domain.CreateFaxJobResponse{}, fmt.Errorf("check document: %w", err)
	}
	if !exists {
		return domain.CreateFaxJobResponse{}, fmt.Errorf("document %s: %w", key, domain.ErrNotFound)
	}

	now := s.now()
	job := domain.FaxJob{
		ID:                 s.newID(),
		DocumentKey:        key,
		DestinationFax:     fax,
		DestinationCountry: country,
		NotificationEmail:  strings.ToLower(strings.TrimSpace(req.NotificationEmail)),
		Status:             domain.StatusQueuedForSend,
		ClientIP:           clientIP,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.Store.CreateJob(ctx, job); err != nil {
		return domain.CreateFaxJobResponse{}, err
	}
	s.log().Info("fax job created", "job_id", job.ID, "country", country)

	if s.Queue != nil {
		if err := s.Queue.EnqueueDispatch(ctx, job.ID); err != nil {
			observability.Enqueues.WithLabelValues("error").Inc()
			if _, mErr := s.Dispatcher.MarkFailed(ctx, job.ID, reasonEnqueueFailed); mErr != nil {
				s.log().Error("mark job failed after enqueue error", "job_id", job.ID, "err", mErr)
			}
			return domain.CreateFaxJobResponse{}, fmt.Errorf("enqueue dispatch: %w", err)
		}
		observability.Enqueues.WithLabelValues("ok").Inc()
		return domain.CreateFaxJobResponse{FaxJobID: job.ID, Status: string(job.Status)}, nil
	}

	dispatched, err := s.DispatchJob(ctx, job.ID)
	var perr *domain.ProviderError
	if err != nil && !errors.As(err, &perr) {
		return domain.CreateFaxJobResponse{}, err
	}
	return domain.CreateFaxJobResponse{FaxJobID: job.ID, Status: string(dispatched.Status)}, nil
}

// DispatchJob resolves the job's document into a fetchable URL and hands it
// to the dispatcher. Terminal jobs are returned as they are.
func (s *FaxService) DispatchJob(ctx context.Context, jobID string) (domain.FaxJob, error) {
	job, found, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return domain.FaxJob{}, err
	}
	if !found {
		return domain.FaxJob{}, domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return job, nil
	}

	exists, err := s.Media.Exists(ctx, job.DocumentKey)
	if err != nil {
		return job, fmt.Errorf("check document: %w", err)
	}
	if !exists {
		s.log().Warn("fax document missing", "job_id", jobID, "document_key", job.DocumentKey)
		return s.Dispatcher.MarkFailed(ctx, jobID, reasonDocumentMissing)
	}

	mediaURL, err := s.Media.PublicURL(ctx, job.DocumentKey, s.presignTTL())
	if err != nil {
		return job, fmt.Errorf("media url: %w", err)
	}
	return s.Dispatcher.Dispatch(ctx, jobID, mediaURL)
}

func (s *FaxService) GetStatus(ctx context.Context, jobID string) (statusview.View, error) {
	job, found, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return statusview.View{}, err
	}
	if !found {
		return statusview.View{}, domain.ErrNotFound
	}
	return s.view(ctx, job)
}

func (s *FaxService) Cancel(ctx context.Context, jobID string) (statusview.View, error) {
	job, err := s.Dispatcher.Cancel(ctx, jobID)
	if err != nil {
		return statusview.View{}, err
	}
	s.log().Info("fax job canceled", "job_id", jobID, "provider_status", job.ProviderStatus)
	return s.view(ctx, job)
}

func (s *FaxService) view(ctx context.Context, job domain.FaxJob) (statusview.View, error) {
	var events []domain.WebhookEvent
	if job.ProviderJobID != "" {
		var err error
		events, err = s.Store.ListWebhookEvents(ctx, telnyx.ProviderName, job.ProviderJobID, store.MaxTimelineEvents)
		if err != nil {
			return statusview.View{}, err
		}
	}
	return statusview.Build(job, events), nil
}

func (s *FaxService) countrySupported(country string) bool {
	if len(s.SupportedCountries) == 0 {
		return country == "US"
	}
	for _, c := range s.SupportedCountries {
		if strings.EqualFold(strings.TrimSpace(c), country) {
			return true
		}
	}
	return false
}

func (s *FaxService) limiter() ratelimit.Limiter {
	if s.Limiter == nil {
		return ratelimit.NoOp{}
	}
	return s.Limiter
}

func (s *FaxService) jobsPerHour() int {
	if s.JobsPerIPHour <= 0 {
		return DefaultJobsPerIPHour
	}
	return s.JobsPerIPHour
}

func (s *FaxService) presignTTL() time.Duration {
	if s.PresignTTL <= 0 {
		return DefaultPresignTTL
	}
	return s.PresignTTL
}

func (s *FaxService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return util.NewJobID()
}

func (s *FaxService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return util.NowUTC()
}

func (s *FaxService) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
