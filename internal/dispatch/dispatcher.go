// Package dispatch owns fax job status transitions. It claims jobs, calls the
// provider outside the row lock and applies the classified outcome.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fax/internal/domain"
	"fax/internal/observability"
	"fax/internal/providerstatus"
	"fax/internal/store"
)

const (
	DefaultCallTimeout = 15 * time.Second

	reasonProviderFailed = "Fax provider marked this fax as failed."
	reasonWebhookFailed  = "Fax transmission failed"
)

type Store interface {
	GetJob(ctx context.Context, id string) (domain.FaxJob, bool, error)
	UpdateJob(ctx context.Context, id string, fn store.Mutation) (domain.FaxJob, error)
}

type Provider interface {
	SendFax(ctx context.Context, destination, mediaURL string) (domain.SendResult, error)
	CancelFax(ctx context.Context, providerJobID string) (string, error)
}

type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Dispatcher struct {
	Store    Store
	Provider Provider
	Notifier Notifier
	Log      *slog.Logger

	CallTimeout time.Duration
	Now         func() time.Time
}

func New(st Store, provider Provider, notifier Notifier, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		Store:       st,
		Provider:    provider,
		Notifier:    notifier,
		Log:         log,
		CallTimeout: DefaultCallTimeout,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch sends a queued job to the provider. A job that is not queued is
// returned untouched, so duplicate triggers never reach the provider twice.
// A provider failure marks the job failed and is returned as *domain.ProviderError.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID, mediaURL string) (domain.FaxJob, error) {
	claimed := false
	job, err := d.Store.UpdateJob(ctx, jobID, func(j *domain.FaxJob) error {
		if !j.Status.Dispatchable() {
			return store.ErrUnchanged
		}
		if err := j.Transition(domain.StatusSending); err != nil {
			return err
		}
		j.SendAttempts++
		j.MarkSubmitted(d.now())
		claimed = true
		return nil
	})
	if err != nil {
		return domain.FaxJob{}, err
	}
	if !claimed {
		d.Log.Info("dispatch skipped", "job_id", jobID, "status", job.Status)
		observability.Dispatches.WithLabelValues("skipped").Inc()
		return job, nil
	}

	res, sendErr := d.send(ctx, job.DestinationFax, mediaURL)
	if sendErr != nil {
		d.Log.Warn("fax dispatch failed", "job_id", jobID, "attempt", job.SendAttempts, "err", sendErr)
		failed, err := d.Store.UpdateJob(ctx, jobID, func(j *domain.FaxJob) error {
			if j.Status.Terminal() {
				return store.ErrUnchanged
			}
			j.FailureReason = sendErr.Error()
			return j.Transition(domain.StatusFailed)
		})
		if err != nil {
			return domain.FaxJob{}, errors.Join(sendErr, err)
		}
		observability.Dispatches.WithLabelValues(string(failed.Status)).Inc()
		return failed, sendErr
	}

	outcome := d.classify(jobID, res.ProviderStatus, "dispatch")
	notify := false
	job, err = d.Store.UpdateJob(ctx, jobID, func(j *domain.FaxJob) error {
		j.ProviderJobID = res.ProviderJobID
		j.ProviderStatus = res.ProviderStatus
		if j.Status.Terminal() {
			return nil
		}
		if err := j.Transition(outcome.JobStatus()); err != nil {
			return err
		}
		switch outcome {
		case providerstatus.Delivered:
			j.MarkCompleted(d.now())
			notify = true
		case providerstatus.Canceled:
			j.MarkCompleted(d.now())
			j.FailureReason = domain.CanceledByUser
		case providerstatus.Failed:
			j.FailureReason = reasonProviderFailed
		}
		return nil
	})
	if err != nil {
		return domain.FaxJob{}, err
	}

	d.Log.Info("fax submitted", "job_id", jobID, "provider_job_id", job.ProviderJobID,
		"provider_status", job.ProviderStatus, "status", job.Status)
	observability.Dispatches.WithLabelValues(string(job.Status)).Inc()
	if notify {
		d.notifyDelivered(ctx, job)
	}
	return job, nil
}

// Cancel stops a job that has not reached a terminal status. An in-flight
// job is canceled at the provider first; if that call fails the job is left
// as it was and the error is returned.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) (domain.FaxJob, error) {
	cur, ok, err := d.Store.GetJob(ctx, jobID)
	if err != nil {
		return domain.FaxJob{}, err
	}
	if !ok {
		return domain.FaxJob{}, domain.ErrNotFound
	}
	if !cur.Status.Cancelable() {
		return domain.FaxJob{}, &domain.ConflictError{JobID: jobID, Status: cur.Status, Op: "cancel"}
	}

	providerStatus := ""
	if cur.Status == domain.StatusSending && cur.ProviderJobID != "" {
		callCtx, cancel := context.WithTimeout(ctx, d.timeout())
		start := time.Now()
		providerStatus, err = d.Provider.CancelFax(callCtx, cur.ProviderJobID)
		cancel()
		observability.ProviderLatency.WithLabelValues("cancel").Observe(time.Since(start).Seconds())
		if err != nil {
			observability.ProviderCalls.WithLabelValues("cancel", "error").Inc()
			d.Log.Warn("provider cancel failed", "job_id", jobID, "provider_job_id", cur.ProviderJobID, "err", err)
			return domain.FaxJob{}, asProviderError("cancel", err)
		}
		observability.ProviderCalls.WithLabelValues("cancel", "ok").Inc()
	}

	job, err := d.Store.UpdateJob(ctx, jobID, func(j *domain.FaxJob) error {
		if !j.Status.Cancelable() {
			return &domain.ConflictError{JobID: jobID, Status: j.Status, Op: "cancel"}
		}
		if err := j.Transition(domain.StatusCanceled); err != nil {
			return err
		}
		j.MarkCompleted(d.now())
		j.FailureReason = domain.CanceledByUser
		switch {
		case providerStatus != "":
			j.ProviderStatus = providerStatus
		case j.ProviderStatus == "":
			j.ProviderStatus = "canceled"
		}
		return nil
	})
	if err != nil {
		return domain.FaxJob{}, err
	}
	d.Log.Info("fax job canceled", "job_id", jobID, "provider_status", job.ProviderStatus)
	return job, nil
}

// ApplyProviderStatus feeds a webhook-reported status into the job. Terminal
// jobs are never touched. Unrecognized statuses keep the job in sending.
func (d *Dispatcher) ApplyProviderStatus(ctx context.Context, jobID, providerStatus, failureReason string) (domain.FaxJob, error) {
	normalized := providerstatus.Normalize(providerStatus)
	outcome := d.classify(jobID, normalized, "webhook")
	notify := false

	job, err := d.Store.UpdateJob(ctx, jobID, func(j *domain.FaxJob) error {
		if j.Status.Terminal() {
			return store.ErrUnchanged
		}
		j.ProviderStatus = normalized
		if err := j.Transition(outcome.JobStatus()); err != nil {
			return err
		}
		switch outcome {
		case providerstatus.Delivered:
			j.MarkCompleted(d.now())
			j.FailureReason = ""
			notify = true
		case providerstatus.Canceled:
			j.MarkCompleted(d.now())
			j.FailureReason = domain.CanceledByUser
		case providerstatus.Failed:
			j.MarkCompleted(d.now())
			j.FailureReason = failureReason
			if j.FailureReason == "" {
				j.FailureReason = reasonWebhookFailed
			}
		}
		return nil
	})
	if err != nil {
		return domain.FaxJob{}, err
	}
	if notify {
		d.notifyDelivered(ctx, job)
	}
	return job, nil
}

// MarkFailed fails a job that cannot be dispatched at all, e.g. when its
// document is gone. Terminal jobs are left alone.
func (d *Dispatcher) MarkFailed(ctx context.Context, jobID, reason string) (domain.FaxJob, error) {
	return d.Store.UpdateJob(ctx, jobID, func(j *domain.FaxJob) error {
		if j.Status.Terminal() {
			return store.ErrUnchanged
		}
		j.FailureReason = reason
		return j.Transition(domain.StatusFailed)
	})
}

func (d *Dispatcher) send(ctx context.Context, destination, mediaURL string) (domain.SendResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	start := time.Now()
	res, err := d.Provider.SendFax(callCtx, destination, mediaURL)
	observability.ProviderLatency.WithLabelValues("send").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ProviderCalls.WithLabelValues("send", "error").Inc()
		return domain.SendResult{}, asProviderError("send", err)
	}
	if res.ProviderJobID == "" {
		observability.ProviderCalls.WithLabelValues("send", "error").Inc()
		return domain.SendResult{}, &domain.ProviderError{Op: "send", Err: errors.New("provider returned no fax id")}
	}
	observability.ProviderCalls.WithLabelValues("send", "ok").Inc()
	return res, nil
}

func (d *Dispatcher) classify(jobID, raw, source string) providerstatus.Outcome {
	outcome, err := providerstatus.Classify(raw)
	if err != nil {
		d.Log.Warn("unrecognized provider status", "job_id", jobID, "provider_status", raw, "source", source)
		observability.UnrecognizedStatuses.WithLabelValues(source).Inc()
	}
	return outcome
}

func (d *Dispatcher) notifyDelivered(ctx context.Context, job domain.FaxJob) {
	if d.Notifier == nil || job.NotificationEmail == "" {
		return
	}
	err := d.Notifier.Send(ctx, job.NotificationEmail, "Fax delivered",
		"Your fax to "+job.DestinationFax+" was delivered successfully.")
	if err != nil {
		observability.Notifications.WithLabelValues("error").Inc()
		d.Log.Warn("delivery notification failed", "job_id", job.ID, "err", err)
		return
	}
	observability.Notifications.WithLabelValues("sent").Inc()
}

func (d *Dispatcher) timeout() time.Duration {
	if d.CallTimeout > 0 {
		return d.CallTimeout
	}
	return DefaultCallTimeout
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func asProviderError(op string, err error) error {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &domain.ProviderError{Op: op, Err: err}
}
