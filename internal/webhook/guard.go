// Package webhook authenticates, deduplicates and correlates inbound provider
// callbacks before handing their status to the dispatcher.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"fax/internal/domain"
	"fax/internal/observability"
	"fax/internal/providers/telnyx"
	"fax/internal/util"
)

type Outcome string

const (
	Accepted  Outcome = "accepted"
	Duplicate Outcome = "duplicate"
	Ignored   Outcome = "ignored"
	Rejected  Outcome = "rejected"
)

type Result struct {
	Outcome Outcome
	Message string
	JobID   string
}

type Store interface {
	InsertWebhookEvent(ctx context.Context, ev domain.WebhookEvent) (bool, error)
	FindJobByProviderJobID(ctx context.Context, providerJobID string) (domain.FaxJob, bool, error)
}

type StatusApplier interface {
	ApplyProviderStatus(ctx context.Context, jobID, providerStatus, failureReason string) (domain.FaxJob, error)
}

type Verifier interface {
	Verify(rawBody []byte, signature, timestamp string) error
}

type Guard struct {
	Store   Store
	Applier StatusApplier
	Log     *slog.Logger
	Now     func() time.Time

	// Verifier is nil when no public key is configured; every body is then trusted.
	Verifier Verifier
}

// Ingest processes one Telnyx delivery. A rejected delivery returns a
// *domain.AuthenticationError and leaves no trace in storage. A malformed
// body returns a *domain.ValidationError.
func (g *Guard) Ingest(ctx context.Context, rawBody []byte, headers http.Header) (Result, error) {
	if g.Verifier != nil {
		err := g.Verifier.Verify(rawBody, headers.Get(telnyx.HeaderSignature), headers.Get(telnyx.HeaderTimestamp))
		if err != nil {
			observability.WebhookEvents.WithLabelValues(string(Rejected)).Inc()
			g.log().Warn("webhook rejected", "err", err)
			return Result{Outcome: Rejected, Message: err.Error()}, err
		}
	}

	env, err := telnyx.ParseEnvelope(rawBody)
	if err != nil {
		observability.WebhookEvents.WithLabelValues("invalid").Inc()
		return Result{}, err
	}
	providerJobID := env.ProviderJobID()

	inserted, err := g.Store.InsertWebhookEvent(ctx, domain.WebhookEvent{
		ID:              util.NewWebhookEventID(),
		Provider:        telnyx.ProviderName,
		ExternalEventID: env.EventID,
		EventType:       env.EventType,
		ProviderJobID:   providerJobID,
		Payload:         append([]byte(nil), rawBody...),
		ReceivedAt:      g.now(),
	})
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		observability.WebhookEvents.WithLabelValues(string(Duplicate)).Inc()
		g.log().Info("duplicate webhook", "event_id", env.EventID, "event_type", env.EventType)
		return Result{Outcome: Duplicate, Message: "Duplicate Telnyx event ignored"}, nil
	}

	if providerJobID == "" {
		observability.WebhookEvents.WithLabelValues(string(Ignored)).Inc()
		return Result{Outcome: Ignored, Message: "No fax id in Telnyx webhook"}, nil
	}
	job, ok, err := g.Store.FindJobByProviderJobID(ctx, providerJobID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		observability.WebhookEvents.WithLabelValues(string(Ignored)).Inc()
		g.log().Info("webhook for unknown fax", "event_id", env.EventID, "provider_job_id", providerJobID)
		return Result{Outcome: Ignored, Message: "Fax job not found for provider id"}, nil
	}

	updated, err := g.Applier.ApplyProviderStatus(ctx, job.ID, env.ProviderStatus(), env.FailureReason())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{Outcome: Ignored, Message: "Fax job not found for provider id"}, nil
		}
		return Result{}, err
	}

	observability.WebhookEvents.WithLabelValues(string(Accepted)).Inc()
	g.log().Info("webhook applied", "event_id", env.EventID, "event_type", env.EventType,
		"job_id", job.ID, "status", updated.Status)
	return Result{Outcome: Accepted, JobID: job.ID}, nil
}

func (g *Guard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

func (g *Guard) log() *slog.Logger {
	if g.Log != nil {
		return g.Log
	}
	return slog.Default()
}
