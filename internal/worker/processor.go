package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"fax/internal/domain"
	"fax/internal/observability"
	sqsqueue "fax/internal/queue/sqs"
)

type JobDispatcher interface {
	DispatchJob(ctx context.Context, jobID string) (domain.FaxJob, error)
}

type Processor struct {
	Jobs    JobDispatcher
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
	Log     *slog.Logger

	// LimiterWait bounds how long a message waits for a token before it is
	// left for redelivery.
	LimiterWait time.Duration
}

// NewBreaker trips after consecutiveFailures provider errors in a row. Only
// *domain.ProviderError counts; storage errors and missing jobs do not.
func NewBreaker(name string, consecutiveFailures uint32, openFor time.Duration, log *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= consecutiveFailures },
		IsSuccessful: func(err error) bool {
			var perr *domain.ProviderError
			return !errors.As(err, &perr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			}
		},
	})
}

// Process handles one dispatch trigger. A nil return acknowledges the
// message. Breaker-open and pacing failures return an error before the job
// is claimed, so the trigger comes back after the visibility timeout.
func (p *Processor) Process(ctx context.Context, msg sqsqueue.DispatchMessage) error {
	// 1) Rate limit before calling the provider (per pod)
	if p.Limiter != nil {
		waitCtx, cancelWait := context.WithTimeout(ctx, p.limiterWait())
		err := p.Limiter.Wait(waitCtx)
		cancelWait()
		if err != nil {
			observability.RateLimited.WithLabelValues("worker_local").Inc()
			return err
		}
	}

	// 2) Circuit breaker wraps the dispatch
	job, err := p.execute(ctx, msg.JobID)

	// 3) Breaker open: fail fast and let SQS redeliver later
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.Dispatches.WithLabelValues("breaker_open").Inc()
		return err
	}

	var perr *domain.ProviderError
	switch {
	case err == nil:
		p.log().Info("dispatch processed", "job_id", msg.JobID, "status", job.Status)
		return nil
	case errors.As(err, &perr):
		// the job is already failed; redelivery would be a no-op
		p.log().Warn("dispatch provider failure", "job_id", msg.JobID, "err", err)
		return nil
	case errors.Is(err, domain.ErrNotFound):
		p.log().Warn("dispatch for unknown job dropped", "job_id", msg.JobID)
		return nil
	default:
		return err
	}
}

func (p *Processor) execute(ctx context.Context, jobID string) (domain.FaxJob, error) {
	call := func() (any, error) {
		return p.Jobs.DispatchJob(ctx, jobID)
	}
	var res any
	var err error
	if p.Breaker == nil {
		res, err = call()
	} else {
		res, err = p.Breaker.Execute(call)
	}
	job, _ := res.(domain.FaxJob)
	return job, err
}

func (p *Processor) limiterWait() time.Duration {
	if p.LimiterWait > 0 {
		return p.LimiterWait
	}
	return 2 * time.Second
}

func (p *Processor) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}
