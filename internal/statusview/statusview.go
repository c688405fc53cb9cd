// Package statusview derives the human-facing progress view of a fax job from
// the job row and its correlated webhook events. It never mutates anything.
package statusview

import (
	"sort"
	"strings"
	"time"

	"fax/internal/domain"
	"fax/internal/providers/telnyx"
)

const (
	SourceSystem = "system"
	SourceTelnyx = telnyx.ProviderName
)

type TimelineEntry struct {
	At     *time.Time `json:"at"`
	Stage  string     `json:"stage"`
	Label  string     `json:"label"`
	Source string     `json:"source"`
	Detail string     `json:"detail,omitempty"`

	weight int
}

type View struct {
	FaxJobID        string          `json:"fax_job_id"`
	Status          string          `json:"status"`
	ProviderStatus  string          `json:"provider_status,omitempty"`
	ProviderJobID   string          `json:"provider_job_id,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	DestinationFax  string          `json:"destination_fax"`
	SendAttempts    int             `json:"send_attempts"`
	ProgressPercent int             `json:"progress_percent"`
	ProgressLabel   string          `json:"progress_label"`
	ProgressStage   string          `json:"progress_stage"`
	CreatedAt       time.Time       `json:"created_at"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Timeline        []TimelineEntry `json:"timeline"`
}

type stageInfo struct {
	stage  string
	label  string
	weight int
}

var eventStages = map[string]stageInfo{
	"fax.queued":          {"fax_queued", "Queued by Telnyx", 45},
	"fax.media.processed": {"fax_media_processed", "Document processed", 68},
	"fax.sending.started": {"fax_sending_started", "Transmission started", 82},
	"fax.delivered":       {"fax_delivered", "Delivered", 100},
	"fax.failed":          {"fax_failed", "Transmission failed", 100},
	"fax.canceled":        {"fax_canceled", "Canceled", 100},
	"fax.cancelled":       {"fax_canceled", "Canceled", 100},
}

type baseline struct {
	percent int
	label   string
	stage   string
}

var statusBaselines = map[domain.JobStatus]baseline{
	domain.StatusQueuedForSend: {30, "Queued for send", "queued_for_send"},
	domain.StatusRetryQueued:   {35, "Retry queued", "retry_queued"},
	domain.StatusSending:       {58, "Transmission in progress", "sending"},
	domain.StatusDelivered:     {100, "Fax delivered successfully", "delivered"},
	domain.StatusFailed:        {100, "Transmission failed", "failed"},
	domain.StatusCanceled:      {100, "Fax canceled", "canceled"},
}

var defaultBaseline = baseline{30, "Preparing transmission", "processing"}

var finalLabels = map[domain.JobStatus]string{
	domain.StatusDelivered: "Completed: delivered",
	domain.StatusFailed:    "Completed: failed",
	domain.StatusCanceled:  "Completed: canceled",
}

// Build is a pure function of its inputs. Events whose payload does not carry
// the job's provider id are dropped, whatever the row's indexed key said.
func Build(job domain.FaxJob, events []domain.WebhookEvent) View {
	timeline := systemEntries(job)
	timeline = append(timeline, providerEntries(job, events)...)
	sortTimeline(timeline)

	percent, label, stage := progress(job, timeline)
	return View{
		FaxJobID:        job.ID,
		Status:          string(job.Status),
		ProviderStatus:  job.ProviderStatus,
		ProviderJobID:   job.ProviderJobID,
		FailureReason:   job.FailureReason,
		DestinationFax:  job.DestinationFax,
		SendAttempts:    job.SendAttempts,
		ProgressPercent: percent,
		ProgressLabel:   label,
		ProgressStage:   stage,
		CreatedAt:       job.CreatedAt,
		SubmittedAt:     job.SubmittedAt,
		CompletedAt:     job.CompletedAt,
		Timeline:        timeline,
	}
}

func systemEntries(job domain.FaxJob) []TimelineEntry {
	created := job.CreatedAt
	out := []TimelineEntry{{
		At:     &created,
		Stage:  "job_created",
		Label:  "Request created",
		Source: SourceSystem,
		Detail: "Destination " + job.DestinationFax,
	}}
	if job.SubmittedAt != nil {
		out = append(out, TimelineEntry{
			At:     job.SubmittedAt,
			Stage:  "submitted",
			Label:  "Submitted to fax provider",
			Source: SourceSystem,
			Detail: job.ProviderJobID,
		})
	}
	if job.Status.Terminal() && job.CompletedAt != nil {
		out = append(out, TimelineEntry{
			At:     job.CompletedAt,
			Stage:  "final_" + string(job.Status),
			Label:  finalLabels[job.Status],
			Source: SourceSystem,
			Detail: job.FailureReason,
		})
	}
	return out
}

func providerEntries(job domain.FaxJob, events []domain.WebhookEvent) []TimelineEntry {
	if job.ProviderJobID == "" {
		return nil
	}
	var out []TimelineEntry
	for _, ev := range events {
		env, err := telnyx.ParseStoredEvent(ev)
		if err != nil || env.ProviderJobID() != job.ProviderJobID {
			continue
		}
		info := lookupStage(ev.EventType)

		at := env.OccurredAt
		if at == nil && !ev.ReceivedAt.IsZero() {
			received := ev.ReceivedAt
			at = &received
		}
		out = append(out, TimelineEntry{
			At:     at,
			Stage:  info.stage,
			Label:  info.label,
			Source: SourceTelnyx,
			Detail: env.Detail(),
			weight: info.weight,
		})
	}
	return out
}

func lookupStage(eventType string) stageInfo {
	t := strings.ToLower(strings.TrimSpace(eventType))
	if t == "" {
		t = "provider.update"
	}
	if info, ok := eventStages[t]; ok {
		return info
	}
	return stageInfo{stage: "provider_" + strings.ReplaceAll(t, ".", "_"), label: t}
}

// sortTimeline orders by (time, source, stage). A missing time sorts first.
func sortTimeline(entries []TimelineEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.At == nil && b.At != nil:
			return true
		case a.At != nil && b.At == nil:
			return false
		case a.At != nil && b.At != nil && !a.At.Equal(*b.At):
			return a.At.Before(*b.At)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Stage < b.Stage
	})
}

func progress(job domain.FaxJob, timeline []TimelineEntry) (int, string, string) {
	base, ok := statusBaselines[job.Status]
	if !ok {
		base = defaultBaseline
	}

	var latest *TimelineEntry
	highest := 0
	for i := range timeline {
		if timeline[i].Source != SourceTelnyx {
			continue
		}
		latest = &timeline[i]
		if timeline[i].weight > highest {
			highest = timeline[i].weight
		}
	}
	if latest == nil {
		if job.Status.Terminal() {
			for _, e := range timeline {
				if e.Stage == "final_"+string(job.Status) {
					return 100, e.Label, e.Stage
				}
			}
		}
		return base.percent, base.label, base.stage
	}

	switch {
	case job.Status == domain.StatusSending:
		percent := base.percent
		if highest > percent {
			percent = highest
		}
		label := base.label
		if latest.weight > 0 {
			label = latest.Label
		}
		return percent, label, latest.Stage
	case job.Status.Terminal():
		return 100, latest.Label, latest.Stage
	default:
		return base.percent, base.label, base.stage
	}
}
