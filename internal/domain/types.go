package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type JobStatus string

const (
	StatusQueuedForSend JobStatus = "queued_for_send"
	StatusRetryQueued   JobStatus = "retry_queued"
	StatusSending       JobStatus = "sending"
	StatusDelivered     JobStatus = "delivered"
	StatusFailed        JobStatus = "failed"
	StatusCanceled      JobStatus = "canceled"
)

const CanceledByUser = "Canceled by user"

// FaxJob is one outbound transmission request and its lifecycle.
type FaxJob struct {
	ID                 string
	DocumentKey        string
	DestinationFax     string
	DestinationCountry string
	NotificationEmail  string

	Status         JobStatus
	ProviderStatus string
	ProviderJobID  string
	SendAttempts   int
	FailureReason  string
	ClientIP       string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt *time.Time
	CompletedAt *time.Time
}

// MarkSubmitted sets SubmittedAt unless it is already set.
func (j *FaxJob) MarkSubmitted(now time.Time) {
	if j.SubmittedAt == nil {
		t := now
		j.SubmittedAt = &t
	}
}

// MarkCompleted sets CompletedAt unless it is already set.
func (j *FaxJob) MarkCompleted(now time.Time) {
	if j.CompletedAt == nil {
		t := now
		j.CompletedAt = &t
	}
}

// WebhookEvent is an immutable provider callback row. (Provider, ExternalEventID) is unique.
type WebhookEvent struct {
	ID              string
	Provider        string
	ExternalEventID string
	EventType       string
	// ProviderJobID is the correlation key extracted at ingest; it narrows lookups
	// but readers re-extract it from Payload before trusting a match.
	ProviderJobID string
	Payload       json.RawMessage
	ReceivedAt    time.Time
}

type SendResult struct {
	ProviderJobID  string
	ProviderStatus string
}

type CreateFaxJobRequest struct {
	DocumentKey        string `json:"document_key"`
	DestinationFax     string `json:"destination_fax"`
	DestinationCountry string `json:"destination_country"`
	NotificationEmail  string `json:"notification_email,omitempty"`
}

func (r CreateFaxJobRequest) Validate() error {
	if strings.TrimSpace(r.DocumentKey) == "" {
		return &ValidationError{Field: "document_key", Msg: "is required"}
	}
	fax := strings.TrimSpace(r.DestinationFax)
	if len(fax) < 5 || len(fax) > 40 {
		return &ValidationError{Field: "destination_fax", Msg: "must be between 5 and 40 characters"}
	}
	if c := strings.TrimSpace(r.DestinationCountry); c != "" && len(c) != 2 {
		return &ValidationError{Field: "destination_country", Msg: "must be a two-letter country code"}
	}
	if e := strings.TrimSpace(r.NotificationEmail); e != "" && !strings.Contains(e, "@") {
		return &ValidationError{Field: "notification_email", Msg: "is not a valid email address"}
	}
	return nil
}

type CreateFaxJobResponse struct {
	FaxJobID string `json:"fax_job_id"`
	Status   string `json:"status"`
}
