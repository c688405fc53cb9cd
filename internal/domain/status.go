package domain

import (
	"fmt"
	"strings"
)

// transitions is the complete set of allowed status moves. Terminal statuses have no entry.
// sending -> sending is allowed so a liveness webhook can re-confirm an in-flight job.
var transitions = map[JobStatus][]JobStatus{
	StatusQueuedForSend: {StatusSending, StatusCanceled, StatusFailed},
	StatusRetryQueued:   {StatusSending, StatusCanceled, StatusFailed},
	StatusSending:       {StatusSending, StatusDelivered, StatusFailed, StatusCanceled},
}

var allStatuses = []JobStatus{
	StatusQueuedForSend, StatusRetryQueued, StatusSending,
	StatusDelivered, StatusFailed, StatusCanceled,
}

// ParseJobStatus accepts one of the six canonical values. The British "cancelled"
// spelling is folded into canceled.
func ParseJobStatus(s string) (JobStatus, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "cancelled" {
		return StatusCanceled, nil
	}
	for _, st := range allStatuses {
		if string(st) == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

func (s JobStatus) Valid() bool {
	for _, st := range allStatuses {
		if st == s {
			return true
		}
	}
	return false
}

func (s JobStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusCanceled
}

// Dispatchable reports whether a dispatch may start from s.
func (s JobStatus) Dispatchable() bool {
	return s == StatusQueuedForSend || s == StatusRetryQueued
}

func (s JobStatus) Cancelable() bool {
	return s.Dispatchable() || s == StatusSending
}

func (s JobStatus) CanTransition(to JobStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the job to a new status, enforcing the transition table.
func (j *FaxJob) Transition(to JobStatus) error {
	if !j.Status.CanTransition(to) {
		return &ConflictError{JobID: j.ID, Status: j.Status, Op: "transition to " + string(to)}
	}
	j.Status = to
	return nil
}
