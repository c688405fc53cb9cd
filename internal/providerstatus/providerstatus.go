// Package providerstatus classifies free-text provider status strings into a
// closed set of outcomes.
package providerstatus

import (
	"errors"
	"fmt"
	"strings"

	"fax/internal/domain"
)

type Outcome int

const (
	// Unrecognized is returned together with ErrUnrecognized. Callers keep the
	// job in flight; no terminal outcome is ever inferred from an unknown string.
	Unrecognized Outcome = iota
	InProgress
	Delivered
	Canceled
	Failed
)

var ErrUnrecognized = errors.New("unrecognized provider status")

func (o Outcome) String() string {
	switch o {
	case InProgress:
		return "in_progress"
	case Delivered:
		return "delivered"
	case Canceled:
		return "canceled"
	case Failed:
		return "failed"
	default:
		return "unrecognized"
	}
}

func (o Outcome) Terminal() bool {
	return o == Delivered || o == Canceled || o == Failed
}

// JobStatus maps an outcome onto the canonical job status it drives.
// Non-terminal outcomes map to sending.
func (o Outcome) JobStatus() domain.JobStatus {
	switch o {
	case Delivered:
		return domain.StatusDelivered
	case Canceled:
		return domain.StatusCanceled
	case Failed:
		return domain.StatusFailed
	default:
		return domain.StatusSending
	}
}

// lexicon buckets are disjoint; keys are lower-case.
var lexicon = map[string]Outcome{
	"delivered": Delivered,
	"success":   Delivered,

	"canceled":         Canceled,
	"cancelled":        Canceled,
	"cancel_requested": Canceled,

	"failed":   Failed,
	"error":    Failed,
	"rejected": Failed,

	"queued":           InProgress,
	"initiated":        InProgress,
	"originated":       InProgress,
	"processing":       InProgress,
	"media.processing": InProgress,
	"media.processed":  InProgress,
	"sending":          InProgress,
	"sending.started":  InProgress,
}

// Normalize lower-cases and trims a raw provider status.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Classify looks raw up in the lexicon. Strings outside every bucket return
// Unrecognized and an error wrapping ErrUnrecognized.
func Classify(raw string) (Outcome, error) {
	if o, ok := lexicon[Normalize(raw)]; ok {
		return o, nil
	}
	return Unrecognized, fmt.Errorf("%w: %q", ErrUnrecognized, raw)
}
