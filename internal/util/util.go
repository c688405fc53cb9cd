package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

func NewJobID() string {
	// ULID is sortable (nice for DB indexes and dashboards)
	return "fax_" + newULID()
}

func NewWebhookEventID() string {
	return "wh_" + newULID()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}

func newULID() string {
	t := time.Now().UTC()
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}
