// Package store holds what the persistence backends share.
package store

import (
	"errors"

	"fax/internal/domain"
)

// MaxTimelineEvents caps how many webhook rows a status read loads per job.
const MaxTimelineEvents = 250

// ErrUnchanged is returned by a Mutation to abort UpdateJob without writing.
// UpdateJob then returns the job as loaded and a nil error.
var ErrUnchanged = errors.New("store: job unchanged")

// Mutation edits a job while the backend holds its row lock. Returning an
// error other than ErrUnchanged rolls back and is passed through to the caller.
type Mutation func(job *domain.FaxJob) error

// Apply runs fn over a copy of job and reports whether the result should be
// persisted. Backends use it so every engine treats ErrUnchanged alike.
func Apply(job domain.FaxJob, fn Mutation) (out domain.FaxJob, write bool, err error) {
	out = job
	if err := fn(&out); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return job, false, nil
		}
		return job, false, err
	}
	return out, true, nil
}
