package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    JobStatus
		wantErr bool
	}{
		{in: "queued_for_send", want: StatusQueuedForSend},
		{in: " SENDING ", want: StatusSending},
		{in: "cancelled", want: StatusCanceled},
		{in: "canceled", want: StatusCanceled},
		{in: "submitted", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseJobStatus(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	for _, from := range []JobStatus{StatusDelivered, StatusFailed, StatusCanceled} {
		assert.True(t, from.Terminal())
		for _, to := range allStatuses {
			assert.False(t, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestDispatchableAndCancelable(t *testing.T) {
	assert.True(t, StatusQueuedForSend.Dispatchable())
	assert.True(t, StatusRetryQueued.Dispatchable())
	assert.False(t, StatusSending.Dispatchable())
	assert.True(t, StatusSending.Cancelable())
	assert.False(t, StatusDelivered.Cancelable())
	assert.False(t, JobStatus("cancelled").Valid())
}

func TestTransitionRejectsTerminal(t *testing.T) {
	job := FaxJob{ID: "fax_1", Status: StatusDelivered}
	err := job.Transition(StatusSending)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, StatusDelivered, job.Status)
	assert.Equal(t, StatusDelivered, conflict.Status)
}

func TestMarkTimestampsAreSetOnce(t *testing.T) {
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := FaxJob{}
	job.MarkSubmitted(first)
	job.MarkSubmitted(first.Add(time.Hour))
	job.MarkCompleted(first)
	job.MarkCompleted(first.Add(time.Hour))

	assert.Equal(t, first, *job.SubmittedAt)
	assert.Equal(t, first, *job.CompletedAt)
}

func TestCreateFaxJobRequestValidate(t *testing.T) {
	ok := CreateFaxJobRequest{DocumentKey: "doc.pdf", DestinationFax: "+14155550123", DestinationCountry: "US"}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.DestinationCountry = "USA"
	var verr *ValidationError
	require.ErrorAs(t, bad.Validate(), &verr)
	assert.Equal(t, "destination_country", verr.Field)

	bad = ok
	bad.DocumentKey = " "
	require.ErrorAs(t, bad.Validate(), &verr)
}
