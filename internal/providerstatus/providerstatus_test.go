package providerstatus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fax/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  string
		want Outcome
	}{
		{"delivered", Delivered},
		{"SUCCESS", Delivered},
		{" Cancelled ", Canceled},
		{"cancel_requested", Canceled},
		{"rejected", Failed},
		{"error", Failed},
		{"queued", InProgress},
		{"media.processed", InProgress},
		{"sending.started", InProgress},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Classify(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyUnrecognized(t *testing.T) {
	got, err := Classify("permanently_stuck")
	assert.Equal(t, Unrecognized, got)
	assert.True(t, errors.Is(err, ErrUnrecognized))
	assert.False(t, got.Terminal())
	assert.Equal(t, domain.StatusSending, got.JobStatus())
}

func TestLexiconMapsOntoTerminalStatuses(t *testing.T) {
	for raw, o := range lexicon {
		if o.Terminal() {
			assert.True(t, o.JobStatus().Terminal(), raw)
		} else {
			assert.Equal(t, domain.StatusSending, o.JobStatus(), raw)
		}
	}
}
