package uplink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		want   Class
	}{
		{200, ClassSuccess},
		{201, ClassSuccess},
		{299, ClassSuccess},
		{408, ClassRetryable},
		{429, ClassRetryable},
		{500, ClassRetryable},
		{502, ClassRetryable},
		{503, ClassRetryable},
		{400, ClassPermanent},
		{401, ClassPermanent},
		{403, ClassPermanent},
		{404, ClassPermanent},
		{422, ClassPermanent},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.status), "status %d", tc.status)
	}
}

func TestRetryPolicyDelayRepeatsLastElement(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 8, p.Attempts())
	assert.Equal(t, 200*time.Millisecond, p.Delay(0))
	assert.Equal(t, 500*time.Millisecond, p.Delay(1))
	assert.Equal(t, 1000*time.Millisecond, p.Delay(2))
	assert.Equal(t, 2000*time.Millisecond, p.Delay(3))

	// Schedule shorter than max_retries: the last element repeats.
	for attempt := 4; attempt < p.Attempts(); attempt++ {
		assert.Equal(t, 2000*time.Millisecond, p.Delay(attempt))
	}
}

func TestRetryPolicyEmptySchedule(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3}
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 3, p.Attempts())

	assert.Equal(t, 1, RetryPolicy{}.Attempts())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "sent", OutcomeSent.String())
	assert.Equal(t, "buffered", OutcomeBuffered.String())
	assert.Equal(t, "dead_lettered", OutcomeDeadLettered.String())
}
