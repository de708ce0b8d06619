package uplink

import "time"

// Class buckets a send attempt by what the connector should do next.
type Class int

const (
	ClassSuccess Class = iota
	ClassRetryable
	ClassPermanent
)

// Classify maps an HTTP status to its retry class. 2xx succeeds,
// 408/429 and every 5xx are worth retrying, any other 4xx is a
// permanent rejection. Network and TLS errors never reach here; the
// connector treats them as retryable directly.
func Classify(status int) Class {
	switch {
	case status >= 200 && status < 300:
		return ClassSuccess
	case status == 408 || status == 429 || status >= 500:
		return ClassRetryable
	default:
		return ClassPermanent
	}
}

// RetryPolicy is the backoff schedule for one record. The schedule is
// extended by repeating its last element until MaxRetries attempts have
// been made.
type RetryPolicy struct {
	BackoffMS  []int
	MaxRetries int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BackoffMS:  []int{200, 500, 1000, 2000},
		MaxRetries: 8,
	}
}

// Attempts returns the total number of send attempts the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}

// Delay returns the wait after the given zero-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.BackoffMS) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.BackoffMS) {
		attempt = len(p.BackoffMS) - 1
	}
	return time.Duration(p.BackoffMS[attempt]) * time.Millisecond
}

// Outcome is the terminal state a record reached in one Send call.
type Outcome int

const (
	// OutcomeSent means the cloud acknowledged the record.
	OutcomeSent Outcome = iota
	// OutcomeBuffered means retries were exhausted on a retryable
	// failure and the record went back to the durable queue.
	OutcomeBuffered
	// OutcomeDeadLettered means the cloud rejected the record
	// permanently.
	OutcomeDeadLettered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}
