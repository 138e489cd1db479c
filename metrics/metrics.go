// Package metrics defines the instrumentation facade for the
// facilitator and its Prometheus implementation.
package metrics

import "time"

// Event counter names.
const (
	EventChallengeIssued  = "challenge_issued"
	EventVerifySucceeded  = "verify_succeeded"
	EventVerifyRejected   = "verify_rejected"
	EventVerifyRetryable  = "verify_retryable"
	EventReplayRejected   = "replay_rejected"
	EventAdmission        = "admission"
	EventAdmissionDenied  = "admission_denied"
	EventRateLimited      = "rate_limited"
	EventOverpayment      = "overpayment"
	EventStoreUnavailable = "store_unavailable"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
