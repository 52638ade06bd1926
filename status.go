package tandem

import (
	"fmt"
	"time"
)

// Response is the outcome of a single [StatusClient] call.
//
// Response is a closed set: the only implementations are [SuccessResponse],
// [FailureResponse], and [RetryResponse]. The unexported marker method keeps
// other packages from adding variants, so a switch over these three types is
// exhaustive. Any other value reaching the poller is a contract violation.
type Response interface {
	isResponse()
}

// SuccessResponse reports the status of an application.
type SuccessResponse struct {
	ID     string
	Status string
}

// FailureResponse reports that the backend could not produce a status.
type FailureResponse struct{}

// RetryResponse asks the caller to try again after Delay.
type RetryResponse struct {
	Delay time.Duration
}

func (SuccessResponse) isResponse() {}
func (FailureResponse) isResponse() {}
func (RetryResponse) isResponse()   {}

func (r SuccessResponse) String() string {
	return fmt.Sprintf("success(id=%s, status=%s)", r.ID, r.Status)
}

func (FailureResponse) String() string {
	return "failure"
}

func (r RetryResponse) String() string {
	return fmt.Sprintf("retry(delay=%s)", r.Delay)
}

// ApplicationStatus is the terminal result of [StatusPoller.GetStatus].
//
// Like [Response] it is closed: either [SuccessStatus] or [FailureStatus].
// Retry responses are consumed by the poller and never surface here.
type ApplicationStatus interface {
	isApplicationStatus()
}

// SuccessStatus carries the status reported by the winning backend.
type SuccessStatus struct {
	ApplicationID string
	Status        string
}

// FailureStatus describes a poll that ended without a status.
type FailureStatus struct {
	// LastAttemptTime is the clock reading taken right before the most recent
	// attempt was issued. The zero value means no attempt was made.
	LastAttemptTime time.Time

	// AttemptCount is the number of attempts issued, including attempts
	// answered with a retry.
	AttemptCount int
}

func (SuccessStatus) isApplicationStatus() {}
func (FailureStatus) isApplicationStatus() {}

// HasAttempt reports whether LastAttemptTime was recorded.
func (s FailureStatus) HasAttempt() bool {
	return !s.LastAttemptTime.IsZero()
}

// Clock supplies the current time. Tests inject a fixed clock to make
// [FailureStatus.LastAttemptTime] deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock is a [Clock] backed by [time.Now].
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
