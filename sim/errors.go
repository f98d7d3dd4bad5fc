package sim

import "errors"

// Terminal work-item conditions. WorkItem.Err wraps one of these so callers
// can use errors.Is.
var (
	ErrDataUnreachable  = errors.New("data item not held by any reachable disk")
	ErrOutOfMemory      = errors.New("guest memory budget exceeded")
	ErrGuestUnavailable = errors.New("guest no longer accepts work")
	ErrTerminated       = errors.New("guest terminated")
)

// FailureReason is the short label recorded in traces and metrics.
type FailureReason string

const (
	FailureNone             FailureReason = ""
	FailureDataUnreachable  FailureReason = "data-unreachable"
	FailureOutOfMemory      FailureReason = "out-of-memory"
	FailureGuestUnavailable FailureReason = "guest-unavailable"
	FailureTerminated       FailureReason = "terminated"
)

var failureErrors = map[FailureReason]error{
	FailureDataUnreachable:  ErrDataUnreachable,
	FailureOutOfMemory:      ErrOutOfMemory,
	FailureGuestUnavailable: ErrGuestUnavailable,
	FailureTerminated:       ErrTerminated,
}
