package handoff

import "errors"

var (
	// ErrPromotion means the run could not be promoted to a foreground
	// execution slot within the grace period.
	ErrPromotion = errors.New("handoff: foreground promotion failed")

	ErrBootstrapTimeout  = errors.New("handoff: bootstrap timed out")
	ErrBootstrapFailed   = errors.New("handoff: bootstrap failed")
	ErrCompletionTimeout = errors.New("handoff: completion timed out")
	ErrCompletionFailed  = errors.New("handoff: delegated work failed")

	ErrOwnerStopped = errors.New("handoff: owner loop stopped")
	ErrOwnerBusy    = errors.New("handoff: owner queue full")
)
