package controller

import "errors"

// Sentinel errors of the dispatch layer. Transport failures surface as
// *adapter.DeliveryError and device rejections as *zcl.StatusError; the
// sentinels below cover what this layer decides on its own.
var (
	// ErrInvalidRequest marks a request rejected before any transmission:
	// an unresolvable reference or a misused option.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRequestExpired settles a queued request whose deadline passed
	// before a flush could transmit it.
	ErrRequestExpired = errors.New("pending request expired")

	// ErrRequestOverridden settles a queued request fully subsumed by a
	// newer colliding request carrying different values.
	ErrRequestOverridden = errors.New("pending request overridden by a newer request")

	// ErrWaitTimeout and ErrWaitCancelled settle a Waiter whose frame
	// never arrived.
	ErrWaitTimeout   = errors.New("wait timed out")
	ErrWaitCancelled = errors.New("wait cancelled")
)
