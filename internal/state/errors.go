package state

import "errors"

// ErrNotFound is returned when a referenced taxi or order does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a transition's precondition no longer holds.
var ErrConflict = errors.New("conflict")

// ErrPendingCapReached is returned when order admission hits the pending cap.
var ErrPendingCapReached = errors.New("pending order cap reached")
