package domain

import "errors"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrHoldTerminal      = errors.New("hold is in a terminal state")

	// ErrManualCaptureRequired is returned when the processor refuses the
	// two-phase capture mode. Proceeding would silently auto-capture, so the
	// authorize path fails closed instead.
	ErrManualCaptureRequired = errors.New("processor did not confirm manual capture")

	ErrProcessor       = errors.New("payment processor error")
	ErrArtifactStorage = errors.New("artifact storage failure")
)
