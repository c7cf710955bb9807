package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("already exists")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrCancellationRefused   = errors.New("cancellation refused")
	ErrRetryLimitExceeded    = errors.New("retry limit exceeded")
	ErrApprovalRequired      = errors.New("campaign approval required")
	ErrDeviceNotFound        = errors.New("device not found in registry")
	ErrIncompatibleFirmware  = errors.New("firmware incompatible with device model")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrFirmwareInUse         = errors.New("firmware is referenced by active campaigns")
	ErrFirmwareDeprecated    = errors.New("firmware is deprecated")
)
