package service

import "errors"

// Sentinel errors returned by the auth service. Handlers map these onto HTTP
// statuses; everything else surfaces as an internal error.
var (
	ErrInvalidInput      = errors.New("invalid identifier")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrLockedOut         = errors.New("temporarily locked out")
	ErrUnauthenticated   = errors.New("not authenticated")
	ErrTokenInvalid      = errors.New("verification token invalid or expired")
	ErrAttemptsExhausted = errors.New("maximum verification attempts exceeded")
	ErrAlreadyUsed       = errors.New("verification code already used")
	ErrInvalidCode       = errors.New("incorrect verification code")
	ErrVendorDeactivated = errors.New("vendor account is deactivated")
	ErrDeliveryFailed    = errors.New("failed to deliver verification code")
)
