package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrExchangeUnreachable   = errors.New("exchange unreachable")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
)

// Engine-level errors
var (
	ErrRiskViolation = errors.New("risk violation")
	ErrEngineStopped = errors.New("engine stopped")
	ErrFatal         = errors.New("fatal engine error")
)

// IsTransient reports whether an error is worth retrying at the call site.
// Rate limits and overload are transient; logical rejections are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrSystemOverload) ||
		errors.Is(err, ErrExchangeUnreachable) ||
		errors.Is(err, ErrExchangeMaintenance)
}
