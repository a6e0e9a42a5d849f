package apperrors

import (
	"errors"
	"fmt"
)

// Store errors.
var (
	ErrDuplicateSignal  = errors.New("duplicate signal")
	ErrNotClaimable     = errors.New("job not claimable")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Broker errors.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrOrderRejected        = errors.New("order rejected")
	ErrOrderAlreadyExists   = errors.New("order already exists")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
)

// Worker gate errors. These terminate a job without retry.
var (
	ErrMarketClosed = errors.New("market closed")
	ErrModeMismatch = errors.New("trading mode mismatch")
	ErrNotHolding   = errors.New("not holding position")
	ErrNoPriceData  = errors.New("no price data")
)

// Risk guard block reasons.
const (
	ReasonTradingDisabled  = "trading_disabled"
	ReasonDailyDrawdown    = "daily_drawdown_limit_reached"
	ReasonDailyLossCap     = "daily_loss_cap_reached"
	ReasonMaxPositionsFull = "max_positions_total_reached"
)

// RiskBlockedError reports a risk guard denial. It is always fatal for the
// job that triggered it.
type RiskBlockedError struct {
	Reason string
}

func (e *RiskBlockedError) Error() string {
	return "risk blocked: " + e.Reason
}

// RiskBlocked wraps a guard denial reason.
func RiskBlocked(reason string) error {
	return &RiskBlockedError{Reason: reason}
}

// IsRiskBlocked reports whether err is a risk guard denial and returns the
// reason when it is.
func IsRiskBlocked(err error) (string, bool) {
	var rb *RiskBlockedError
	if errors.As(err, &rb) {
		return rb.Reason, true
	}
	return "", false
}

// IsFatal reports whether err must terminate a job with no retry.
func IsFatal(err error) bool {
	if _, ok := IsRiskBlocked(err); ok {
		return true
	}
	return errors.Is(err, ErrMarketClosed) ||
		errors.Is(err, ErrModeMismatch) ||
		errors.Is(err, ErrNotHolding) ||
		errors.Is(err, ErrNoPriceData) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrOrderRejected) ||
		errors.Is(err, ErrInvalidSymbol) ||
		errors.Is(err, ErrAuthenticationFailed)
}

// IsTransient reports whether err is worth a deferred retry. Anything that is
// neither fatal nor an idempotent-success marker is treated as transient so
// that unknown failures err on the side of retrying within the retry budget.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOrderAlreadyExists) {
		return false
	}
	return !IsFatal(err)
}

// Reason extracts the terminal reason string recorded on a failed job.
func Reason(err error) string {
	if r, ok := IsRiskBlocked(err); ok {
		return r
	}
	switch {
	case errors.Is(err, ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, ErrModeMismatch):
		return "mode_mismatch"
	case errors.Is(err, ErrNotHolding):
		return "not_holding"
	case errors.Is(err, ErrNoPriceData):
		return "no_price_data"
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrOrderRejected), errors.Is(err, ErrInvalidSymbol):
		return "broker_rejected"
	default:
		return fmt.Sprintf("error: %v", err)
	}
}
