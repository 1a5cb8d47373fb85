package core

import (
	"UnxvFutures/internal/oracle"
	"errors"
	"fmt"
)

// Failure classes. Every rejected operation wraps exactly one of these and
// leaves no partial effect.
var (
	ErrPolicyViolation    = errors.New("policy violation")
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrInsufficientFunds  = errors.New("insufficient funds")
)

var (
	ErrRegistryPaused    = fmt.Errorf("%w: registry paused", ErrPolicyViolation)
	ErrMarketPaused      = fmt.Errorf("%w: market paused", ErrPolicyViolation)
	ErrMarketSettled     = fmt.Errorf("%w: market settled", ErrPolicyViolation)
	ErrMarketNotSettled  = fmt.Errorf("%w: market not settled", ErrPolicyViolation)
	ErrUnknownMarket     = fmt.Errorf("%w: unknown market", ErrPolicyViolation)
	ErrInvalidFill       = fmt.Errorf("%w: invalid fill", ErrPolicyViolation)
	ErrPriceOutOfBand    = fmt.Errorf("%w: price outside asserted band", ErrPolicyViolation)
	ErrPriceDeviation    = fmt.Errorf("%w: price deviates from oracle", ErrPolicyViolation)
	ErrStalePrice        = fmt.Errorf("%w: stale price feed", ErrPolicyViolation)
	ErrRiskCapExceeded   = fmt.Errorf("%w: risk cap exceeded", ErrPolicyViolation)
	ErrNotExpired        = fmt.Errorf("%w: market not yet settleable", ErrPolicyViolation)
	ErrNotLiquidatable   = fmt.Errorf("%w: position not liquidatable", ErrPolicyViolation)
	ErrPositionNotFound  = fmt.Errorf("%w: position not found", ErrPolicyViolation)
	ErrDuplicateRequest  = fmt.Errorf("%w: settlement already requested", ErrPolicyViolation)
	ErrDiscountFeedUnset = fmt.Errorf("%w: discount payment without discount feed", ErrPolicyViolation)

	ErrFeedMismatch       = fmt.Errorf("%w: price feed bound to another symbol", ErrIntegrityViolation)
	ErrInvalidPrice       = fmt.Errorf("%w: price feed value unusable", ErrIntegrityViolation)
	ErrSettlementConflict = fmt.Errorf("%w: settlement price conflict", ErrIntegrityViolation)

	ErrInsufficientFee      = fmt.Errorf("%w: fee coin too small", ErrInsufficientFunds)
	ErrInsufficientMargin   = fmt.Errorf("%w: margin coin too small", ErrInsufficientFunds)
	ErrInsufficientDiscount = fmt.Errorf("%w: discount payment too small", ErrInsufficientFunds)
	ErrWrongAsset           = fmt.Errorf("%w: coin of the wrong asset", ErrInsufficientFunds)
)

// classifyFeedErr maps oracle validation errors into the failure classes.
func classifyFeedErr(err error) error {
	switch {
	case errors.Is(err, oracle.ErrFeedMismatch):
		return fmt.Errorf("%w: %w", ErrFeedMismatch, err)
	case errors.Is(err, oracle.ErrStalePrice):
		return fmt.Errorf("%w: %w", ErrStalePrice, err)
	case errors.Is(err, oracle.ErrInvalidPrice):
		return fmt.Errorf("%w: %w", ErrInvalidPrice, err)
	default:
		return err
	}
}
