package checkout

import (
	"errors"
	"fmt"
)

// Standard checkout error definitions

var (
	// ErrInvalidConfig indicates the paywall configuration failed validation.
	ErrInvalidConfig = errors.New("invalid paywall configuration")

	// ErrInvalidEvent indicates an event that cannot fire in the current state.
	ErrInvalidEvent = errors.New("invalid event for current state")

	// ErrNoLockSelected indicates an operation that requires a selected lock.
	ErrNoLockSelected = errors.New("no lock selected")

	// ErrUnknownLock indicates a lock address missing from the configuration.
	ErrUnknownLock = errors.New("lock not present in paywall configuration")

	// ErrSoldOut indicates the selected lock has no keys left to sell.
	ErrSoldOut = errors.New("lock is sold out")

	// ErrQuantityBounds indicates a quantity outside the configured min/max.
	ErrQuantityBounds = errors.New("quantity outside configured bounds")

	// ErrRecipientMismatch indicates a recipient list whose length does not
	// match the selected quantity, or containing duplicates.
	ErrRecipientMismatch = errors.New("recipient list does not match quantity")

	// ErrSignerMismatch indicates a signed message whose address is not the
	// connected account.
	ErrSignerMismatch = errors.New("signature address does not match account")

	// ErrPricing indicates a lock price quote reverted or was unreachable.
	ErrPricing = errors.New("price resolution failed")

	// ErrGatingFailed indicates invalid gating data (password, promo code,
	// captcha, guild membership or allow-list proof).
	ErrGatingFailed = errors.New("gating verification failed")

	// ErrGatingDataMissing indicates payment was attempted before the gating
	// step produced per-recipient data.
	ErrGatingDataMissing = errors.New("gating data missing")

	// ErrDataBuilder indicates the external data-builder fetch failed or
	// timed out.
	ErrDataBuilder = errors.New("data builder fetch failed")

	// ErrUserRejected indicates the wallet declined a signature or transaction.
	ErrUserRejected = errors.New("user rejected request")

	// ErrInvalidKey indicates a malformed private key.
	ErrInvalidKey = errors.New("invalid private key")

	// ErrInvalidKeystore indicates an unreadable or undecryptable keystore file.
	ErrInvalidKeystore = errors.New("invalid keystore")

	// ErrInvalidMnemonic indicates an invalid BIP39 mnemonic phrase.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrInsufficientFunds indicates the buyer cannot cover the payment.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSwapFailed is the purchaser contract's tagged revert for a failed swap.
	ErrSwapFailed = errors.New("swap failed")

	// ErrLockCallFailed is the purchaser contract's tagged revert for a failed
	// lock purchase call.
	ErrLockCallFailed = errors.New("lock call failed")

	// ErrInsufficientBalance is the purchaser contract's tagged revert for an
	// underfunded swap output.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransactionReverted indicates a mined receipt with failed status.
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrNoRail indicates no payment rail is registered for the selected method.
	ErrNoRail = errors.New("no rail for payment method")

	// ErrStaleSession indicates an async result arriving after a reset made it
	// no longer consumable.
	ErrStaleSession = errors.New("checkout session superseded")

	// ErrChannelBacklog indicates the embedding-page queue is full.
	ErrChannelBacklog = errors.New("channel queue full")
)

// ErrorCode identifies a class of checkout failure.
type ErrorCode string

const (
	ErrCodeConfig     ErrorCode = "CONFIG"
	ErrCodeEvent      ErrorCode = "EVENT"
	ErrCodePricing    ErrorCode = "PRICING"
	ErrCodeGating     ErrorCode = "GATING"
	ErrCodeRail       ErrorCode = "RAIL"
	ErrCodeSubmission ErrorCode = "SUBMISSION"
	ErrCodeConfirm    ErrorCode = "CONFIRMATION"
)

// CheckoutError carries an error class, a human-readable message, the wrapped
// cause, and structured details for diagnostics.
type CheckoutError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

// NewCheckoutError creates a CheckoutError wrapping err.
func NewCheckoutError(code ErrorCode, message string, err error) *CheckoutError {
	return &CheckoutError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails attaches a structured detail and returns the error for chaining.
func (e *CheckoutError) WithDetails(key string, value interface{}) *CheckoutError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *CheckoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether the buyer can retry the failing step without
// restarting the flow. User rejections and rail failures keep the accumulated
// context intact.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUserRejected) ||
		errors.Is(err, ErrPricing) ||
		errors.Is(err, ErrGatingFailed) ||
		errors.Is(err, ErrSwapFailed) ||
		errors.Is(err, ErrLockCallFailed) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientFunds)
}
