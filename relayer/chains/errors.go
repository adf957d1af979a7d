package chains

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrorCode is the numeric classification recorded in audit entries.
type ErrorCode int32

// Error codes, one per taxonomy class.
const (
	CodeValidation         ErrorCode = 1000
	CodeTransientRPC       ErrorCode = 1001
	CodeChainRevert        ErrorCode = 1002
	CodeBridgeWaiting      ErrorCode = 1003
	CodeReconciliationJump ErrorCode = 1004
	CodeVAANotFound        ErrorCode = 1005
	CodeVAAInvalidEmitter  ErrorCode = 1006
	CodeL1Submission       ErrorCode = 1007
)

// Sentinel errors shared across handlers.
var (
	// ErrStatusUnavailable marks a deposits(id) return value outside the
	// known state space. Unknown values never advance a record.
	ErrStatusUnavailable = errors.New("on-chain deposit status unavailable")

	// ErrL1TxTimeout marks an L1 confirmation wait that outlived its
	// overall timeout. The submission stays pending; reconciliation
	// observes the outcome later.
	ErrL1TxTimeout = errors.New("L1 transaction confirmation timed out")
)

// bridgeWaitingReason is the revert reason substring, matched
// case-insensitively, that means the tBTC bridge has not finalized the
// deposit yet. This is a waiting condition, not an error.
const bridgeWaitingReason = "deposit not finalized by the bridge"

// ValidationError marks a malformed inbound payload. The HTTP surface
// maps it to a 400 response; no state changes.
type ValidationError struct {
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string { return e.Err.Error() }

// Unwrap exposes the cause.
func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps a payload validation failure.
func NewValidationError(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Err: err}
}

// IsValidation reports whether the error marks a malformed payload.
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}

// RevertError wraps an on-chain execution revert with its reason string.
type RevertError struct {
	Reason string
}

// Error implements the error interface.
func (e *RevertError) Error() string {
	return "execution reverted: " + e.Reason
}

// NewRevertError builds a RevertError from a reason string.
func NewRevertError(reason string) error {
	return &RevertError{Reason: reason}
}

// IsBridgeWaiting reports whether the error is a revert whose reason
// says the bridge has not finalized the deposit yet. Such deposits get
// an activity bump only, never an error mark.
func IsBridgeWaiting(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), bridgeWaitingReason)
}

// IsRevert reports whether the error carries an on-chain revert.
func IsRevert(err error) bool {
	var revert *RevertError
	if errors.As(err, &revert) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

// Classify maps an error to its taxonomy code. Reverts split into
// bridge-waiting and permanent; everything else from a chain call is
// treated as transient and retried by the reconciler.
func Classify(err error) ErrorCode {
	switch {
	case IsValidation(err):
		return CodeValidation
	case IsBridgeWaiting(err):
		return CodeBridgeWaiting
	case IsRevert(err):
		return CodeChainRevert
	default:
		return CodeTransientRPC
	}
}
