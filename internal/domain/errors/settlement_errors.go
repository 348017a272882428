package errors

import "fmt"

// Settlement error codes
const (
	CodeRequestNotFound       = "REQUEST_NOT_FOUND"
	CodeAlreadyProcessed      = "ALREADY_PROCESSED"
	CodeMissingRecipient      = "MISSING_RECIPIENT"
	CodeUnsupportedRoute      = "UNSUPPORTED_ROUTE"
	CodeConversionUnavailable = "CONVERSION_UNAVAILABLE"
	CodeReserveInsufficient   = "RESERVE_INSUFFICIENT"
	CodeTransferFailed        = "TRANSFER_FAILED"
	CodeTransferAmbiguous     = "TRANSFER_AMBIGUOUS"
)

// RequestNotFoundError indicates no settlement request exists for the id
func RequestNotFoundError(kind string, id int64) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    CodeRequestNotFound,
		Message: fmt.Sprintf("%s request %d not found", kind, id),
	}
}

// AlreadyProcessedError indicates the request left pending before this
// attempt could claim it. Never retryable.
func AlreadyProcessedError(id int64, status string) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Code:    CodeAlreadyProcessed,
		Message: fmt.Sprintf("request %d already processed", id),
		Details: map[string]interface{}{
			"status": status,
		},
	}
}

// MissingRecipientError indicates the request has no destination address
func MissingRecipientError(id int64) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    CodeMissingRecipient,
		Message: fmt.Sprintf("request %d has no recipient address", id),
	}
}

// UnsupportedRouteError indicates no adapter serves the blockchain/currency pair
func UnsupportedRouteError(blockchain, currency string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    CodeUnsupportedRoute,
		Message: fmt.Sprintf("no settlement route for %s/%s", blockchain, currency),
	}
}

// ConversionUnavailableError indicates the rate feed could not produce a
// conversion. Always raised before any irreversible action, so retryable.
func ConversionUnavailableError(from, to string, cause error) *DomainError {
	e := &DomainError{
		Err:       ErrServiceUnavailable,
		Code:      CodeConversionUnavailable,
		Message:   fmt.Sprintf("conversion %s -> %s unavailable", from, to),
		Retryable: true,
	}
	if cause != nil {
		e.Details = map[string]interface{}{"cause": cause.Error()}
	}
	return e
}

// ReserveInsufficientError indicates the hot wallet refused the transfer
func ReserveInsufficientError(reason string) *DomainError {
	return &DomainError{
		Err:       ErrServiceUnavailable,
		Code:      CodeReserveInsufficient,
		Message:   reason,
		Retryable: true,
	}
}

// TransferFailedError indicates the chain definitively rejected the transfer.
// The request stays pending and a later attempt may succeed.
func TransferFailedError(cause error) *DomainError {
	e := &DomainError{
		Err:       ErrUpstream,
		Code:      CodeTransferFailed,
		Message:   "on-chain transfer failed",
		Retryable: true,
	}
	if cause != nil {
		e.Details = map[string]interface{}{"cause": cause.Error()}
	}
	return e
}

// TransferAmbiguousError indicates a transfer was submitted but its outcome
// is unknown. Not retryable until reconciliation resolves the intent.
func TransferAmbiguousError(id int64) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Code:    CodeTransferAmbiguous,
		Message: fmt.Sprintf("request %d has an unresolved transfer, awaiting reconciliation", id),
	}
}
