package paymentapp

import (
	"errors"
	"fmt"
)

// PaymentError represents a payment-specific error with a stable code
// callers can branch on and a message suitable for surfacing to a user.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the caller may retry the failed operation.
// User rejection and actionable wallet states are final; contention and
// transient handshake failures are not.
func (e *PaymentError) Retryable() bool {
	switch e.Code {
	case ErrCodeLockContention, ErrCodeTransientHandshake:
		return true
	}
	return false
}

// Common error codes
const (
	ErrCodeUserRejected          = "user_rejected"
	ErrCodeTransientHandshake    = "transient_handshake"
	ErrCodeSessionNotEstablished = "session_not_established"
	ErrCodeNotPaired             = "not_paired"
	ErrCodeTokenNotAssociated    = "token_not_associated"
	ErrCodeInsufficientBalance   = "insufficient_balance"
	ErrCodeLockContention        = "lock_contention"
	ErrCodeLedgerPostingFailed   = "ledger_posting_failed"
	ErrCodeSubmissionTimeout     = "submission_timeout"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// AsPaymentError unwraps err to a *PaymentError if one is in its chain.
func AsPaymentError(err error) (*PaymentError, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Store-level sentinel conditions.
var (
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrInvoiceNotPayable is returned when a settlement targets an invoice
	// that is already PAID or otherwise terminal. Checked before any lock
	// acquisition or write.
	ErrInvoiceNotPayable = errors.New("invoice is not in a payable state")

	// ErrInvoiceLocked is returned when another request is already settling
	// the same invoice. Retryable: the other request is progressing it.
	ErrInvoiceLocked = errors.New("invoice settlement is processing by another request")

	ErrAccountNotFound = errors.New("ledger account not found")
)
