package money

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the money service.
var (
	ErrUnknownUser             = errors.New("unknown user")
	ErrUnknownCharge           = errors.New("unknown charge")
	ErrUnknownReservation      = errors.New("unknown reservation")
	ErrUnknownCart             = errors.New("unknown cart")
	ErrChargeSettled           = errors.New("charge already settled")
	ErrWebhookEventProcessed   = errors.New("webhook event already processed")
	ErrNoSiteSelectionToken    = errors.New("no unclaimed site selection token")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidChargeID         = errors.New("invalid charge id")
	ErrInvalidBuyableRef       = errors.New("invalid buyable ref")
	ErrInvalidPaymentToken     = errors.New("invalid payment token")
	ErrInvalidAmountCents      = errors.New("invalid amount cents")
	ErrInvalidCurrencyCode     = errors.New("invalid currency code")
	ErrInvalidChargeState      = errors.New("invalid charge state")
	ErrInvalidChargeOrigin     = errors.New("invalid charge origin")
	ErrInvalidReservationState = errors.New("invalid reservation state")
	ErrInvalidCartStatus       = errors.New("invalid cart status")
	ErrInvalidCheckoutSession  = errors.New("invalid checkout session")
	ErrInvalidMembershipNumber = errors.New("invalid membership number")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// ProviderError describes a failure reported by the payment provider. The raw
// response body is preserved so it can be written onto the Charge for audit.
type ProviderError struct {
	Code    string
	Message string
	Raw     string
}

// Error returns the provider's message.
func (providerError *ProviderError) Error() string {
	if providerError.Code == "" {
		return providerError.Message
	}
	return fmt.Sprintf("%s: %s", providerError.Code, providerError.Message)
}
