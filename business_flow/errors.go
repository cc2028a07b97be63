// Package businessflow contains the core business logic and use cases for payment workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Validation errors
	ErrInvalidAmount     = errors.New("amount is invalid")
	ErrAmountTooLow      = errors.New("amount is below the minimum deposit")
	ErrAmountTooHigh     = errors.New("amount is above the maximum deposit")
	ErrInvalidAsset      = errors.New("asset is not supported")
	ErrInvalidSignature  = errors.New("webhook signature is invalid")
	ErrMalformedPayload  = errors.New("payload is malformed")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")

	// Not found errors
	ErrCustomerNotFound = errors.New("customer not found")
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrProductNotFound  = errors.New("product not found")

	// Conflict errors
	ErrDuplicateInvoice   = errors.New("invoice already recorded")
	ErrConflictingPayment = errors.New("payment details contradict the recorded settlement")
	ErrInvoiceNotPending  = errors.New("invoice is not pending")
	ErrAlreadyFulfilled   = errors.New("effect already applied")
	ErrOwnershipMismatch  = errors.New("resource belongs to another customer")
	ErrOrderNotPending    = errors.New("order is not pending")
	ErrOrderNotRefundable = errors.New("order holds no refundable payment")

	// Funds and stock errors
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOutOfStock        = errors.New("not enough stock")
	ErrProductInactive   = errors.New("product is not available")

	// Auth errors
	ErrBotNotFound       = errors.New("bot not found")
	ErrBotInactive       = errors.New("bot is inactive")
	ErrIncorrectPassword = errors.New("incorrect password")

	// Transient errors: the caller may retry, and webhook deliveries
	// that hit one are left unacknowledged so the provider redelivers
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsInvalidAmount(err error) bool {
	return errors.Is(err, ErrInvalidAmount)
}

func IsAmountTooLow(err error) bool {
	return errors.Is(err, ErrAmountTooLow)
}

func IsAmountTooHigh(err error) bool {
	return errors.Is(err, ErrAmountTooHigh)
}

func IsInvalidAsset(err error) bool {
	return errors.Is(err, ErrInvalidAsset)
}

func IsInvalidSignature(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}

func IsMalformedPayload(err error) bool {
	return errors.Is(err, ErrMalformedPayload)
}

func IsEmptyCart(err error) bool {
	return errors.Is(err, ErrEmptyCart)
}

func IsInvalidQuantity(err error) bool {
	return errors.Is(err, ErrInvalidQuantity)
}

func IsCustomerNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound)
}

func IsInvoiceNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound)
}

func IsOrderNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

func IsProductNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound)
}

func IsDuplicateInvoice(err error) bool {
	return errors.Is(err, ErrDuplicateInvoice)
}

func IsConflictingPayment(err error) bool {
	return errors.Is(err, ErrConflictingPayment)
}

func IsInvoiceNotPending(err error) bool {
	return errors.Is(err, ErrInvoiceNotPending)
}

func IsAlreadyFulfilled(err error) bool {
	return errors.Is(err, ErrAlreadyFulfilled)
}

func IsOwnershipMismatch(err error) bool {
	return errors.Is(err, ErrOwnershipMismatch)
}

func IsOrderNotPending(err error) bool {
	return errors.Is(err, ErrOrderNotPending)
}

func IsOrderNotRefundable(err error) bool {
	return errors.Is(err, ErrOrderNotRefundable)
}

func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

func IsOutOfStock(err error) bool {
	return errors.Is(err, ErrOutOfStock)
}

func IsProductInactive(err error) bool {
	return errors.Is(err, ErrProductInactive)
}

func IsBotNotFound(err error) bool {
	return errors.Is(err, ErrBotNotFound)
}

func IsBotInactive(err error) bool {
	return errors.Is(err, ErrBotInactive)
}

func IsIncorrectPassword(err error) bool {
	return errors.Is(err, ErrIncorrectPassword)
}

func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
