package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidInput        ErrorCode = "invalid_input"
	InvalidAmount       ErrorCode = "invalid_amount"
	InvalidCurrency     ErrorCode = "invalid_currency"
	InvalidTransfer     ErrorCode = "invalid_transfer"
	AccountNotFound     ErrorCode = "account_not_found"
	DestinationNotFound ErrorCode = "destination_not_found"
	ClientNotFound      ErrorCode = "client_not_found"
	OperationNotFound   ErrorCode = "operation_not_found"
	TransactionNotFound ErrorCode = "transaction_not_found"
	InsufficientFunds   ErrorCode = "insufficient_funds"
	Busy                ErrorCode = "busy"
	DuplicateAccount    ErrorCode = "duplicate_account"
	Forbidden           ErrorCode = "forbidden"
	RateLimited         ErrorCode = "rate_limited"
	InternalError       ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`

	cause error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any AppError carrying the same code, so predefined errors work
// with errors.Is even after WithDetails or Wrap produced a copy.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Retryable reports whether the failed operation had no effect and may be
// repeated as is.
func (e *AppError) Retryable() bool {
	return e.Code == Busy
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetails returns a copy so the predefined errors below stay untouched.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// Wrap returns a copy of e that records err as its cause.
func (e *AppError) Wrap(err error) *AppError {
	cp := *e
	cp.cause = err
	if err != nil && cp.Details == "" {
		cp.Details = err.Error()
	}
	return &cp
}

// Internal builds an internal_error around a storage or runtime failure.
func Internal(message string, err error) *AppError {
	return NewAppError(InternalError, message).Wrap(err)
}

// As extracts the AppError from err, converting anything else into an
// internal_error.
func As(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal("an unexpected error occurred", err)
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidInput, InvalidAmount, InvalidCurrency, InvalidTransfer:
		return http.StatusBadRequest
	case AccountNotFound, DestinationNotFound, ClientNotFound, OperationNotFound, TransactionNotFound:
		return http.StatusNotFound
	case InsufficientFunds:
		return http.StatusUnprocessableEntity
	case DuplicateAccount:
		return http.StatusConflict
	case Forbidden:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	case Busy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Predefined errors for common cases
var (
	ErrInvalidInput           = NewAppError(InvalidInput, "invalid input")
	ErrInvalidAmount          = NewAppError(InvalidAmount, "amount must be positive with at most 2 decimal places")
	ErrInvalidCurrency        = NewAppError(InvalidCurrency, "unsupported currency")
	ErrInvalidAccountID       = NewAppError(InvalidInput, "invalid account ID")
	ErrSameAccountTransfer    = NewAppError(InvalidTransfer, "cannot transfer to the same account")
	ErrAccountNotFound        = NewAppError(AccountNotFound, "account not found")
	ErrDestinationNotFound    = NewAppError(DestinationNotFound, "destination account not found")
	ErrClientNotFound         = NewAppError(ClientNotFound, "client not found")
	ErrOperationNotFound      = NewAppError(OperationNotFound, "operation not found")
	ErrTransactionNotFound    = NewAppError(TransactionNotFound, "transaction not found")
	ErrInsufficientFunds      = NewAppError(InsufficientFunds, "insufficient funds")
	ErrBusy                   = NewAppError(Busy, "account is locked by another operation, retry later")
	ErrDuplicateAccount       = NewAppError(DuplicateAccount, "account number already exists")
	ErrForbidden              = NewAppError(Forbidden, "operation not permitted")
	ErrRateLimited            = NewAppError(RateLimited, "too many requests")
)
