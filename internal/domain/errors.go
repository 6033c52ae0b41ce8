package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNetwork        ErrorKind = "network"
	KindSeatConflict   ErrorKind = "seat_conflict"
	KindSessionExpired ErrorKind = "session_expired"
	KindSeatsExpired   ErrorKind = "seats_expired"
	KindPriceDrift     ErrorKind = "price_drift"
	KindValidation     ErrorKind = "validation"
	KindCompletion     ErrorKind = "completion"
	KindUnknown        ErrorKind = "unknown"
)

// Error is the checkout error taxonomy. Message is meant for the user; Err keeps
// the underlying cause.
type Error struct {
	Kind      ErrorKind
	Op        string
	Message   string
	Retryable bool
	Action    *Action
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so errors.Is(err, &Error{Kind: KindSeatConflict}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

func NewValidationError(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

func NewNetworkError(op string, err error, action *Action) *Error {
	return &Error{
		Kind:      KindNetwork,
		Op:        op,
		Message:   "network error, please check your connection and try again",
		Retryable: true,
		Action:    action,
		Err:       err,
	}
}

// Error codes carried in ErrorBody.Code.
const (
	CodeSessionExpired = "SESSION_EXPIRED"
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
	// CodeConcurrentUpdate asks the caller to retry a write that kept racing.
	CodeConcurrentUpdate = "CONCURRENT_UPDATE"
)

// ErrorBody is the JSON error envelope of the session API.
type ErrorBody struct {
	Error              string   `json:"error"`
	Code               string   `json:"code,omitempty"`
	UnavailableSeatIDs []string `json:"unavailable_seat_ids,omitempty"`
}
