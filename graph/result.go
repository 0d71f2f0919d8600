package graph

import "fmt"

// OpError describes a failed operation in a form domain services can
// consume without unwrapping Go error chains.
type OpError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *OpError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result is the envelope every public operation in this package returns.
// Exactly one of Data and Error is meaningful: Success selects which.
type Result[T any] struct {
	Success bool     `json:"success"`
	Data    T        `json:"data,omitempty"`
	Error   *OpError `json:"error,omitempty"`
}

// Status is a Result that carries no data payload.
type Status = Result[struct{}]

// Ok wraps a successful payload.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// OkStatus is a successful Status.
func OkStatus() Status {
	return Status{Success: true}
}

// Fail builds a failed Result from a code and message.
func Fail[T any](code, message string) Result[T] {
	return Result[T]{Error: &OpError{Code: code, Message: message}}
}

// Failf builds a failed Result with a formatted message.
func Failf[T any](code, format string, args ...interface{}) Result[T] {
	return Result[T]{Error: &OpError{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// FailWith builds a failed Result carrying the underlying error as details.
func FailWith[T any](code, message string, err error) Result[T] {
	oe := &OpError{Code: code, Message: message}
	if err != nil {
		oe.Details = err.Error()
	}
	return Result[T]{Error: oe}
}

// FailStatus builds a failed Status.
func FailStatus(code, message string) Status {
	return Fail[struct{}](code, message)
}
