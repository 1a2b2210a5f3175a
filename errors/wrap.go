package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already a SchedError, its code/category/retryability carry over.
// Otherwise the result is an Internal error wrapping the original.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var schedErr *Error
	if errors.As(err, &schedErr) {
		wrapped := &Error{
			code:      schedErr.code,
			category:  schedErr.category,
			message:   message,
			cause:     err,
			metadata:  schedErr.Metadata(),
			retryable: schedErr.retryable,
			taskID:    schedErr.taskID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	// Deadline/cancellation from the surrounding context maps to a timeout.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return New(CodeTimeout, message, append(opts, WithCause(err))...)
	}

	return New(CodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code Code, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsSchedError attempts to extract a SchedError from an error chain.
// Returns nil if no SchedError is found.
func AsSchedError(err error) SchedError {
	var schedErr *Error
	if errors.As(err, &schedErr) {
		return schedErr
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code Code) bool {
	var schedErr *Error
	if errors.As(err, &schedErr) {
		return schedErr.code == code
	}
	return false
}

// IsCategory checks if any error in the chain has the given category.
func IsCategory(err error, category Category) bool {
	var schedErr *Error
	if errors.As(err, &schedErr) {
		return schedErr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
// Non-SchedErrors default to not retryable.
func IsRetryable(err error) bool {
	var schedErr *Error
	if errors.As(err, &schedErr) {
		return schedErr.Retryable()
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if err is not a SchedError.
func GetCode(err error) Code {
	var schedErr *Error
	if errors.As(err, &schedErr) {
		return schedErr.code
	}
	return ""
}

// GetCategory extracts the error category from an error, if available.
// Returns empty string if err is not a SchedError.
func GetCategory(err error) Category {
	var schedErr *Error
	if errors.As(err, &schedErr) {
		return schedErr.category
	}
	return ""
}

// Cause returns the root cause of the error chain.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// Join combines multiple errors into a single error.
// Uses errors.Join from the standard library.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error.
// Used at the task boundary so a panicking business step becomes a
// state transition instead of tearing down the run loop.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(CodeTaskFailed, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
