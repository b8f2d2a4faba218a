package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternalServer = errors.New("internal server error")

	// Session lifecycle errors
	ErrTransientNetwork   = errors.New("transient network error")
	ErrCredential         = errors.New("invalid password or login key")
	ErrPolicyViolation    = errors.New("signed in elsewhere")
	ErrReconnectLoop      = errors.New("login session replace loop detected")
	ErrTwoFactorExhausted = errors.New("too many wrong two-factor codes")
	ErrIneligibleAccount  = errors.New("account is not eligible to run")
	ErrTimeout            = errors.New("timed out")
	ErrTimeResolution     = errors.New("failed to resolve time offset")
	ErrLoginFailed        = errors.New("login failed")
)

// LoginFailedError is returned when a sign-in attempt does not reach the signed in state.
// Err carries the classified cause (ErrCredential, ErrTransientNetwork, a TimeoutError, ...)
type LoginFailedError struct {
	Reason string
	Result ResultCode
	Err    error
}

func (e *LoginFailedError) Error() string {
	if e.Result != ResultUnknown {
		return fmt.Sprintf("login failed: %s (%s)", e.Reason, e.Result)
	}
	return fmt.Sprintf("login failed: %s", e.Reason)
}

func (e *LoginFailedError) Unwrap() error { return e.Err }

func (e *LoginFailedError) Is(target error) bool { return target == ErrLoginFailed }

// TimeoutError reports a bounded wait that expired
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// IneligibleAccountError is returned when account limitations forbid running the bot
type IneligibleAccountError struct {
	Reason string
}

func (e *IneligibleAccountError) Error() string {
	return fmt.Sprintf("the account is %s", e.Reason)
}

func (e *IneligibleAccountError) Is(target error) bool { return target == ErrIneligibleAccount }

// IsFatal reports whether err requires the process to stop instead of being retried
func IsFatal(err error) bool {
	return errors.Is(err, ErrPolicyViolation) ||
		errors.Is(err, ErrReconnectLoop) ||
		errors.Is(err, ErrTwoFactorExhausted) ||
		errors.Is(err, ErrIneligibleAccount)
}
