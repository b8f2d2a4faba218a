package models

import (
	"strconv"
	"time"
)

// SessionState is the authentication state of the remote client
type SessionState string

const (
	SessionSignedOut         SessionState = "signed_out"
	SessionSigningIn         SessionState = "signing_in"
	SessionSignedIn          SessionState = "signed_in"
	SessionInvalidated       SessionState = "session_invalidated"
	SessionReplacedElsewhere SessionState = "replaced_elsewhere"
	SessionDisconnected      SessionState = "disconnected"
	SessionTerminated        SessionState = "terminated"
)

// SignInMode selects which credential is sent with a sign-in call
type SignInMode string

const (
	SignInModeLoginKey SignInMode = "login_key"
	SignInModePassword SignInMode = "password"
)

// SignInDetails is the payload of a single sign-in call.
// Exactly one of Password and LoginKey is set, matching Mode.
type SignInDetails struct {
	AttemptID        string     `json:"attempt_id"`
	AccountName      string     `json:"account_name"`
	Mode             SignInMode `json:"mode"`
	Password         string     `json:"password,omitempty"`
	LoginKey         string     `json:"login_key,omitempty"`
	RememberPassword bool       `json:"remember_password"`
	LogonID          int        `json:"logon_id"`
}

// ResultCode is a result code reported by the remote service
type ResultCode int

const (
	ResultUnknown               ResultCode = 0
	ResultOK                    ResultCode = 1
	ResultFail                  ResultCode = 2
	ResultNoConnection          ResultCode = 3
	ResultInvalidPassword       ResultCode = 5
	ResultLoggedInElsewhere     ResultCode = 6
	ResultTimeout               ResultCode = 16
	ResultServiceUnavailable    ResultCode = 20
	ResultLogonSessionReplaced  ResultCode = 34
	ResultRateLimitExceeded     ResultCode = 84
	ResultTwoFactorCodeMismatch ResultCode = 88
)

var resultNames = map[ResultCode]string{
	ResultOK:                    "OK",
	ResultFail:                  "Fail",
	ResultNoConnection:          "NoConnection",
	ResultInvalidPassword:       "InvalidPassword",
	ResultLoggedInElsewhere:     "LoggedInElsewhere",
	ResultTimeout:               "Timeout",
	ResultServiceUnavailable:    "ServiceUnavailable",
	ResultLogonSessionReplaced:  "LogonSessionReplaced",
	ResultRateLimitExceeded:     "RateLimitExceeded",
	ResultTwoFactorCodeMismatch: "TwoFactorCodeMismatch",
}

func (r ResultCode) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "Result(" + strconv.Itoa(int(r)) + ")"
}

// Transient reports whether the result is a network-level failure that a caller may retry
func (r ResultCode) Transient() bool {
	switch r {
	case ResultNoConnection, ResultTimeout, ResultServiceUnavailable:
		return true
	}
	return false
}

// SessionStatus is a read-only snapshot of the session manager
type SessionStatus struct {
	State                 SessionState `json:"state"`
	Ready                 bool         `json:"ready"`
	Identity              string       `json:"identity,omitempty"`
	LoginAttempts         []time.Time  `json:"login_attempts"`
	ConsecutiveWrongCodes int          `json:"consecutive_wrong_codes"`
	SessionReplaceCount   int          `json:"session_replace_count"`
	TimeOffsetSeconds     *int64       `json:"time_offset_seconds,omitempty"`
	SignedInAt            *time.Time   `json:"signed_in_at,omitempty"`
}
