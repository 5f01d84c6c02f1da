// Package errors provides structured error handling for credential flows.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Ceremony errors
	CodeChallengeInvalid     Code = "CHALLENGE_INVALID"
	CodeRegistrationFailed   Code = "REGISTRATION_FAILED"
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"

	// TOTP errors
	CodeInvalidCode       Code = "INVALID_CODE"
	CodeTooManyAttempts   Code = "TOO_MANY_ATTEMPTS"
	CodeTOTPAlreadyActive Code = "TOTP_ALREADY_ACTIVE"
	CodeTOTPNotEnrolled   Code = "TOTP_NOT_ENROLLED"

	// Credential errors
	CodeDuplicateCredential Code = "DUPLICATE_CREDENTIAL"
	CodeCounterRegression   Code = "COUNTER_REGRESSION"
	CodeLastCredential      Code = "LAST_CREDENTIAL"
	CodeCredentialMismatch  Code = "CREDENTIAL_MISMATCH"

	// Validation errors
	CodeOwnerRequired Code = "OWNER_REQUIRED"
	CodeInvalidInput  Code = "INVALID_INPUT"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Forbidden - denied ceremony or factor verification. These are kept
	// undifferentiated at the transport boundary (anti-enumeration).
	case CodeChallengeInvalid,
		CodeRegistrationFailed,
		CodeAuthenticationFailed,
		CodeInvalidCode,
		CodeCounterRegression:
		return http.StatusForbidden

	// Conflict - state disallows the operation.
	case CodeDuplicateCredential,
		CodeTOTPAlreadyActive,
		CodeLastCredential:
		return http.StatusConflict

	// Too many requests - attempt budget exhausted.
	case CodeTooManyAttempts:
		return http.StatusTooManyRequests

	// Bad request - validation failures.
	case CodeOwnerRequired,
		CodeInvalidInput,
		CodeTOTPNotEnrolled,
		CodeCredentialMismatch:
		return http.StatusBadRequest

	case CodeNotFound:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}

// UserVisible reports whether the code may surface its own message to end
// users. Ceremony and cryptographic detail never crosses the boundary; only
// policy errors carry distinct messages.
func (c Code) UserVisible() bool {
	switch c {
	case CodeLastCredential, CodeTooManyAttempts, CodeTOTPAlreadyActive,
		CodeOwnerRequired, CodeInvalidInput:
		return true
	default:
		return false
	}
}
