package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v2"
)

// ErrorClass partitions provider failures by how the session must react.
type ErrorClass string

const (
	// ClassConfiguration covers missing or invalid credentials. Fatal,
	// surfaced before any audio is accepted.
	ClassConfiguration ErrorClass = "configuration"
	// ClassTransient covers rate limits and transient network failures.
	// Permits one automatic streaming→legacy downgrade per session.
	ClassTransient ErrorClass = "transient"
	// ClassCritical covers quota exhaustion, billing and revoked auth.
	// Fatal immediately; such failures typically affect every provider.
	ClassCritical ErrorClass = "critical"
	// ClassEmptyResponse is a turn completing with zero generated content.
	// Prevented structurally by wait-then-request sequencing, not retried.
	ClassEmptyResponse ErrorClass = "empty_response"
)

// Error is a classified provider failure. UserMessage is the short actionable
// text shown to the student; Detail is the verbose operator-facing string.
// The two are never merged into what the end user sees.
type Error struct {
	Class       ErrorClass
	UserMessage string
	Detail      string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether this class ends the session without a downgrade attempt.
func (e *Error) Fatal() bool {
	return e.Class == ClassConfiguration || e.Class == ClassCritical
}

func newError(class ErrorClass, userMsg, detail string, err error) *Error {
	return &Error{Class: class, UserMessage: userMsg, Detail: detail, Err: err}
}

// ConfigError builds a configuration-class error.
func ConfigError(detail string, err error) *Error {
	return newError(ClassConfiguration, "The tutor service is not configured correctly. Please contact support.", detail, err)
}

// TransientError builds a transient-class error.
func TransientError(detail string, err error) *Error {
	return newError(ClassTransient, "The connection hiccuped; switching to a backup line.", detail, err)
}

// CriticalError builds a critical-class error.
func CriticalError(detail string, err error) *Error {
	return newError(ClassCritical, "The lesson service is temporarily unavailable. Please try again later.", detail, err)
}

// EmptyResponseError builds an empty-response anomaly error.
func EmptyResponseError(detail string) *Error {
	return newError(ClassEmptyResponse, "The tutor fell silent unexpectedly. Please try again.", detail, nil)
}

// ClassOf extracts the error class, defaulting unknown errors to transient
// so they are eligible for the single in-session downgrade.
func ClassOf(err error) ErrorClass {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassTransient
}

// UserMessageOf returns the short user-facing message for any error.
func UserMessageOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.UserMessage
	}
	return "Something went wrong with the lesson connection."
}

// classifyVendor maps an upstream vendor error to the taxonomy using its HTTP
// status when one is available.
func classifyVendor(op string, err error) *Error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return classifyStatus(op, apierr.StatusCode, err)
	}
	return TransientError(op, err)
}

func classifyStatus(op string, status int, err error) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CriticalError(fmt.Sprintf("%s: auth rejected (status %d)", op, status), err)
	case status == http.StatusPaymentRequired:
		return CriticalError(fmt.Sprintf("%s: billing failure (status %d)", op, status), err)
	case status == http.StatusTooManyRequests:
		return TransientError(fmt.Sprintf("%s: rate limited", op), err)
	case status >= 500:
		return TransientError(fmt.Sprintf("%s: upstream failure (status %d)", op, status), err)
	default:
		return TransientError(fmt.Sprintf("%s: status %d", op, status), err)
	}
}
