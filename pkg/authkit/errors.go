package authkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// API Error Codes
// ============================================================================

const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeMFARequired        = "mfa_required"
	ErrorCodeMFARejected        = "mfa_rejected"
	ErrorCodeSessionExpired     = "session_expired"
	ErrorCodeServerError        = "server_error"
)

// Session expiry causes as reported by the server. The cause is used for
// user messaging only, never for logic.
const (
	CauseInactivity  = "inactivity"
	CauseMaxDuration = "max_duration"
)

// ============================================================================
// APIError
// ============================================================================

// APIError represents a structured error response from the portal API.
// It implements the error interface.
type APIError struct {
	// StatusCode is the HTTP status code of the response
	StatusCode int `json:"-"`

	// Code is the machine-readable error code (e.g., "invalid_credentials")
	Code string `json:"error"`

	// Description is a human-readable description of the error
	Description string `json:"error_description"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is lets predefined APIError values match wrapped errors via errors.Is.
// Two APIErrors match when their codes match.
func (e *APIError) Is(target error) bool {
	var apiErr *APIError
	if !errors.As(target, &apiErr) {
		return false
	}
	return e.Code == apiErr.Code
}

// Predefined API errors.
var (
	// ErrInvalidCredentials is returned when the submitted username/password
	// pair was rejected. It deliberately does not say which field was wrong.
	ErrInvalidCredentials = &APIError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeInvalidCredentials,
		Description: "invalid username or password",
	}

	// ErrServerError is returned when the portal API failed in a way the
	// client cannot correct.
	ErrServerError = &APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// Sentinel errors raised by the SDK itself rather than the server.
var (
	// ErrNotAuthenticated is returned by operations that require a fully
	// verified session when none is present.
	ErrNotAuthenticated = errors.New("authkit: not authenticated")

	// ErrMFARejected is returned when a step-up code was not accepted. The
	// pending session is logged out as a consequence.
	ErrMFARejected = errors.New("authkit: mfa code rejected")

	// ErrChallengeConsumed is returned when Verify or Cancel is called on a
	// challenge that has already completed.
	ErrChallengeConsumed = errors.New("authkit: mfa challenge already consumed")

	// ErrTooManyAttempts is returned when the local login throttle rejects a
	// credential submission.
	ErrTooManyAttempts = errors.New("authkit: too many login attempts, slow down")
)

// ============================================================================
// SessionExpiredError
// ============================================================================

// SessionExpiredError is raised when the server signals that the current
// session is no longer valid. Cause distinguishes an idle timeout from the
// absolute session ceiling, for user messaging only.
type SessionExpiredError struct {
	// Cause is CauseInactivity or CauseMaxDuration
	Cause string `json:"cause"`
}

// Error implements the error interface.
func (e *SessionExpiredError) Error() string {
	switch e.Cause {
	case CauseMaxDuration:
		return "session expired: maximum session duration exceeded"
	default:
		return "session expired: no recent activity"
	}
}

// ============================================================================
// Error Parsing
// ============================================================================

// parseErrorResponse converts an HTTP error response into a typed error.
// It is the single place the SDK interprets server error bodies; callers
// always see typed values they can match with errors.Is/errors.As.
// Returns nil for 2xx responses.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Cause            string `json:"cause"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		switch errResp.Error {
		case ErrorCodeSessionExpired:
			return &SessionExpiredError{Cause: errResp.Cause}
		case ErrorCodeInvalidCredentials:
			return ErrInvalidCredentials
		}
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	// Credential rejection without a structured body still maps to the
	// typed error so the caller's messaging stays uniform.
	if resp.StatusCode == http.StatusForbidden {
		return ErrInvalidCredentials
	}

	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
