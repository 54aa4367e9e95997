package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"storefront-auth/internal/domain"
)

type ErrorCode string

const (
	CodeInvalidRequest         ErrorCode = "InvalidRequest"
	CodeMissingFields          ErrorCode = "MissingFields"
	CodeWeakPassword           ErrorCode = "WeakPassword"
	CodePasswordMismatch       ErrorCode = "PasswordMismatch"
	CodeInvalidEmail           ErrorCode = "InvalidEmail"
	CodeInvalidPurpose         ErrorCode = "InvalidPurpose"
	CodeEmailAlreadyRegistered ErrorCode = "EmailAlreadyRegistered"
	CodeInvalidOrExpiredCode   ErrorCode = "InvalidOrExpiredCode"
	CodeTooManyRequests        ErrorCode = "TooManyRequests"
	CodeAccountCreationFailed  ErrorCode = "AccountCreationFailed"
	CodePasswordResetFailed    ErrorCode = "PasswordResetFailed"
	CodeUnauthorized           ErrorCode = "Unauthorized"
	CodeInternal               ErrorCode = "InternalError"
)

type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   APIError `json:"error"`
}

type errorMapping struct {
	target  error
	status  int
	code    ErrorCode
	message string
}

// Order matters: wrapped creation/reset failures are matched before generic ones.
var errorMappings = []errorMapping{
	{domain.ErrMissingFields, http.StatusBadRequest, CodeMissingFields, "Please fill in all required fields."},
	{domain.ErrWeakPassword, http.StatusBadRequest, CodeWeakPassword, "Password must be at least 8 characters and include upper and lower case letters, a digit and a special character."},
	{domain.ErrPasswordMismatch, http.StatusBadRequest, CodePasswordMismatch, "Passwords do not match."},
	{domain.ErrInvalidEmail, http.StatusBadRequest, CodeInvalidEmail, "Please enter a valid email address."},
	{domain.ErrInvalidPurpose, http.StatusBadRequest, CodeInvalidPurpose, "Unsupported verification purpose."},
	{domain.ErrUserAlreadyExists, http.StatusConflict, CodeEmailAlreadyRegistered, "An account with this email already exists. Please sign in instead."},
	{domain.ErrInvalidOTPFormat, http.StatusBadRequest, CodeInvalidOrExpiredCode, "Please enter the 6-digit code from your email."},
	{domain.ErrInvalidOTP, http.StatusBadRequest, CodeInvalidOrExpiredCode, "The code is invalid or has expired. Please request a new one."},
	{domain.ErrOTPExpired, http.StatusBadRequest, CodeInvalidOrExpiredCode, "The code is invalid or has expired. Please request a new one."},
	{domain.ErrTooManyRequests, http.StatusTooManyRequests, CodeTooManyRequests, "Too many code requests. Please wait before trying again."},
	{domain.ErrAccountCreationFailed, http.StatusInternalServerError, CodeAccountCreationFailed, "We couldn't create your account. Please try again."},
	{domain.ErrPasswordResetFailed, http.StatusInternalServerError, CodePasswordResetFailed, "We couldn't reset your password. Please try again."},
}

// mapError returns the client-facing status and error. ok is false for
// errors with no mapping, which the caller logs as infrastructure failures.
func mapError(err error) (int, APIError, bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, APIError{Code: m.code, Message: m.message}, true
		}
	}
	return http.StatusInternalServerError, APIError{Code: CodeInternal, Message: "Something went wrong. Please try again."}, false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeAPIError(w http.ResponseWriter, status int, apiErr APIError) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: apiErr})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	return dec.Decode(dst)
}
