package domain

import "errors"

var (
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrInvalidUserID     = errors.New("invalid user ID")

	ErrMissingFields    = errors.New("required fields are missing")
	ErrWeakPassword     = errors.New("password does not meet strength requirements")
	ErrPasswordMismatch = errors.New("passwords do not match")

	ErrInvalidPurpose   = errors.New("invalid OTP purpose")
	ErrInvalidOTP       = errors.New("invalid OTP")
	ErrInvalidOTPFormat = errors.New("OTP must be exactly 6 digits")
	ErrInvalidOTPExpiry = errors.New("invalid OTP expiry time")
	ErrOTPExpired       = errors.New("OTP has expired")
	ErrOTPNotFound      = errors.New("OTP not found")
	ErrOTPConsumed      = errors.New("OTP already consumed")
	ErrOTPExhausted     = errors.New("OTP attempts exhausted")
	ErrTooManyRequests  = errors.New("too many OTP requests")

	ErrAccountCreationFailed = errors.New("account creation failed")
	ErrPasswordResetFailed   = errors.New("password reset failed")
)
