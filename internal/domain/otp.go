package domain

import (
	"math"
	"strings"
	"time"
)

type Purpose string

const (
	PurposeSignup         Purpose = "signup"
	PurposeForgotPassword Purpose = "forgot_password"
)

func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(strings.TrimSpace(s)); p {
	case PurposeSignup, PurposeForgotPassword:
		return p, nil
	}
	return "", ErrInvalidPurpose
}

func (p Purpose) String() string {
	return string(p)
}

// OTPCode is a one-time code scoped to an email and a purpose. Only the hash
// of the code is kept; the plaintext exists only between generation and dispatch.
type OTPCode struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Purpose      Purpose   `json:"purpose"`
	CodeHash     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Consumed     bool      `json:"consumed"`
	Superseded   bool      `json:"superseded"`
	AttemptCount int       `json:"attempt_count"`
}

// IsActive reports whether the code can still be verified.
func (o *OTPCode) IsActive(now time.Time) bool {
	return !o.Consumed && !o.Superseded && !o.IsExpired(now)
}

func (o *OTPCode) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// SecondsRemaining rounds up so a freshly issued 300s code reports 300.
func (o *OTPCode) SecondsRemaining(now time.Time) int {
	left := o.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

func (o *OTPCode) Validate() error {
	if o.Email == "" {
		return ErrInvalidEmail
	}
	if o.Purpose != PurposeSignup && o.Purpose != PurposeForgotPassword {
		return ErrInvalidPurpose
	}
	if o.CodeHash == "" {
		return ErrInvalidOTP
	}
	if o.ExpiresAt.IsZero() || !o.ExpiresAt.After(o.CreatedAt) {
		return ErrInvalidOTPExpiry
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
