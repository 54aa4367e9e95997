// Package validation holds the input rules shared by the API and the
// client-side step controller.
package validation

import (
	"errors"
	"regexp"
	"strings"
)

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	codeRegex    = regexp.MustCompile(`^[0-9]{6}$`)
	upperRegex   = regexp.MustCompile(`[A-Z]`)
	lowerRegex   = regexp.MustCompile(`[a-z]`)
	digitRegex   = regexp.MustCompile(`[0-9]`)
	specialRegex = regexp.MustCompile(`[!@#\$%\^&\*\(\)_\+\-=\[\]\{\}\\|;:'",.<>\/?~` + "`" + `]`)
)

var (
	ErrPasswordTooShort    = errors.New("password must be at least 8 characters long")
	ErrPasswordTooLong     = errors.New("password must not exceed 100 characters")
	ErrPasswordUppercase   = errors.New("password must include at least one uppercase letter")
	ErrPasswordLowercase   = errors.New("password must include at least one lowercase letter")
	ErrPasswordDigit       = errors.New("password must include at least one digit")
	ErrPasswordSpecialChar = errors.New("password must include at least one special character")
)

func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

// ValidatePassword returns the first rule the password breaks, or nil.
func ValidatePassword(password string) error {
	switch {
	case len(password) < 8:
		return ErrPasswordTooShort
	case len(password) > 100:
		return ErrPasswordTooLong
	case !upperRegex.MatchString(password):
		return ErrPasswordUppercase
	case !lowerRegex.MatchString(password):
		return ErrPasswordLowercase
	case !digitRegex.MatchString(password):
		return ErrPasswordDigit
	case !specialRegex.MatchString(password):
		return ErrPasswordSpecialChar
	}
	return nil
}

func ValidateCode(code string) bool {
	return codeRegex.MatchString(code)
}
