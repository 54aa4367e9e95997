// Package client is a typed caller for the /auth endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// Error codes mirror the server's error taxonomy.
const (
	CodeMissingFields          = "MissingFields"
	CodeWeakPassword           = "WeakPassword"
	CodePasswordMismatch       = "PasswordMismatch"
	CodeInvalidEmail           = "InvalidEmail"
	CodeEmailAlreadyRegistered = "EmailAlreadyRegistered"
	CodeInvalidOrExpiredCode   = "InvalidOrExpiredCode"
	CodeTooManyRequests        = "TooManyRequests"
	CodeAccountCreationFailed  = "AccountCreationFailed"
	CodePasswordResetFailed    = "PasswordResetFailed"
	CodeInternal               = "InternalError"
)

// APIError is a structured failure returned by the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Dispatch struct {
	ExpiresIn int    `json:"expiresIn"`
	EmailSent bool   `json:"emailSent"`
	DevOTP    string `json:"devOtp,omitempty"`
}

type Signup struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	OTPCode         string `json:"otpCode"`
}

type Reset struct {
	Email           string `json:"email"`
	OTPCode         string `json:"otpCode"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
}

type User struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	CreatedAt time.Time `json:"createdAt"`
}

type Client struct {
	baseURL   string
	http      *http.Client
	csrfToken string
}

// New returns a client with its own cookie jar so the signup session
// carries over to later calls.
func New(baseURL string) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Jar: jar, Timeout: 15 * time.Second},
	}, nil
}

// FetchCSRFToken primes the token that production deployments require on
// every POST. Against a server without CSRF the token is empty.
func (c *Client) FetchCSRFToken(ctx context.Context) error {
	var out struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/csrf", nil, &out); err != nil {
		return err
	}
	c.csrfToken = out.CSRFToken
	return nil
}

func (c *Client) SendOTP(ctx context.Context, email, purpose string) (*Dispatch, error) {
	var out Dispatch
	body := map[string]string{"email": email, "purpose": purpose}
	if err := c.do(ctx, http.MethodPost, "/auth/send-otp", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) VerifyOTP(ctx context.Context, email, purpose, code string) error {
	body := map[string]string{"email": email, "purpose": purpose, "code": code}
	return c.do(ctx, http.MethodPost, "/auth/verify-otp", body, nil)
}

func (c *Client) SignupWithOTP(ctx context.Context, in Signup) error {
	return c.do(ctx, http.MethodPost, "/auth/signup-with-otp", in, nil)
}

func (c *Client) ForgotPassword(ctx context.Context, email string) (*Dispatch, error) {
	var out Dispatch
	if err := c.do(ctx, http.MethodPost, "/auth/forgot-password", map[string]string{"email": email}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ResetPassword(ctx context.Context, in Reset) error {
	return c.do(ctx, http.MethodPost, "/auth/reset-password", in, nil)
}

// OTPStatus returns the seconds left on the active code, if any.
func (c *Client) OTPStatus(ctx context.Context, email, purpose string) (int, bool, error) {
	var out struct {
		Active    bool `json:"active"`
		ExpiresIn int  `json:"expiresIn"`
	}
	q := url.Values{"email": {email}, "purpose": {purpose}}
	if err := c.do(ctx, http.MethodGet, "/auth/otp-status?"+q.Encode(), nil, &out); err != nil {
		return 0, false, err
	}
	return out.ExpiresIn, out.Active, nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", struct{}{}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrfToken != "" {
		req.Header.Set("X-CSRF-Token", c.csrfToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Error APIError `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Code == "" {
			return &APIError{Status: resp.StatusCode, Code: CodeInternal, Message: http.StatusText(resp.StatusCode)}
		}
		envelope.Error.Status = resp.StatusCode
		return &envelope.Error
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
