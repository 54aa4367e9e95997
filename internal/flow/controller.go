// Package flow drives the signup and forgot-password forms as a four-step
// state machine: collecting details, code sent, code verified, complete.
package flow

import (
	"context"
	"errors"
	"fmt"
	"storefront-auth/internal/client"
	"storefront-auth/internal/domain"
	"storefront-auth/pkg/validation"
	"strings"
	"sync"
	"time"
)

type State int

const (
	StateCollectingDetails State = iota
	StateOTPSent
	StateVerified
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateCollectingDetails:
		return "collecting_details"
	case StateOTPSent:
		return "otp_sent"
	case StateVerified:
		return "verified"
	case StateComplete:
		return "complete"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Mode int

const (
	ModeSignup Mode = iota
	ModeForgotPassword
)

func (m Mode) Purpose() domain.Purpose {
	if m == ModeForgotPassword {
		return domain.PurposeForgotPassword
	}
	return domain.PurposeSignup
}

var ErrWrongState = errors.New("action not allowed in current step")

// API is the subset of the auth client the controller calls.
type API interface {
	SendOTP(ctx context.Context, email, purpose string) (*client.Dispatch, error)
	ForgotPassword(ctx context.Context, email string) (*client.Dispatch, error)
	VerifyOTP(ctx context.Context, email, purpose, code string) error
	OTPStatus(ctx context.Context, email, purpose string) (int, bool, error)
	SignupWithOTP(ctx context.Context, in client.Signup) error
	ResetPassword(ctx context.Context, in client.Reset) error
}

// Details is what the user typed before a code was requested. For the
// reset flow only Email is needed up front; the new password is set once
// the code verifies.
type Details struct {
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
}

type Controller struct {
	mu        sync.Mutex
	api       API
	mode      Mode
	state     State
	details   Details
	code      string
	devOTP    string
	emailSent bool
	countdown *Countdown
}

type Option func(*Controller)

// WithClock replaces time.Now for the countdown.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.countdown = NewCountdown(now)
	}
}

func NewController(api API, mode Mode, opts ...Option) *Controller {
	c := &Controller{
		api:       api,
		mode:      mode,
		countdown: NewCountdown(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Mode() Mode {
	return c.mode
}

func (c *Controller) Email() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.details.Email
}

// DevOTP is the code echoed by non-production servers, if any.
func (c *Controller) DevOTP() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devOTP
}

func (c *Controller) EmailSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emailSent
}

func (c *Controller) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func (c *Controller) Countdown() *Countdown {
	return c.countdown
}

// ValidateDetails applies the local form rules for the controller's mode.
func (c *Controller) ValidateDetails(d Details) error {
	email := strings.TrimSpace(d.Email)
	if email == "" {
		return domain.ErrMissingFields
	}
	if !validation.ValidateEmail(email) {
		return domain.ErrInvalidEmail
	}
	if c.mode == ModeForgotPassword {
		return nil
	}

	if d.Password == "" || strings.TrimSpace(d.FirstName) == "" || strings.TrimSpace(d.LastName) == "" {
		return domain.ErrMissingFields
	}
	return validatePasswordPair(d.Password, d.ConfirmPassword)
}

func validatePasswordPair(password, confirm string) error {
	if err := validation.ValidatePassword(password); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWeakPassword, err)
	}
	if password != confirm {
		return domain.ErrPasswordMismatch
	}
	return nil
}

// SubmitDetails validates locally and, only if that passes, requests a code.
func (c *Controller) SubmitDetails(ctx context.Context, d Details) error {
	if err := c.ValidateDetails(d); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateCollectingDetails {
		c.mu.Unlock()
		return ErrWrongState
	}
	d.Email = domain.NormalizeEmail(d.Email)
	c.mu.Unlock()

	dispatch, err := c.issue(ctx, d.Email)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.details = d
	c.enterOTPSent(dispatch)
	return nil
}

// Resume restores the code step after a reload if the server still holds
// an active code for the email.
func (c *Controller) Resume(ctx context.Context, d Details) (bool, error) {
	if err := c.ValidateDetails(d); err != nil {
		return false, err
	}
	d.Email = domain.NormalizeEmail(d.Email)

	left, active, err := c.api.OTPStatus(ctx, d.Email, c.mode.Purpose().String())
	if err != nil || !active {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCollectingDetails {
		return false, ErrWrongState
	}
	c.details = d
	c.state = StateOTPSent
	c.code = ""
	c.countdown.Reset(left)
	return true, nil
}

// Resend clears the typed code and any dev code, then issues a fresh one.
func (c *Controller) Resend(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateOTPSent {
		c.mu.Unlock()
		return ErrWrongState
	}
	c.code = ""
	c.devOTP = ""
	email := c.details.Email
	c.mu.Unlock()

	dispatch, err := c.issue(ctx, email)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateOTPSent {
		c.enterOTPSent(dispatch)
	}
	return nil
}

// Back discards the code step. The server-side code stays valid until a
// later issue supersedes it.
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOTPSent {
		return ErrWrongState
	}
	c.state = StateCollectingDetails
	c.code = ""
	c.devOTP = ""
	c.emailSent = false
	c.countdown.Stop()
	return nil
}

// SetCode records the code input, keeping digits only.
func (c *Controller) SetCode(code string) {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' && b.Len() < 6 {
			b.WriteRune(r)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = b.String()
}

func (c *Controller) CanSubmitCode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOTPSent && validation.ValidateCode(c.code)
}

// SubmitCode checks the typed code with the server. A rejected code is
// cleared and the controller stays on the code step.
func (c *Controller) SubmitCode(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateOTPSent {
		c.mu.Unlock()
		return ErrWrongState
	}
	if !validation.ValidateCode(c.code) {
		c.mu.Unlock()
		return domain.ErrInvalidOTPFormat
	}
	email, code := c.details.Email, c.code
	c.mu.Unlock()

	err := c.api.VerifyOTP(ctx, email, c.mode.Purpose().String(), code)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.code = ""
		return err
	}
	if c.state == StateOTPSent {
		c.state = StateVerified
	}
	return nil
}

// SetNewPassword supplies the reset password once the code has verified.
func (c *Controller) SetNewPassword(password, confirm string) error {
	if err := validatePasswordPair(password, confirm); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeForgotPassword || c.state != StateVerified {
		return ErrWrongState
	}
	c.details.Password = password
	c.details.ConfirmPassword = confirm
	return nil
}

// Complete calls the combined verify-and-mutate endpoint. If the server
// now rejects the code, the controller returns to the code step.
func (c *Controller) Complete(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateVerified {
		c.mu.Unlock()
		return ErrWrongState
	}
	d, code := c.details, c.code
	c.mu.Unlock()

	var err error
	switch c.mode {
	case ModeSignup:
		err = c.api.SignupWithOTP(ctx, client.Signup{
			Email:           d.Email,
			Password:        d.Password,
			ConfirmPassword: d.ConfirmPassword,
			FirstName:       strings.TrimSpace(d.FirstName),
			LastName:        strings.TrimSpace(d.LastName),
			OTPCode:         code,
		})
	case ModeForgotPassword:
		if d.Password == "" {
			return domain.ErrMissingFields
		}
		err = c.api.ResetPassword(ctx, client.Reset{
			Email:           d.Email,
			OTPCode:         code,
			NewPassword:     d.Password,
			ConfirmPassword: d.ConfirmPassword,
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if client.IsCode(err, client.CodeInvalidOrExpiredCode) {
			c.state = StateOTPSent
			c.code = ""
		}
		return err
	}
	c.state = StateComplete
	c.countdown.Stop()
	return nil
}

func (c *Controller) issue(ctx context.Context, email string) (*client.Dispatch, error) {
	if c.mode == ModeForgotPassword {
		return c.api.ForgotPassword(ctx, email)
	}
	return c.api.SendOTP(ctx, email, domain.PurposeSignup.String())
}

func (c *Controller) enterOTPSent(d *client.Dispatch) {
	c.state = StateOTPSent
	c.code = ""
	c.devOTP = d.DevOTP
	c.emailSent = d.EmailSent
	c.countdown.Reset(d.ExpiresIn)
}
