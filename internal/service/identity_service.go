package service

import (
	"context"
	"errors"
	"fmt"
	"storefront-auth/internal/domain"
	"storefront-auth/internal/repository"
	"storefront-auth/pkg/security"
	"storefront-auth/pkg/validation"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OTPDispatch is what the caller may learn about an issue request.
// DevOTP is populated only when the service was built with dev codes exposed.
type OTPDispatch struct {
	ExpiresIn int
	EmailSent bool
	DevOTP    string
}

type SignupInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
	OTPCode         string
}

type ResetInput struct {
	Email           string
	OTPCode         string
	NewPassword     string
	ConfirmPassword string
}

type IdentityOptions struct {
	ExposeDevCodes bool
	// ResetResponseFloor is the minimum time a forgot-password call takes,
	// so known and unknown addresses answer with the same latency.
	ResetResponseFloor time.Duration
}

type IdentityService struct {
	userRepo     repository.UserRepository
	verification *VerificationService
	passwords    *security.PasswordHasher
	logger       *zap.Logger
	opts         IdentityOptions
}

func NewIdentityService(
	userRepo repository.UserRepository,
	verification *VerificationService,
	passwords *security.PasswordHasher,
	logger *zap.Logger,
	opts IdentityOptions,
) *IdentityService {
	return &IdentityService{
		userRepo:     userRepo,
		verification: verification,
		passwords:    passwords,
		logger:       logger.Named("identity"),
		opts:         opts,
	}
}

// SendOTP routes a generic send request to the flow owning the purpose.
func (s *IdentityService) SendOTP(ctx context.Context, address string, purpose domain.Purpose) (*OTPDispatch, error) {
	switch purpose {
	case domain.PurposeSignup:
		return s.SendSignupOTP(ctx, address)
	case domain.PurposeForgotPassword:
		return s.ForgotPassword(ctx, address)
	}
	return nil, domain.ErrInvalidPurpose
}

func (s *IdentityService) SendSignupOTP(ctx context.Context, address string) (*OTPDispatch, error) {
	address = domain.NormalizeEmail(address)
	if address == "" {
		return nil, domain.ErrMissingFields
	}
	if !validation.ValidateEmail(address) {
		return nil, domain.ErrInvalidEmail
	}

	exists, err := s.userRepo.ExistsByEmail(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if exists {
		return nil, domain.ErrUserAlreadyExists
	}

	issued, err := s.verification.Issue(ctx, address, domain.PurposeSignup)
	if err != nil {
		return nil, err
	}

	return s.dispatchResult(issued), nil
}

// ForgotPassword always answers success-shaped with EmailSent=false. Unknown
// addresses get the nominal TTL and no code is stored or sent. Known
// addresses get their email in the background, and both paths are padded to
// the same response floor.
func (s *IdentityService) ForgotPassword(ctx context.Context, address string) (*OTPDispatch, error) {
	address = domain.NormalizeEmail(address)
	if address == "" {
		return nil, domain.ErrMissingFields
	}
	if !validation.ValidateEmail(address) {
		return nil, domain.ErrInvalidEmail
	}

	start := time.Now()
	out, err := s.forgotPassword(ctx, address)
	s.padResponse(ctx, start)
	return out, err
}

func (s *IdentityService) forgotPassword(ctx context.Context, address string) (*OTPDispatch, error) {
	if _, err := s.userRepo.GetByEmail(ctx, address); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			if err := s.verification.Throttle(ctx, address, domain.PurposeForgotPassword); err != nil {
				return nil, err
			}
			s.logger.Info("password reset requested for unknown email", zap.String("email", address))
			return &OTPDispatch{ExpiresIn: int(s.verification.TTL().Seconds())}, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	issued, err := s.verification.IssueDetached(ctx, address, domain.PurposeForgotPassword)
	if err != nil {
		return nil, err
	}

	return s.dispatchResult(issued), nil
}

func (s *IdentityService) padResponse(ctx context.Context, start time.Time) {
	wait := s.opts.ResetResponseFloor - time.Since(start)
	if wait <= 0 {
		return
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *IdentityService) dispatchResult(issued *Issued) *OTPDispatch {
	out := &OTPDispatch{ExpiresIn: issued.ExpiresIn, EmailSent: issued.EmailSent}
	if s.opts.ExposeDevCodes {
		out.DevOTP = issued.Code
	}
	return out
}

// CheckOTP is the non-consuming check behind /auth/verify-otp.
func (s *IdentityService) CheckOTP(ctx context.Context, address string, purpose domain.Purpose, code string) error {
	if strings.TrimSpace(address) == "" || code == "" {
		return domain.ErrMissingFields
	}
	return s.verification.Check(ctx, address, purpose, code)
}

// OTPStatus reports the active signup code's remaining seconds. Reset codes
// always read as inactive: an active one would prove the account exists.
func (s *IdentityService) OTPStatus(ctx context.Context, address string, purpose domain.Purpose) (int, bool, error) {
	if purpose == domain.PurposeForgotPassword {
		return 0, false, nil
	}
	return s.verification.PeekActiveExpiry(ctx, address, purpose)
}

// SignupWithOTP verifies the code and creates the account in one call.
// Nothing is persisted unless the code is valid, unexpired and unconsumed.
func (s *IdentityService) SignupWithOTP(ctx context.Context, in SignupInput) (*domain.User, error) {
	address := domain.NormalizeEmail(in.Email)
	firstName := strings.TrimSpace(in.FirstName)
	lastName := strings.TrimSpace(in.LastName)

	if address == "" || in.Password == "" || firstName == "" || lastName == "" || in.OTPCode == "" {
		return nil, domain.ErrMissingFields
	}
	if !validation.ValidateEmail(address) {
		return nil, domain.ErrInvalidEmail
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWeakPassword, err)
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.Password {
		return nil, domain.ErrPasswordMismatch
	}

	exists, err := s.userRepo.ExistsByEmail(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if exists {
		return nil, domain.ErrUserAlreadyExists
	}

	// Hash before consuming so a hashing failure does not burn the code.
	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAccountCreationFailed, err)
	}

	if err := s.verification.Verify(ctx, address, domain.PurposeSignup, in.OTPCode); err != nil {
		return nil, err
	}

	user, err := s.userRepo.Create(ctx, &domain.User{
		Email:        address,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrAccountCreationFailed, err)
	}

	s.logger.Info("account created", zap.Int("user_id", user.ID), zap.String("email", user.Email))
	return user, nil
}

// ResetPassword overwrites the password hash only after the forgot_password
// code verifies. Unknown emails fail exactly like a wrong code.
func (s *IdentityService) ResetPassword(ctx context.Context, in ResetInput) error {
	address := domain.NormalizeEmail(in.Email)

	if address == "" || in.OTPCode == "" || in.NewPassword == "" {
		return domain.ErrMissingFields
	}
	if !validation.ValidateEmail(address) {
		return domain.ErrInvalidEmail
	}
	if err := validation.ValidatePassword(in.NewPassword); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWeakPassword, err)
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.NewPassword {
		return domain.ErrPasswordMismatch
	}

	hash, err := s.passwords.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPasswordResetFailed, err)
	}

	if err := s.verification.Verify(ctx, address, domain.PurposeForgotPassword, in.OTPCode); err != nil {
		return err
	}

	user, err := s.userRepo.GetByEmail(ctx, address)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPasswordResetFailed, err)
	}

	if err := s.userRepo.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPasswordResetFailed, err)
	}

	s.logger.Info("password reset", zap.Int("user_id", user.ID))
	return nil
}

func (s *IdentityService) GetUserByID(ctx context.Context, userID int) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
