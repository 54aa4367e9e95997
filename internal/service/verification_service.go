package service

import (
	"context"
	"errors"
	"fmt"
	"storefront-auth/internal/domain"
	"storefront-auth/internal/repository"
	"storefront-auth/pkg/email"
	"storefront-auth/pkg/ratelimit"
	"storefront-auth/pkg/security"
	"storefront-auth/pkg/validation"
	"sync"
	"time"

	"go.uber.org/zap"
)

type CodeGenerator interface {
	Generate() (string, error)
}

type VerificationConfig struct {
	TTL         time.Duration
	MaxAttempts int
	IssueLimit  int
	IssueWindow time.Duration
}

func DefaultVerificationConfig() VerificationConfig {
	return VerificationConfig{
		TTL:         300 * time.Second,
		MaxAttempts: 5,
		IssueLimit:  5,
		IssueWindow: time.Hour,
	}
}

// Issued is the outcome of a successful issue. Code is the plaintext and must
// only leave the process through the email sender or the dev-mode response.
type Issued struct {
	Code      string
	ExpiresAt time.Time
	ExpiresIn int
	EmailSent bool
}

type VerificationService struct {
	otpRepo   repository.OTPRepository
	sender    email.Service
	generator CodeGenerator
	hasher    *security.CodeHasher
	limiter   ratelimit.Limiter
	logger    *zap.Logger
	cfg       VerificationConfig
	now       func() time.Time
	inflight  sync.WaitGroup
}

func NewVerificationService(
	otpRepo repository.OTPRepository,
	sender email.Service,
	generator CodeGenerator,
	hasher *security.CodeHasher,
	limiter ratelimit.Limiter,
	logger *zap.Logger,
	cfg VerificationConfig,
) *VerificationService {
	return &VerificationService{
		otpRepo:   otpRepo,
		sender:    sender,
		generator: generator,
		hasher:    hasher,
		limiter:   limiter,
		logger:    logger.Named("verification"),
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *VerificationService) TTL() time.Duration {
	return s.cfg.TTL
}

// Issue replaces any active code for the pair with a fresh one and dispatches
// it. A failed send does not roll the code back; it is reported via EmailSent.
func (s *VerificationService) Issue(ctx context.Context, address string, purpose domain.Purpose) (*Issued, error) {
	return s.issue(ctx, address, purpose, false)
}

// IssueDetached stores the code like Issue but sends the email in the
// background, so the caller's latency does not depend on the mail provider.
// EmailSent is always false. Wait drains pending sends.
func (s *VerificationService) IssueDetached(ctx context.Context, address string, purpose domain.Purpose) (*Issued, error) {
	return s.issue(ctx, address, purpose, true)
}

// Wait blocks until every background send has finished.
func (s *VerificationService) Wait() {
	s.inflight.Wait()
}

func (s *VerificationService) issue(ctx context.Context, address string, purpose domain.Purpose, detached bool) (*Issued, error) {
	address = domain.NormalizeEmail(address)
	if !validation.ValidateEmail(address) {
		return nil, domain.ErrInvalidEmail
	}
	if _, err := domain.ParsePurpose(purpose.String()); err != nil {
		return nil, err
	}

	if err := s.Throttle(ctx, address, purpose); err != nil {
		return nil, err
	}

	code, err := s.generator.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate OTP: %w", err)
	}

	now := s.now()
	otp := &domain.OTPCode{
		Email:     address,
		Purpose:   purpose,
		CodeHash:  s.hasher.Hash(address, purpose.String(), code),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}

	stored, err := s.otpRepo.Issue(ctx, otp)
	if err != nil {
		return nil, fmt.Errorf("failed to store OTP: %w", err)
	}

	issued := &Issued{
		Code:      code,
		ExpiresAt: stored.ExpiresAt,
		ExpiresIn: stored.SecondsRemaining(now),
	}

	if detached {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.dispatch(address, purpose, code)
		}()
	} else {
		issued.EmailSent = s.dispatch(address, purpose, code)
	}

	s.logger.Info("otp issued",
		zap.String("email", address),
		zap.String("purpose", purpose.String()),
		zap.Int("otp_id", stored.ID),
		zap.Bool("email_sent", issued.EmailSent),
		zap.Bool("detached", detached),
	)

	return issued, nil
}

// Throttle counts one issue request against the pair's window. Callers that
// skip Issue (unknown emails on reset) still call it so limits look identical.
func (s *VerificationService) Throttle(ctx context.Context, address string, purpose domain.Purpose) error {
	if s.limiter == nil || s.cfg.IssueLimit <= 0 {
		return nil
	}

	allowed, err := s.limiter.Allow(ctx, "otp:issue:"+domain.NormalizeEmail(address)+":"+purpose.String(), s.cfg.IssueLimit, s.cfg.IssueWindow)
	if err != nil {
		// Fail open: a limiter outage must not block sign-ups.
		s.logger.Warn("rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !allowed {
		return domain.ErrTooManyRequests
	}
	return nil
}

func (s *VerificationService) dispatch(address string, purpose domain.Purpose, code string) bool {
	subject, body, err := email.OTPMessage(code, purpose.String(), s.cfg.TTL)
	if err != nil {
		s.logger.Error("failed to render otp email", zap.Error(err))
		return false
	}

	if err := s.sender.SendEmail(address, subject, body); err != nil {
		if !errors.Is(err, email.ErrDeliveryDisabled) {
			s.logger.Error("failed to send otp email", zap.String("email", address), zap.Error(err))
		}
		return false
	}
	return true
}

// Verify checks the code and consumes it. Only one concurrent caller can
// consume a given code; the others get ErrInvalidOTP.
func (s *VerificationService) Verify(ctx context.Context, address string, purpose domain.Purpose, code string) error {
	otp, err := s.match(ctx, address, purpose, code)
	if err != nil {
		return err
	}

	if err := s.otpRepo.Consume(ctx, otp.ID); err != nil {
		if errors.Is(err, domain.ErrOTPConsumed) {
			return domain.ErrInvalidOTP
		}
		return fmt.Errorf("failed to consume OTP: %w", err)
	}

	s.logger.Info("otp consumed", zap.String("email", otp.Email), zap.String("purpose", purpose.String()), zap.Int("otp_id", otp.ID))
	return nil
}

// Check validates without consuming. Mismatches still count as attempts.
func (s *VerificationService) Check(ctx context.Context, address string, purpose domain.Purpose, code string) error {
	_, err := s.match(ctx, address, purpose, code)
	return err
}

func (s *VerificationService) match(ctx context.Context, address string, purpose domain.Purpose, code string) (*domain.OTPCode, error) {
	address = domain.NormalizeEmail(address)
	if !validation.ValidateCode(code) {
		return nil, domain.ErrInvalidOTPFormat
	}

	otp, err := s.otpRepo.GetLatestUnconsumed(ctx, address, purpose)
	if err != nil {
		if errors.Is(err, domain.ErrOTPNotFound) {
			return nil, domain.ErrInvalidOTP
		}
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	if otp.IsExpired(s.now()) {
		return nil, domain.ErrOTPExpired
	}

	// The claim is taken before comparing so concurrent guesses cannot
	// all slip under the cap.
	attempts, err := s.otpRepo.ClaimAttempt(ctx, otp.ID, s.cfg.MaxAttempts)
	if err != nil {
		if errors.Is(err, domain.ErrOTPExhausted) {
			return nil, domain.ErrInvalidOTP
		}
		return nil, fmt.Errorf("failed to record OTP attempt: %w", err)
	}

	if !s.hasher.Matches(otp.CodeHash, address, purpose.String(), code) {
		s.logger.Info("otp mismatch", zap.String("email", address), zap.String("purpose", purpose.String()), zap.Int("attempts", attempts))
		return nil, domain.ErrInvalidOTP
	}

	if err := s.otpRepo.ReleaseAttempt(ctx, otp.ID); err != nil {
		s.logger.Error("failed to release otp attempt", zap.Int("otp_id", otp.ID), zap.Error(err))
	}

	return otp, nil
}

// PeekActiveExpiry reports the seconds left on the active code, if any.
func (s *VerificationService) PeekActiveExpiry(ctx context.Context, address string, purpose domain.Purpose) (int, bool, error) {
	address = domain.NormalizeEmail(address)

	otp, err := s.otpRepo.GetLatestUnconsumed(ctx, address, purpose)
	if err != nil {
		if errors.Is(err, domain.ErrOTPNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get OTP: %w", err)
	}

	now := s.now()
	if !otp.IsActive(now) || (s.cfg.MaxAttempts > 0 && otp.AttemptCount >= s.cfg.MaxAttempts) {
		return 0, false, nil
	}

	return otp.SecondsRemaining(now), true, nil
}
