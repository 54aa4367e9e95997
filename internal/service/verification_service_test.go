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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sequenceGenerator struct {
	mu    sync.Mutex
	codes []string
}

func (g *sequenceGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.codes) == 0 {
		return "", errors.New("no more codes")
	}
	code := g.codes[0]
	g.codes = g.codes[1:]
	return code, nil
}

type sentMail struct {
	to, subject, body string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (s *recordingSender) SendEmail(to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMail{to, subject, body})
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixture struct {
	otpRepo repository.OTPRepository
	sender  *recordingSender
	gen     *sequenceGenerator
	svc     *VerificationService
	clock   time.Time
}

func newFixture(t *testing.T, codes ...string) *fixture {
	t.Helper()

	f := &fixture{
		otpRepo: repository.NewMemoryOTPRepository(),
		sender:  &recordingSender{},
		gen:     &sequenceGenerator{codes: codes},
		clock:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewVerificationService(
		f.otpRepo,
		f.sender,
		f.gen,
		security.NewCodeHasher([]byte("test-secret")),
		nil,
		zap.NewNop(),
		DefaultVerificationConfig(),
	)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func TestIssueThenVerifySucceedsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")

	issued, err := f.svc.Issue(ctx, "A@X.com", domain.PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, "123456", issued.Code)
	assert.Equal(t, 300, issued.ExpiresIn)
	assert.True(t, issued.EmailSent)
	require.Equal(t, 1, f.sender.count())
	assert.Equal(t, "a@x.com", f.sender.sent[0].to)
	assert.Contains(t, f.sender.sent[0].body, "123456")

	require.NoError(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "123456"))
	assert.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "123456"), domain.ErrInvalidOTP)
}

func TestVerifyAfterTTLFailsExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")

	_, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)

	f.advance(300 * time.Second)
	f.advance(time.Millisecond)

	assert.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "123456"), domain.ErrOTPExpired)

	otp, err := f.otpRepo.GetLatestUnconsumed(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	assert.False(t, otp.Consumed)
}

func TestVerifyAtExactExpiryStillSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")

	_, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)

	f.advance(300 * time.Second)
	assert.NoError(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "123456"))
}

func TestReissueInvalidatesPreviousCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "111111", "222222")

	_, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "111111"), domain.ErrInvalidOTP)
	assert.NoError(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "222222"))
}

func TestCodesAreScopedByPurpose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")

	_, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeForgotPassword, "123456"), domain.ErrInvalidOTP)
	assert.NoError(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "123456"))
}

func TestVerifyRejectsMalformedCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")

	_, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)

	for _, code := range []string{"", "12345", "1234567", "12345a"} {
		assert.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, code), domain.ErrInvalidOTPFormat, code)
	}

	otp, err := f.otpRepo.GetLatestUnconsumed(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	assert.Zero(t, otp.AttemptCount)
}

func TestVerifyWithoutIssueFailsInvalid(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.Verify(context.Background(), "a@x.com", domain.PurposeSignup, "123456"), domain.ErrInvalidOTP)
}

func TestMismatchesCountAttemptsAndBurnCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")

	_, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "654321"), domain.ErrInvalidOTP)
	}

	otp, err := f.otpRepo.GetLatestUnconsumed(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, 5, otp.AttemptCount)

	assert.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "123456"), domain.ErrInvalidOTP)

	_, active, err := f.svc.PeekActiveExpiry(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestCheckDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")

	_, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)

	require.NoError(t, f.svc.Check(ctx, "a@x.com", domain.PurposeSignup, "123456"))
	require.NoError(t, f.svc.Check(ctx, "a@x.com", domain.PurposeSignup, "123456"))
	assert.ErrorIs(t, f.svc.Check(ctx, "a@x.com", domain.PurposeSignup, "000000"), domain.ErrInvalidOTP)
	assert.NoError(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "123456"))
}

func TestConcurrentVerifyOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")

	_, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)

	const callers = 16
	var wins, losses int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "123456")
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, domain.ErrInvalidOTP):
				atomic.AddInt32(&losses, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins)
	assert.EqualValues(t, callers-1, losses)
}

// slowOTPRepository widens the window between reading a code and recording
// a guess, the way a database round trip does.
type slowOTPRepository struct {
	repository.OTPRepository
	delay   time.Duration
	claimed int32
}

func (r *slowOTPRepository) GetLatestUnconsumed(ctx context.Context, address string, purpose domain.Purpose) (*domain.OTPCode, error) {
	time.Sleep(r.delay)
	return r.OTPRepository.GetLatestUnconsumed(ctx, address, purpose)
}

func (r *slowOTPRepository) ClaimAttempt(ctx context.Context, id int, maxAttempts int) (int, error) {
	n, err := r.OTPRepository.ClaimAttempt(ctx, id, maxAttempts)
	if err == nil {
		atomic.AddInt32(&r.claimed, 1)
	}
	return n, err
}

func TestConcurrentMismatchesRespectAttemptCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")
	slow := &slowOTPRepository{OTPRepository: f.otpRepo, delay: 2 * time.Millisecond}
	f.svc.otpRepo = slow

	_, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)

	const callers = 200
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(guess string) {
			defer wg.Done()
			<-start
			assert.ErrorIs(t, f.svc.Check(ctx, "a@x.com", domain.PurposeSignup, guess), domain.ErrInvalidOTP)
		}(fmt.Sprintf("9%05d", i))
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, DefaultVerificationConfig().MaxAttempts, atomic.LoadInt32(&slow.claimed))
	assert.ErrorIs(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "123456"), domain.ErrInvalidOTP)
}

func TestMatchingGuessDoesNotSpendAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")

	_, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, f.svc.Check(ctx, "a@x.com", domain.PurposeSignup, "123456"))
	}

	otp, err := f.otpRepo.GetLatestUnconsumed(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	assert.Zero(t, otp.AttemptCount)
}

func TestPeekActiveExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")

	_, active, err := f.svc.PeekActiveExpiry(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	assert.False(t, active)

	_, err = f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)

	f.advance(40 * time.Second)
	left, active, err := f.svc.PeekActiveExpiry(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, 260, left)

	f.advance(261 * time.Second)
	_, active, err = f.svc.PeekActiveExpiry(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSendFailureKeepsStoredCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")
	f.sender.err = errors.New("smtp down")

	issued, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	assert.False(t, issued.EmailSent)

	assert.NoError(t, f.svc.Verify(ctx, "a@x.com", domain.PurposeSignup, "123456"))
}

func TestDisabledDeliveryReportsNotSent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")
	f.sender.err = email.ErrDeliveryDisabled

	issued, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	assert.False(t, issued.EmailSent)
}

func TestIssueValidatesInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "123456")

	_, err := f.svc.Issue(ctx, "not-an-email", domain.PurposeSignup)
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)

	_, err = f.svc.Issue(ctx, "a@x.com", domain.Purpose("login"))
	assert.ErrorIs(t, err, domain.ErrInvalidPurpose)

	assert.Zero(t, f.sender.count())
}

func TestIssueIsRateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "111111", "222222", "333333")

	limiter := ratelimit.NewMemoryLimiter()
	defer limiter.Close()
	f.svc.limiter = limiter
	f.svc.cfg.IssueLimit = 2

	_, err := f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, "a@x.com", domain.PurposeSignup)
	assert.ErrorIs(t, err, domain.ErrTooManyRequests)

	_, err = f.svc.Issue(ctx, "a@x.com", domain.PurposeForgotPassword)
	assert.NoError(t, err)
}
