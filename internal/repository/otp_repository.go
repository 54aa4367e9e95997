package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"storefront-auth/internal/domain"
)

// OTPRepository is the only writer of otp_codes. Issue supersedes and inserts
// under one transaction; Consume is a compare-and-swap on the consumed flag.
type OTPRepository interface {
	Issue(ctx context.Context, otp *domain.OTPCode) (*domain.OTPCode, error)
	GetLatestUnconsumed(ctx context.Context, email string, purpose domain.Purpose) (*domain.OTPCode, error)
	// ClaimAttempt reserves one guess on a live code and returns the new
	// count. It fails with ErrOTPExhausted once maxAttempts are claimed.
	// A maxAttempts of zero or less means unlimited.
	ClaimAttempt(ctx context.Context, id int, maxAttempts int) (int, error)
	// ReleaseAttempt hands back a claim taken for a guess that matched.
	ReleaseAttempt(ctx context.Context, id int) error
	Consume(ctx context.Context, id int) error
}

type otpRepository struct {
	db *sql.DB
}

func NewOTPRepository(db *sql.DB) OTPRepository {
	return &otpRepository{db: db}
}

func (r *otpRepository) Issue(ctx context.Context, otp *domain.OTPCode) (*domain.OTPCode, error) {
	if err := otp.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin OTP transaction: %w", err)
	}
	defer tx.Rollback()

	// Serializes concurrent issues for the same pair until commit.
	if _, err := tx.ExecContext(ctx,
		"SELECT pg_advisory_xact_lock(hashtext($1))",
		otp.Email+":"+otp.Purpose.String(),
	); err != nil {
		return nil, fmt.Errorf("failed to lock OTP pair: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE otp_codes SET superseded = TRUE
		 WHERE email = $1 AND purpose = $2 AND consumed = FALSE AND superseded = FALSE`,
		otp.Email, otp.Purpose,
	); err != nil {
		return nil, fmt.Errorf("failed to supersede OTP: %w", err)
	}

	issued := *otp
	err = tx.QueryRowContext(ctx,
		`INSERT INTO otp_codes (email, purpose, code_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		otp.Email, otp.Purpose, otp.CodeHash, otp.CreatedAt, otp.ExpiresAt,
	).Scan(&issued.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to store OTP: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit OTP: %w", err)
	}

	return &issued, nil
}

func (r *otpRepository) GetLatestUnconsumed(ctx context.Context, email string, purpose domain.Purpose) (*domain.OTPCode, error) {
	otp := &domain.OTPCode{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, purpose, code_hash, created_at, expires_at, consumed, superseded, attempt_count
		 FROM otp_codes
		 WHERE email = $1 AND purpose = $2 AND consumed = FALSE AND superseded = FALSE
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		email, purpose,
	).Scan(&otp.ID, &otp.Email, &otp.Purpose, &otp.CodeHash, &otp.CreatedAt,
		&otp.ExpiresAt, &otp.Consumed, &otp.Superseded, &otp.AttemptCount)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOTPNotFound
		}
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	return otp, nil
}

func (r *otpRepository) ClaimAttempt(ctx context.Context, id int, maxAttempts int) (int, error) {
	var attempts int

	err := r.db.QueryRowContext(ctx,
		`UPDATE otp_codes SET attempt_count = attempt_count + 1
		 WHERE id = $1 AND consumed = FALSE AND superseded = FALSE
		   AND ($2 <= 0 OR attempt_count < $2)
		 RETURNING attempt_count`,
		id, maxAttempts,
	).Scan(&attempts)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrOTPExhausted
		}
		return 0, fmt.Errorf("failed to claim OTP attempt: %w", err)
	}

	return attempts, nil
}

func (r *otpRepository) ReleaseAttempt(ctx context.Context, id int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE otp_codes SET attempt_count = attempt_count - 1 WHERE id = $1 AND attempt_count > 0",
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to release OTP attempt: %w", err)
	}
	return nil
}

func (r *otpRepository) Consume(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE otp_codes SET consumed = TRUE, consumed_at = NOW()
		 WHERE id = $1 AND consumed = FALSE AND superseded = FALSE`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to consume OTP: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to consume OTP: %w", err)
	}
	if n == 0 {
		return domain.ErrOTPConsumed
	}

	return nil
}
