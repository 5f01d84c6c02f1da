package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantauth/quantauth/internal/storage"
)

// PutTOTPEnrollment upserts the pending enrollment for an owner.
//
// Calling setup again before verification overwrites the prior secret and
// resets the attempt budget; only the latest pending secret survives.
func (s *Store) PutTOTPEnrollment(ctx context.Context, enrollment storage.TOTPEnrollment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(enrollment.Owner) == "" {
		return fmt.Errorf("enrollment owner is required")
	}
	if len(enrollment.SecretEnc) == 0 {
		return fmt.Errorf("enrollment secret is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO totp_enrollments (owner, secret_enc, attempts, created_at, expires_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET
			secret_enc = excluded.secret_enc,
			attempts = 0,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		enrollment.Owner, enrollment.SecretEnc,
		toMillis(enrollment.CreatedAt), toMillis(enrollment.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put totp enrollment: %w", err)
	}
	return nil
}

// GetTOTPEnrollment fetches the pending enrollment for an owner.
func (s *Store) GetTOTPEnrollment(ctx context.Context, owner string) (storage.TOTPEnrollment, error) {
	if err := ctx.Err(); err != nil {
		return storage.TOTPEnrollment{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.TOTPEnrollment{}, err
	}
	if strings.TrimSpace(owner) == "" {
		return storage.TOTPEnrollment{}, fmt.Errorf("owner is required")
	}

	var enrollment storage.TOTPEnrollment
	var createdAt, expiresAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT owner, secret_enc, attempts, created_at, expires_at
		FROM totp_enrollments WHERE owner = ?`, owner,
	).Scan(&enrollment.Owner, &enrollment.SecretEnc, &enrollment.Attempts, &createdAt, &expiresAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return storage.TOTPEnrollment{}, storage.ErrNotFound
		}
		return storage.TOTPEnrollment{}, fmt.Errorf("get totp enrollment: %w", err)
	}
	enrollment.CreatedAt = fromMillis(createdAt)
	enrollment.ExpiresAt = fromMillis(expiresAt)
	return enrollment, nil
}

// DeleteTOTPEnrollment discards the pending enrollment for an owner.
func (s *Store) DeleteTOTPEnrollment(ctx context.Context, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(owner) == "" {
		return fmt.Errorf("owner is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM totp_enrollments WHERE owner = ?`, owner)
	if err != nil {
		return fmt.Errorf("delete totp enrollment: %w", err)
	}
	return nil
}

// IncrementTOTPAttempts bumps the failed-verification counter atomically and
// returns the new value.
func (s *Store) IncrementTOTPAttempts(ctx context.Context, owner string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(owner) == "" {
		return 0, fmt.Errorf("owner is required")
	}

	var attempts int
	err := s.sqlDB.QueryRowContext(ctx,
		`UPDATE totp_enrollments SET attempts = attempts + 1
		WHERE owner = ? RETURNING attempts`, owner,
	).Scan(&attempts)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("increment totp attempts: %w", err)
	}
	return attempts, nil
}

// DeleteExpiredTOTPEnrollments reclaims pending enrollments past expiry.
func (s *Store) DeleteExpiredTOTPEnrollments(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ensureDB(); err != nil {
		return 0, err
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM totp_enrollments WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired totp enrollments: %w", err)
	}
	return result.RowsAffected()
}
