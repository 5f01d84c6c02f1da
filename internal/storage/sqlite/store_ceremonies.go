package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantauth/quantauth/internal/platform/errors"
	"github.com/quantauth/quantauth/internal/storage"
)

// PutCeremony stores a freshly issued ceremony challenge.
func (s *Store) PutCeremony(ctx context.Context, c storage.Ceremony) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("ceremony id is required")
	}
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("ceremony owner is required")
	}
	if c.Purpose != storage.CeremonyRegistration && c.Purpose != storage.CeremonyAuthentication {
		return fmt.Errorf("unknown ceremony purpose %q", c.Purpose)
	}
	if strings.TrimSpace(c.Nonce) == "" {
		return fmt.Errorf("ceremony nonce is required")
	}
	if strings.TrimSpace(c.SessionJSON) == "" {
		return fmt.Errorf("ceremony session json is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO ceremonies
		(id, owner, purpose, nonce, session_json, device_name, created_at, expires_at, consumed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		c.ID, c.Owner, string(c.Purpose), c.Nonce, c.SessionJSON, c.DeviceName,
		toMillis(c.CreatedAt), toMillis(c.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put ceremony: %w", err)
	}
	return nil
}

// ConsumeCeremony marks a ceremony consumed and returns its record.
//
// The guarded UPDATE is the single-use gate: two concurrent finish calls can
// both read the row, but only one statement flips consumed_at. Every failure
// mode (missing, wrong owner, wrong purpose, expired, already consumed)
// collapses to CodeChallengeInvalid so callers learn nothing about which
// ceremonies exist.
func (s *Store) ConsumeCeremony(ctx context.Context, ceremonyID, owner string, purpose storage.CeremonyPurpose, now time.Time) (storage.Ceremony, error) {
	if err := ctx.Err(); err != nil {
		return storage.Ceremony{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.Ceremony{}, err
	}
	if strings.TrimSpace(ceremonyID) == "" || strings.TrimSpace(owner) == "" {
		return storage.Ceremony{}, errors.New(errors.CodeChallengeInvalid, "ceremony is not consumable")
	}

	nowMillis := toMillis(now)
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE ceremonies SET consumed_at = ?
		WHERE id = ? AND owner = ? AND purpose = ?
		  AND consumed_at IS NULL AND expires_at > ?`,
		nowMillis, ceremonyID, owner, string(purpose), nowMillis)
	if err != nil {
		return storage.Ceremony{}, fmt.Errorf("consume ceremony: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.Ceremony{}, fmt.Errorf("consume ceremony: %w", err)
	}
	if affected == 0 {
		return storage.Ceremony{}, errors.New(errors.CodeChallengeInvalid, "ceremony is not consumable")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, owner, purpose, nonce, session_json, device_name, created_at, expires_at, consumed_at
		FROM ceremonies WHERE id = ?`, ceremonyID)
	return scanCeremony(row)
}

// DeleteExpiredCeremonies reclaims ceremonies past expiry. Purely hygiene;
// ConsumeCeremony re-checks expiry on its own.
func (s *Store) DeleteExpiredCeremonies(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ensureDB(); err != nil {
		return 0, err
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM ceremonies WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired ceremonies: %w", err)
	}
	return result.RowsAffected()
}

func scanCeremony(row rowScanner) (storage.Ceremony, error) {
	var c storage.Ceremony
	var purpose string
	var createdAt, expiresAt int64
	var consumedAt sql.NullInt64

	err := row.Scan(&c.ID, &c.Owner, &purpose, &c.Nonce, &c.SessionJSON,
		&c.DeviceName, &createdAt, &expiresAt, &consumedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return storage.Ceremony{}, storage.ErrNotFound
		}
		return storage.Ceremony{}, fmt.Errorf("scan ceremony: %w", err)
	}

	c.Purpose = storage.CeremonyPurpose(purpose)
	c.CreatedAt = fromMillis(createdAt)
	c.ExpiresAt = fromMillis(expiresAt)
	if consumedAt.Valid {
		value := fromMillis(consumedAt.Int64)
		c.ConsumedAt = &value
	}
	return c, nil
}
