package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantauth/quantauth/internal/credential"
	"github.com/quantauth/quantauth/internal/platform/errors"
	"github.com/quantauth/quantauth/internal/storage"
)

const credentialColumns = `id, owner, credential_type, device_name, key_id,
	credential_json, secret_enc, sign_counter, last_used_step, is_primary,
	flagged_at, created_at, updated_at, last_used_at`

// AddCredential inserts a new credential row.
//
// The unique index on key_id rejects reuse of the same authenticator key
// across accounts, which prevents key confusion between owners.
func (s *Store) AddCredential(ctx context.Context, record storage.CredentialRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if err := credential.Validate(record.Domain()); err != nil {
		return err
	}

	keyID := sql.NullString{}
	if strings.TrimSpace(record.KeyID) != "" {
		keyID = sql.NullString{String: record.KeyID, Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO credentials
		(id, owner, credential_type, device_name, key_id, credential_json,
		 secret_enc, sign_counter, last_used_step, is_primary, flagged_at,
		 created_at, updated_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, NULL)`,
		record.ID,
		record.Owner,
		string(record.Type),
		record.DeviceName,
		keyID,
		record.CredentialJSON,
		record.SecretEnc,
		record.SignCounter,
		record.LastUsedStep,
		boolToInt(record.IsPrimary),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(errors.CodeDuplicateCredential, "authenticator key already enrolled", err)
		}
		return fmt.Errorf("add credential: %w", err)
	}
	return nil
}

// GetCredential fetches a credential by its record id.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.CredentialRecord{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.CredentialRecord{}, err
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.CredentialRecord{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, credentialID)
	return scanCredential(row)
}

// GetCredentialByKeyID fetches a webauthn credential by its key identifier.
func (s *Store) GetCredentialByKeyID(ctx context.Context, keyID string) (storage.CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.CredentialRecord{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.CredentialRecord{}, err
	}
	if strings.TrimSpace(keyID) == "" {
		return storage.CredentialRecord{}, fmt.Errorf("key id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE key_id = ?`, keyID)
	return scanCredential(row)
}

// ListCredentialsByOwner returns the owner's credentials in creation order.
func (s *Store) ListCredentialsByOwner(ctx context.Context, owner string) ([]storage.CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("owner is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials
		WHERE owner = ? ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var records []storage.CredentialRecord
	for rows.Next() {
		record, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return records, nil
}

// UpdateSignCounter advances a webauthn sign counter.
//
// The guarded UPDATE is the whole compare-and-set: zero rows affected on an
// existing credential means the counter did not increase, which is treated
// as a cloned-authenticator signal. The credential is flagged and the stored
// counter is left unchanged.
func (s *Store) UpdateSignCounter(ctx context.Context, credentialID string, newCounter uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	now := toMillis(usedAt)
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE credentials
		SET sign_counter = ?, updated_at = ?, last_used_at = ?
		WHERE id = ? AND credential_type = 'webauthn'
		  AND (sign_counter = 0 OR ? > sign_counter)`,
		newCounter, now, now, credentialID, newCounter)
	if err != nil {
		return fmt.Errorf("update sign counter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sign counter: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Distinguish a missing credential from a regression before flagging.
	if _, err := s.GetCredential(ctx, credentialID); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`UPDATE credentials SET flagged_at = COALESCE(flagged_at, ?), updated_at = ?
		WHERE id = ?`,
		now, now, credentialID); err != nil {
		return fmt.Errorf("flag credential: %w", err)
	}
	return errors.WithMetadata(errors.CodeCounterRegression,
		"sign counter did not increase",
		map[string]string{"credential_id": credentialID})
}

// UpdateTOTPLastUsedStep records the accepted TOTP time step.
//
// The step must strictly advance; replaying a code within the same window
// fails here even though the code itself still derives correctly.
func (s *Store) UpdateTOTPLastUsedStep(ctx context.Context, credentialID string, step int64, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	now := toMillis(usedAt)
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE credentials
		SET last_used_step = ?, updated_at = ?, last_used_at = ?
		WHERE id = ? AND credential_type = 'totp' AND ? > last_used_step`,
		step, now, now, credentialID, step)
	if err != nil {
		return fmt.Errorf("update totp step: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update totp step: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetCredential(ctx, credentialID); err != nil {
			return err
		}
		return errors.New(errors.CodeInvalidCode, "totp step already used")
	}
	return nil
}

// SetPrimary designates the owner's primary credential.
//
// Clearing the prior flag and setting the new one happen in one transaction
// so at most one credential per owner is ever primary.
func (s *Store) SetPrimary(ctx context.Context, owner, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(owner) == "" {
		return fmt.Errorf("owner is required")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set primary: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE credentials SET is_primary = 1 WHERE id = ? AND owner = ?`,
		credentialID, owner)
	if err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE credentials SET is_primary = 0 WHERE owner = ? AND id != ?`,
		owner, credentialID); err != nil {
		return fmt.Errorf("clear prior primary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set primary: %w", err)
	}
	return nil
}

// RemoveCredential deletes a credential owned by the given account.
func (s *Store) RemoveCredential(ctx context.Context, owner, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(owner) == "" {
		return fmt.Errorf("owner is required")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM credentials WHERE id = ? AND owner = ?`, credentialID, owner)
	if err != nil {
		return fmt.Errorf("remove credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove credential: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (storage.CredentialRecord, error) {
	var record storage.CredentialRecord
	var credentialType string
	var keyID sql.NullString
	var secretEnc []byte
	var isPrimary int
	var flaggedAt, lastUsedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&record.ID,
		&record.Owner,
		&credentialType,
		&record.DeviceName,
		&keyID,
		&record.CredentialJSON,
		&secretEnc,
		&record.SignCounter,
		&record.LastUsedStep,
		&isPrimary,
		&flaggedAt,
		&createdAt,
		&updatedAt,
		&lastUsedAt,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return storage.CredentialRecord{}, storage.ErrNotFound
		}
		return storage.CredentialRecord{}, fmt.Errorf("scan credential: %w", err)
	}

	record.Type = credential.Type(credentialType)
	record.KeyID = keyID.String
	record.SecretEnc = secretEnc
	record.IsPrimary = isPrimary != 0
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	if flaggedAt.Valid {
		value := fromMillis(flaggedAt.Int64)
		record.FlaggedAt = &value
	}
	if lastUsedAt.Valid {
		value := fromMillis(lastUsedAt.Int64)
		record.LastUsedAt = &value
	}
	return record, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "constraint failed")
}
