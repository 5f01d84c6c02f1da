package storage

import (
	"context"
	"time"

	"github.com/quantauth/quantauth/internal/credential"
	"github.com/quantauth/quantauth/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// CeremonyPurpose describes what a ceremony challenge was issued for.
type CeremonyPurpose string

const (
	CeremonyRegistration   CeremonyPurpose = "registration"
	CeremonyAuthentication CeremonyPurpose = "authentication"
)

// Ceremony is a short-lived, single-use challenge record for a WebAuthn
// registration or authentication ceremony.
type Ceremony struct {
	ID          string
	Owner       string
	Purpose     CeremonyPurpose
	Nonce       string // base64url challenge handed to the client
	SessionJSON string // serialized webauthn.SessionData
	DeviceName  string // registration only, requested human label
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// CredentialRecord is the durable row backing a domain credential, including
// the type-specific payload the domain type does not carry.
type CredentialRecord struct {
	ID             string
	Owner          string
	Type           credential.Type
	DeviceName     string
	KeyID          string // webauthn key identifier, globally unique
	CredentialJSON string // webauthn: serialized webauthn.Credential
	SecretEnc      []byte // totp: AEAD-sealed seed
	SignCounter    uint32
	LastUsedStep   int64 // totp: last accepted time step, replay guard
	IsPrimary      bool
	FlaggedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// Domain converts the record into its domain representation.
func (r CredentialRecord) Domain() credential.Credential {
	return credential.Credential{
		ID:          r.ID,
		Owner:       r.Owner,
		Type:        r.Type,
		DeviceName:  r.DeviceName,
		KeyID:       r.KeyID,
		SignCounter: r.SignCounter,
		IsPrimary:   r.IsPrimary,
		FlaggedAt:   r.FlaggedAt,
		CreatedAt:   r.CreatedAt,
		LastUsedAt:  r.LastUsedAt,
	}
}

// TOTPEnrollment is the pending holding area for a TOTP secret that has not
// been verified yet. Re-running setup overwrites it; only the latest survives.
type TOTPEnrollment struct {
	Owner     string
	SecretEnc []byte
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CeremonyStore persists single-use ceremony challenges.
type CeremonyStore interface {
	PutCeremony(ctx context.Context, c Ceremony) error
	// ConsumeCeremony atomically checks existence, owner and purpose match,
	// non-expiry, and unconsumed state, then marks the record consumed. Any
	// failure collapses to CodeChallengeInvalid so callers cannot probe
	// which ceremonies exist.
	ConsumeCeremony(ctx context.Context, ceremonyID, owner string, purpose CeremonyPurpose, now time.Time) (Ceremony, error)
	// DeleteExpiredCeremonies is a hygiene sweep; consume re-checks expiry
	// on its own.
	DeleteExpiredCeremonies(ctx context.Context, now time.Time) (int64, error)
}

// CredentialStore persists enrolled credentials.
type CredentialStore interface {
	// AddCredential fails with CodeDuplicateCredential when a webauthn
	// credential with the same key id already exists for any owner.
	AddCredential(ctx context.Context, record CredentialRecord) error
	GetCredential(ctx context.Context, credentialID string) (CredentialRecord, error)
	// GetCredentialByKeyID looks up a webauthn credential by its key
	// identifier regardless of owner.
	GetCredentialByKeyID(ctx context.Context, keyID string) (CredentialRecord, error)
	// ListCredentialsByOwner returns the owner's credentials in creation
	// order.
	ListCredentialsByOwner(ctx context.Context, owner string) ([]CredentialRecord, error)
	// UpdateSignCounter applies a compare-and-set counter update. A counter
	// that does not increase fails with CodeCounterRegression, leaves the
	// stored value unchanged, and flags the credential as a clone signal.
	UpdateSignCounter(ctx context.Context, credentialID string, newCounter uint32, usedAt time.Time) error
	// UpdateTOTPLastUsedStep records an accepted TOTP time step. A step that
	// does not advance fails with CodeInvalidCode, which rejects replays
	// within the same window.
	UpdateTOTPLastUsedStep(ctx context.Context, credentialID string, step int64, usedAt time.Time) error
	// SetPrimary clears any prior primary flag for the owner and sets the
	// new one in a single transaction.
	SetPrimary(ctx context.Context, owner, credentialID string) error
	RemoveCredential(ctx context.Context, owner, credentialID string) error
}

// TOTPEnrollmentStore persists pending TOTP enrollments keyed by owner.
type TOTPEnrollmentStore interface {
	// PutTOTPEnrollment upserts the pending enrollment, replacing any prior
	// secret and resetting the attempt count.
	PutTOTPEnrollment(ctx context.Context, enrollment TOTPEnrollment) error
	GetTOTPEnrollment(ctx context.Context, owner string) (TOTPEnrollment, error)
	DeleteTOTPEnrollment(ctx context.Context, owner string) error
	// IncrementTOTPAttempts bumps the failed-verification counter and
	// returns the new value.
	IncrementTOTPAttempts(ctx context.Context, owner string) (int, error)
	DeleteExpiredTOTPEnrollments(ctx context.Context, now time.Time) (int64, error)
}
