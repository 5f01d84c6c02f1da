package credential

import (
	"strings"
	"time"

	"github.com/quantauth/quantauth/internal/platform/errors"
)

// Type tags the closed set of credential kinds.
type Type string

const (
	// TypeWebAuthn marks a public-key authenticator credential (passkey).
	TypeWebAuthn Type = "webauthn"
	// TypeTOTP marks a time-based one-time-password secret.
	TypeTOTP Type = "totp"
)

// Valid reports whether the type is a known kind.
func (t Type) Valid() bool {
	return t == TypeWebAuthn || t == TypeTOTP
}

// Credential is an enrolled second factor attached to an account owner.
//
// Payload material (the WebAuthn credential record, the encrypted TOTP seed)
// stays in the storage layer; this type carries what the engines and the
// listing surface need.
type Credential struct {
	ID          string
	Owner       string
	Type        Type
	DeviceName  string // webauthn only, optional human label
	KeyID       string // webauthn only, base64url credential identifier
	SignCounter uint32 // webauthn only, monotonically non-decreasing
	IsPrimary   bool
	FlaggedAt   *time.Time // set when a clone signal was observed
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}

// Validate checks structural invariants before persistence.
func Validate(c Credential) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New(errors.CodeInvalidInput, "credential id is required")
	}
	if strings.TrimSpace(c.Owner) == "" {
		return errors.New(errors.CodeOwnerRequired, "credential owner is required")
	}
	if !c.Type.Valid() {
		return errors.New(errors.CodeInvalidInput, "unknown credential type")
	}
	switch c.Type {
	case TypeWebAuthn:
		if strings.TrimSpace(c.KeyID) == "" {
			return errors.New(errors.CodeInvalidInput, "webauthn credential requires a key id")
		}
	case TypeTOTP:
		if c.KeyID != "" || c.DeviceName != "" || c.SignCounter != 0 {
			return errors.New(errors.CodeInvalidInput, "totp credential carries webauthn fields")
		}
	}
	return nil
}
