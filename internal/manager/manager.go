package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quantauth/quantauth/internal/credential"
	"github.com/quantauth/quantauth/internal/passkey"
	"github.com/quantauth/quantauth/internal/platform/errors"
	"github.com/quantauth/quantauth/internal/storage"
	"github.com/quantauth/quantauth/internal/totp"
)

// PasskeyEngine is the WebAuthn ceremony surface the manager fronts.
type PasskeyEngine interface {
	BeginRegistration(ctx context.Context, owner, deviceName string) (passkey.RegistrationStart, error)
	FinishRegistration(ctx context.Context, ceremonyID, owner string, responseJSON []byte) (credential.Credential, error)
	BeginAuthentication(ctx context.Context, owner string) (passkey.AuthenticationStart, error)
	FinishAuthentication(ctx context.Context, ceremonyID, owner string, responseJSON []byte) (credential.Credential, error)
}

// TOTPEngine is the one-time-password surface the manager fronts.
type TOTPEngine interface {
	Setup(ctx context.Context, owner, accountName string) (totp.SetupResult, error)
	VerifySetup(ctx context.Context, owner, code string) (credential.Credential, error)
	VerifyLogin(ctx context.Context, owner, code string) (credential.Credential, error)
}

// Manager coordinates both factor engines and owns lifecycle policy.
type Manager struct {
	config      Config
	passkeys    PasskeyEngine
	totp        TOTPEngine
	credentials storage.CredentialStore

	setupLimiter *ownerLimiter
	loginLimiter *ownerLimiter
	clock        func() time.Time
}

// New builds a manager over the two engines and the credential store.
func New(cfg Config, passkeys PasskeyEngine, totpEngine TOTPEngine, credentials storage.CredentialStore) (*Manager, error) {
	if passkeys == nil {
		return nil, fmt.Errorf("passkey engine is required")
	}
	if totpEngine == nil {
		return nil, fmt.Errorf("totp engine is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	cfg.applyDefaults()
	return &Manager{
		config:       cfg,
		passkeys:     passkeys,
		totp:         totpEngine,
		credentials:  credentials,
		setupLimiter: newOwnerLimiter(cfg.TOTPSetupRefill, cfg.TOTPSetupBurst),
		loginLimiter: newOwnerLimiter(cfg.TOTPLoginRefill, cfg.TOTPLoginBurst),
		clock:        time.Now,
	}, nil
}

// BeginPasskeyRegistration starts a registration ceremony.
func (m *Manager) BeginPasskeyRegistration(ctx context.Context, owner, deviceName string) (passkey.RegistrationStart, error) {
	return m.passkeys.BeginRegistration(ctx, owner, deviceName)
}

// FinishPasskeyRegistration completes a registration ceremony.
func (m *Manager) FinishPasskeyRegistration(ctx context.Context, ceremonyID, owner string, responseJSON []byte) (credential.Credential, error) {
	return m.passkeys.FinishRegistration(ctx, ceremonyID, owner, responseJSON)
}

// BeginPasskeyAuthentication starts an authentication ceremony.
func (m *Manager) BeginPasskeyAuthentication(ctx context.Context, owner string) (passkey.AuthenticationStart, error) {
	return m.passkeys.BeginAuthentication(ctx, owner)
}

// FinishPasskeyAuthentication completes an authentication ceremony.
func (m *Manager) FinishPasskeyAuthentication(ctx context.Context, ceremonyID, owner string, responseJSON []byte) (credential.Credential, error) {
	return m.passkeys.FinishAuthentication(ctx, ceremonyID, owner, responseJSON)
}

// SetupTOTP starts a TOTP enrollment, subject to the setup throttle.
func (m *Manager) SetupTOTP(ctx context.Context, owner, accountName string) (totp.SetupResult, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return totp.SetupResult{}, errors.New(errors.CodeOwnerRequired, "owner is required")
	}
	if !m.setupLimiter.allow(owner, m.clock()) {
		return totp.SetupResult{}, errors.New(errors.CodeTooManyAttempts, "too many setup requests, slow down")
	}
	return m.totp.Setup(ctx, owner, accountName)
}

// VerifyTOTPSetup confirms a pending enrollment, subject to the setup
// throttle.
func (m *Manager) VerifyTOTPSetup(ctx context.Context, owner, code string) (credential.Credential, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return credential.Credential{}, errors.New(errors.CodeOwnerRequired, "owner is required")
	}
	if !m.setupLimiter.allow(owner, m.clock()) {
		return credential.Credential{}, errors.New(errors.CodeTooManyAttempts, "too many setup requests, slow down")
	}
	return m.totp.VerifySetup(ctx, owner, code)
}

// VerifyTOTPLogin checks a login code, subject to the login throttle. The
// throttle runs before the engine so exhausted owners cost no crypto work.
func (m *Manager) VerifyTOTPLogin(ctx context.Context, owner, code string) (credential.Credential, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return credential.Credential{}, errors.New(errors.CodeOwnerRequired, "owner is required")
	}
	if !m.loginLimiter.allow(owner, m.clock()) {
		return credential.Credential{}, errors.New(errors.CodeTooManyAttempts, "too many verification attempts, slow down")
	}
	return m.totp.VerifyLogin(ctx, owner, code)
}

// ListCredentials returns the owner's credentials of both types in
// creation order.
func (m *Manager) ListCredentials(ctx context.Context, owner string) ([]credential.Credential, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, errors.New(errors.CodeOwnerRequired, "owner is required")
	}
	records, err := m.credentials.ListCredentialsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	credentials := make([]credential.Credential, 0, len(records))
	for _, record := range records {
		credentials = append(credentials, record.Domain())
	}
	return credentials, nil
}

// RemoveCredential deletes one of the owner's credentials. Removal is
// refused when it would leave the owner below the configured minimum.
func (m *Manager) RemoveCredential(ctx context.Context, owner, credentialID string) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return errors.New(errors.CodeOwnerRequired, "owner is required")
	}
	records, err := m.credentials.ListCredentialsByOwner(ctx, owner)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}
	owned := false
	for _, record := range records {
		if record.ID == credentialID {
			owned = true
			break
		}
	}
	if !owned {
		return storage.ErrNotFound
	}
	if len(records) <= m.config.MinCredentials {
		return errors.New(errors.CodeLastCredential,
			fmt.Sprintf("cannot remove, at least %d credential(s) must remain", m.config.MinCredentials))
	}
	return m.credentials.RemoveCredential(ctx, owner, credentialID)
}

// SetPrimaryCredential marks one credential primary, clearing any prior
// primary for the owner.
func (m *Manager) SetPrimaryCredential(ctx context.Context, owner, credentialID string) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return errors.New(errors.CodeOwnerRequired, "owner is required")
	}
	return m.credentials.SetPrimary(ctx, owner, credentialID)
}
