package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/quantauth/quantauth/internal/credential"
	"github.com/quantauth/quantauth/internal/platform/errors"
	"github.com/quantauth/quantauth/internal/platform/id"
	"github.com/quantauth/quantauth/internal/storage"
)

// Provider abstracts the go-webauthn ceremony driver for testing.
type Provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// Parser abstracts client response parsing for testing.
type Parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Engine drives WebAuthn ceremonies against the ceremony and credential
// stores.
type Engine struct {
	config      Config
	webAuthn    Provider
	parser      Parser
	ceremonies  storage.CeremonyStore
	credentials storage.CredentialStore

	clock func() time.Time
	newID func() (string, error)
}

// NewEngine builds a ceremony engine from relying-party configuration.
func NewEngine(cfg Config, ceremonies storage.CeremonyStore, credentials storage.CredentialStore) (*Engine, error) {
	if ceremonies == nil {
		return nil, fmt.Errorf("ceremony store is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    cfg.CeremonyTTL,
				TimeoutUVD: cfg.CeremonyTTL,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    cfg.CeremonyTTL,
				TimeoutUVD: cfg.CeremonyTTL,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}

	return &Engine{
		config:      cfg,
		webAuthn:    web,
		parser:      defaultParser{},
		ceremonies:  ceremonies,
		credentials: credentials,
		clock:       time.Now,
		newID:       id.NewID,
	}, nil
}

// RegistrationStart is what the caller embeds in the platform ceremony call.
type RegistrationStart struct {
	CeremonyID      string
	Nonce           string
	RPID            string
	RPOrigins       []string
	ExcludedKeyIDs  []string
	CreationOptions json.RawMessage
}

// AuthenticationStart carries the assertion challenge. An empty AllowedKeyIDs
// list means the owner has no passkeys and must fall back to another factor;
// no ceremony is issued in that case.
type AuthenticationStart struct {
	CeremonyID     string
	Nonce          string
	AllowedKeyIDs  []string
	RequestOptions json.RawMessage
}

// ceremonyUser adapts an owner and their stored passkeys to webauthn.User.
type ceremonyUser struct {
	owner       string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.owner)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.owner
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.owner
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// BeginRegistration issues a registration challenge for the owner.
//
// Credentials the owner already holds are placed on the exclusion list so
// the same authenticator cannot be enrolled twice.
func (e *Engine) BeginRegistration(ctx context.Context, owner, deviceName string) (RegistrationStart, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return RegistrationStart{}, errors.New(errors.CodeOwnerRequired, "owner is required")
	}

	user, err := e.loadCeremonyUser(ctx, owner)
	if err != nil {
		return RegistrationStart{}, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(user.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(
			webauthn.Credentials(user.credentials).CredentialDescriptors()))
	}

	creation, session, err := e.webAuthn.BeginRegistration(user, options...)
	if err != nil {
		return RegistrationStart{}, fmt.Errorf("begin registration ceremony: %w", err)
	}

	ceremonyID, err := e.storeCeremony(ctx, owner, storage.CeremonyRegistration, session, deviceName)
	if err != nil {
		return RegistrationStart{}, err
	}

	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return RegistrationStart{}, fmt.Errorf("encode creation options: %w", err)
	}

	excluded := make([]string, 0, len(user.credentials))
	for _, stored := range user.credentials {
		excluded = append(excluded, encodeKeyID(stored.ID))
	}

	return RegistrationStart{
		CeremonyID:      ceremonyID,
		Nonce:           session.Challenge,
		RPID:            e.config.RPID,
		RPOrigins:       e.config.RPOrigins,
		ExcludedKeyIDs:  excluded,
		CreationOptions: optionsJSON,
	}, nil
}

// FinishRegistration verifies the attestation response and persists the new
// credential.
//
// The ceremony is consumed before verification, so a response that fails to
// verify burns the challenge: no partial credential is persisted and the
// same nonce can never be retried.
func (e *Engine) FinishRegistration(ctx context.Context, ceremonyID, owner string, responseJSON []byte) (credential.Credential, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return credential.Credential{}, errors.New(errors.CodeOwnerRequired, "owner is required")
	}
	if len(responseJSON) == 0 {
		return credential.Credential{}, errors.New(errors.CodeInvalidInput, "credential response is required")
	}

	ceremony, err := e.ceremonies.ConsumeCeremony(ctx, ceremonyID, owner, storage.CeremonyRegistration, e.clock().UTC())
	if err != nil {
		return credential.Credential{}, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(ceremony.SessionJSON), &session); err != nil {
		return credential.Credential{}, fmt.Errorf("decode ceremony session: %w", err)
	}

	user, err := e.loadCeremonyUser(ctx, owner)
	if err != nil {
		return credential.Credential{}, err
	}

	parsed, err := e.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return credential.Credential{}, errors.Wrap(errors.CodeRegistrationFailed, "parse credential response", err)
	}
	created, err := e.webAuthn.CreateCredential(user, session, parsed)
	if err != nil {
		return credential.Credential{}, errors.Wrap(errors.CodeRegistrationFailed, "validate credential response", err)
	}

	credentialJSON, err := json.Marshal(created)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("encode credential: %w", err)
	}
	recordID, err := e.newID()
	if err != nil {
		return credential.Credential{}, fmt.Errorf("create credential id: %w", err)
	}

	now := e.clock().UTC()
	record := storage.CredentialRecord{
		ID:             recordID,
		Owner:          owner,
		Type:           credential.TypeWebAuthn,
		DeviceName:     ceremony.DeviceName,
		KeyID:          encodeKeyID(created.ID),
		CredentialJSON: string(credentialJSON),
		SignCounter:    0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.credentials.AddCredential(ctx, record); err != nil {
		return credential.Credential{}, err
	}
	return record.Domain(), nil
}

// BeginAuthentication issues an assertion challenge for the owner.
func (e *Engine) BeginAuthentication(ctx context.Context, owner string) (AuthenticationStart, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return AuthenticationStart{}, errors.New(errors.CodeOwnerRequired, "owner is required")
	}

	user, err := e.loadCeremonyUser(ctx, owner)
	if err != nil {
		return AuthenticationStart{}, err
	}
	if len(user.credentials) == 0 {
		return AuthenticationStart{AllowedKeyIDs: []string{}}, nil
	}

	assertion, session, err := e.webAuthn.BeginLogin(user)
	if err != nil {
		return AuthenticationStart{}, fmt.Errorf("begin authentication ceremony: %w", err)
	}

	ceremonyID, err := e.storeCeremony(ctx, owner, storage.CeremonyAuthentication, session, "")
	if err != nil {
		return AuthenticationStart{}, err
	}

	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		return AuthenticationStart{}, fmt.Errorf("encode assertion options: %w", err)
	}

	allowed := make([]string, 0, len(user.credentials))
	for _, stored := range user.credentials {
		allowed = append(allowed, encodeKeyID(stored.ID))
	}

	return AuthenticationStart{
		CeremonyID:     ceremonyID,
		Nonce:          session.Challenge,
		AllowedKeyIDs:  allowed,
		RequestOptions: optionsJSON,
	}, nil
}

// FinishAuthentication verifies the assertion response against the stored
// public key and advances the clone-detection counter.
//
// Unknown key ids, keys owned by someone else, bad signatures, and counter
// regressions all collapse to CodeAuthenticationFailed so callers cannot
// probe which credentials exist.
func (e *Engine) FinishAuthentication(ctx context.Context, ceremonyID, owner string, responseJSON []byte) (credential.Credential, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return credential.Credential{}, errors.New(errors.CodeOwnerRequired, "owner is required")
	}
	if len(responseJSON) == 0 {
		return credential.Credential{}, errors.New(errors.CodeInvalidInput, "credential response is required")
	}

	now := e.clock().UTC()
	ceremony, err := e.ceremonies.ConsumeCeremony(ctx, ceremonyID, owner, storage.CeremonyAuthentication, now)
	if err != nil {
		return credential.Credential{}, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(ceremony.SessionJSON), &session); err != nil {
		return credential.Credential{}, fmt.Errorf("decode ceremony session: %w", err)
	}

	parsed, err := e.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return credential.Credential{}, errors.Wrap(errors.CodeAuthenticationFailed, "parse assertion response", err)
	}

	keyID := encodeKeyID(parsed.RawID)
	record, err := e.credentials.GetCredentialByKeyID(ctx, keyID)
	if err != nil || record.Owner != owner || record.Type != credential.TypeWebAuthn {
		return credential.Credential{}, errors.New(errors.CodeAuthenticationFailed, "assertion names an unusable credential")
	}

	var stored webauthn.Credential
	if err := json.Unmarshal([]byte(record.CredentialJSON), &stored); err != nil {
		return credential.Credential{}, fmt.Errorf("decode stored credential: %w", err)
	}
	// The sign_counter column is authoritative; the JSON copy is only the
	// key material snapshot taken at registration.
	stored.Authenticator.SignCount = record.SignCounter

	user := &ceremonyUser{owner: owner, credentials: []webauthn.Credential{stored}}
	validated, err := e.webAuthn.ValidateLogin(user, session, parsed)
	if err != nil {
		return credential.Credential{}, errors.Wrap(errors.CodeAuthenticationFailed, "validate assertion", err)
	}
	if validated.Authenticator.CloneWarning {
		return credential.Credential{}, errors.New(errors.CodeAuthenticationFailed, "assertion counter regressed")
	}

	if err := e.credentials.UpdateSignCounter(ctx, record.ID, validated.Authenticator.SignCount, now); err != nil {
		// A regression here flagged the credential in the store; surface
		// only the generic denial.
		return credential.Credential{}, errors.Wrap(errors.CodeAuthenticationFailed, "advance sign counter", err)
	}

	updated, err := e.credentials.GetCredential(ctx, record.ID)
	if err != nil {
		return credential.Credential{}, err
	}
	return updated.Domain(), nil
}

func (e *Engine) loadCeremonyUser(ctx context.Context, owner string) (*ceremonyUser, error) {
	records, err := e.credentials.ListCredentialsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	var parsed []webauthn.Credential
	for _, record := range records {
		if record.Type != credential.TypeWebAuthn {
			continue
		}
		var stored webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &stored); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.ID, err)
		}
		parsed = append(parsed, stored)
	}
	return &ceremonyUser{owner: owner, credentials: parsed}, nil
}

func (e *Engine) storeCeremony(ctx context.Context, owner string, purpose storage.CeremonyPurpose, session *webauthn.SessionData, deviceName string) (string, error) {
	if session == nil {
		return "", fmt.Errorf("session data is required")
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("encode ceremony session: %w", err)
	}
	ceremonyID, err := e.newID()
	if err != nil {
		return "", fmt.Errorf("create ceremony id: %w", err)
	}

	now := e.clock().UTC()
	err = e.ceremonies.PutCeremony(ctx, storage.Ceremony{
		ID:          ceremonyID,
		Owner:       owner,
		Purpose:     purpose,
		Nonce:       session.Challenge,
		SessionJSON: string(sessionJSON),
		DeviceName:  strings.TrimSpace(deviceName),
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.config.CeremonyTTL),
	})
	if err != nil {
		return "", fmt.Errorf("store ceremony: %w", err)
	}
	return ceremonyID, nil
}

func encodeKeyID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
