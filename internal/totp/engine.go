package totp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/quantauth/quantauth/internal/credential"
	"github.com/quantauth/quantauth/internal/platform/errors"
	"github.com/quantauth/quantauth/internal/platform/id"
	"github.com/quantauth/quantauth/internal/storage"
	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// Engine manages TOTP enrollment and verification.
type Engine struct {
	config      Config
	sealer      *sealer
	enrollments storage.TOTPEnrollmentStore
	credentials storage.CredentialStore

	clock func() time.Time
	newID func() (string, error)
}

// NewEngine builds a TOTP engine. The configuration's encryption key must
// already validate.
func NewEngine(cfg Config, enrollments storage.TOTPEnrollmentStore, credentials storage.CredentialStore) (*Engine, error) {
	if enrollments == nil {
		return nil, fmt.Errorf("enrollment store is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	cfg.applyDefaults()
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	seal, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	return &Engine{
		config:      cfg,
		sealer:      seal,
		enrollments: enrollments,
		credentials: credentials,
		clock:       time.Now,
		newID:       id.NewID,
	}, nil
}

// SetupResult is handed to the owner exactly once, at enrollment time. The
// raw secret is never readable again after this.
type SetupResult struct {
	Secret          string
	ProvisioningURI string
	QRPNG           []byte
	ExpiresAt       time.Time
}

// Setup generates a fresh seed and parks it as a pending enrollment.
//
// Re-running setup replaces any earlier pending seed and resets its attempt
// count; an owner with an active TOTP credential must remove it first.
func (e *Engine) Setup(ctx context.Context, owner, accountName string) (SetupResult, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return SetupResult{}, errors.New(errors.CodeOwnerRequired, "owner is required")
	}
	accountName = strings.TrimSpace(accountName)
	if accountName == "" {
		accountName = owner
	}

	active, err := e.activeCredential(ctx, owner)
	if err != nil {
		return SetupResult{}, err
	}
	if active != nil {
		return SetupResult{}, errors.New(errors.CodeTOTPAlreadyActive, "an authenticator app is already enrolled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.Issuer,
		AccountName: accountName,
		Period:      e.config.periodSeconds(),
		SecretSize:  e.config.SecretSize,
		Digits:      otp.Digits(e.config.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return SetupResult{}, fmt.Errorf("generate totp seed: %w", err)
	}

	sealed, err := e.sealer.seal([]byte(key.Secret()))
	if err != nil {
		return SetupResult{}, err
	}

	now := e.clock().UTC()
	expiresAt := now.Add(e.config.EnrollmentTTL)
	err = e.enrollments.PutTOTPEnrollment(ctx, storage.TOTPEnrollment{
		Owner:     owner,
		SecretEnc: sealed,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return SetupResult{}, fmt.Errorf("store enrollment: %w", err)
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, qrImageSize)
	if err != nil {
		return SetupResult{}, fmt.Errorf("render provisioning qr: %w", err)
	}

	return SetupResult{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRPNG:           png,
		ExpiresAt:       expiresAt,
	}, nil
}

// VerifySetup activates a pending enrollment when the owner echoes a valid
// code for it.
//
// The accepted step is recorded on the new credential, so the code used to
// confirm enrollment is spent and cannot be replayed at login.
func (e *Engine) VerifySetup(ctx context.Context, owner, code string) (credential.Credential, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return credential.Credential{}, errors.New(errors.CodeOwnerRequired, "owner is required")
	}

	now := e.clock().UTC()
	enrollment, err := e.enrollments.GetTOTPEnrollment(ctx, owner)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			return credential.Credential{}, errors.New(errors.CodeTOTPNotEnrolled, "no pending enrollment")
		}
		return credential.Credential{}, fmt.Errorf("load enrollment: %w", err)
	}
	if !enrollment.ExpiresAt.After(now) {
		_ = e.enrollments.DeleteTOTPEnrollment(ctx, owner)
		return credential.Credential{}, errors.New(errors.CodeTOTPNotEnrolled, "enrollment expired")
	}
	if enrollment.Attempts >= e.config.SetupAttempts {
		return credential.Credential{}, errors.New(errors.CodeTooManyAttempts, "too many failed codes, restart setup")
	}

	secret, err := e.sealer.open(enrollment.SecretEnc)
	if err != nil {
		return credential.Credential{}, err
	}

	step, ok := e.matchCode(string(secret), code, now)
	if !ok {
		attempts, incErr := e.enrollments.IncrementTOTPAttempts(ctx, owner)
		if incErr != nil {
			return credential.Credential{}, fmt.Errorf("record failed attempt: %w", incErr)
		}
		if attempts >= e.config.SetupAttempts {
			return credential.Credential{}, errors.New(errors.CodeTooManyAttempts, "too many failed codes, restart setup")
		}
		return credential.Credential{}, errors.New(errors.CodeInvalidCode, "code did not match")
	}

	recordID, err := e.newID()
	if err != nil {
		return credential.Credential{}, fmt.Errorf("create credential id: %w", err)
	}
	record := storage.CredentialRecord{
		ID:           recordID,
		Owner:        owner,
		Type:         credential.TypeTOTP,
		SecretEnc:    enrollment.SecretEnc,
		LastUsedStep: step,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.credentials.AddCredential(ctx, record); err != nil {
		return credential.Credential{}, err
	}
	if err := e.enrollments.DeleteTOTPEnrollment(ctx, owner); err != nil {
		return credential.Credential{}, fmt.Errorf("clear enrollment: %w", err)
	}
	return record.Domain(), nil
}

// VerifyLogin checks a code against the owner's active seed.
//
// Acceptance advances the last-used step with a compare-and-set, so a code
// replayed within its window fails like any wrong code.
func (e *Engine) VerifyLogin(ctx context.Context, owner, code string) (credential.Credential, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return credential.Credential{}, errors.New(errors.CodeOwnerRequired, "owner is required")
	}

	record, err := e.activeCredential(ctx, owner)
	if err != nil {
		return credential.Credential{}, err
	}
	if record == nil {
		return credential.Credential{}, errors.New(errors.CodeTOTPNotEnrolled, "no authenticator app enrolled")
	}

	secret, err := e.sealer.open(record.SecretEnc)
	if err != nil {
		return credential.Credential{}, err
	}

	now := e.clock().UTC()
	step, ok := e.matchCode(string(secret), code, now)
	if !ok {
		return credential.Credential{}, errors.New(errors.CodeInvalidCode, "code did not match")
	}
	if err := e.credentials.UpdateTOTPLastUsedStep(ctx, record.ID, step, now); err != nil {
		return credential.Credential{}, err
	}

	updated, err := e.credentials.GetCredential(ctx, record.ID)
	if err != nil {
		return credential.Credential{}, err
	}
	return updated.Domain(), nil
}

func (e *Engine) activeCredential(ctx context.Context, owner string) (*storage.CredentialRecord, error) {
	records, err := e.credentials.ListCredentialsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	for i := range records {
		if records[i].Type == credential.TypeTOTP {
			return &records[i], nil
		}
	}
	return nil, nil
}

// matchCode compares the code against every step in the skew window and
// returns the matched step. All steps are always derived and compared so
// timing does not reveal which one, if any, matched.
func (e *Engine) matchCode(secret, code string, now time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != e.config.Digits {
		return 0, false
	}

	period := int64(e.config.periodSeconds())
	current := now.Unix() / period

	var matchedStep int64
	matched := 0
	for offset := -int64(e.config.Skew); offset <= int64(e.config.Skew); offset++ {
		step := current + offset
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0).UTC(), totp.ValidateOpts{
			Period:    e.config.periodSeconds(),
			Skew:      0,
			Digits:    otp.Digits(e.config.Digits),
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			matchedStep = step
			matched = 1
		}
	}
	return matchedStep, matched == 1
}
