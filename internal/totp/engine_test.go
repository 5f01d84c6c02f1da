package totp

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	otplib "github.com/pquerna/otp/totp"
	"github.com/quantauth/quantauth/internal/credential"
	"github.com/quantauth/quantauth/internal/platform/errors"
	"github.com/quantauth/quantauth/internal/storage"
)

type fakeEnrollmentStore struct {
	enrollments map[string]storage.TOTPEnrollment
}

func newFakeEnrollmentStore() *fakeEnrollmentStore {
	return &fakeEnrollmentStore{enrollments: make(map[string]storage.TOTPEnrollment)}
}

func (s *fakeEnrollmentStore) PutTOTPEnrollment(_ context.Context, enrollment storage.TOTPEnrollment) error {
	enrollment.Attempts = 0
	s.enrollments[enrollment.Owner] = enrollment
	return nil
}

func (s *fakeEnrollmentStore) GetTOTPEnrollment(_ context.Context, owner string) (storage.TOTPEnrollment, error) {
	enrollment, ok := s.enrollments[owner]
	if !ok {
		return storage.TOTPEnrollment{}, storage.ErrNotFound
	}
	return enrollment, nil
}

func (s *fakeEnrollmentStore) DeleteTOTPEnrollment(_ context.Context, owner string) error {
	delete(s.enrollments, owner)
	return nil
}

func (s *fakeEnrollmentStore) IncrementTOTPAttempts(_ context.Context, owner string) (int, error) {
	enrollment, ok := s.enrollments[owner]
	if !ok {
		return 0, storage.ErrNotFound
	}
	enrollment.Attempts++
	s.enrollments[owner] = enrollment
	return enrollment.Attempts, nil
}

func (s *fakeEnrollmentStore) DeleteExpiredTOTPEnrollments(_ context.Context, now time.Time) (int64, error) {
	var deleted int64
	for owner, enrollment := range s.enrollments {
		if !enrollment.ExpiresAt.After(now) {
			delete(s.enrollments, owner)
			deleted++
		}
	}
	return deleted, nil
}

type fakeCredentialStore struct {
	records map[string]storage.CredentialRecord
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{records: make(map[string]storage.CredentialRecord)}
}

func (s *fakeCredentialStore) AddCredential(_ context.Context, record storage.CredentialRecord) error {
	s.records[record.ID] = record
	return nil
}

func (s *fakeCredentialStore) GetCredential(_ context.Context, credentialID string) (storage.CredentialRecord, error) {
	record, ok := s.records[credentialID]
	if !ok {
		return storage.CredentialRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (s *fakeCredentialStore) GetCredentialByKeyID(_ context.Context, keyID string) (storage.CredentialRecord, error) {
	for _, record := range s.records {
		if record.KeyID == keyID {
			return record, nil
		}
	}
	return storage.CredentialRecord{}, storage.ErrNotFound
}

func (s *fakeCredentialStore) ListCredentialsByOwner(_ context.Context, owner string) ([]storage.CredentialRecord, error) {
	var records []storage.CredentialRecord
	for _, record := range s.records {
		if record.Owner == owner {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *fakeCredentialStore) UpdateSignCounter(_ context.Context, credentialID string, newCounter uint32, usedAt time.Time) error {
	record, ok := s.records[credentialID]
	if !ok {
		return storage.ErrNotFound
	}
	record.SignCounter = newCounter
	s.records[credentialID] = record
	return nil
}

func (s *fakeCredentialStore) UpdateTOTPLastUsedStep(_ context.Context, credentialID string, step int64, usedAt time.Time) error {
	record, ok := s.records[credentialID]
	if !ok {
		return storage.ErrNotFound
	}
	if step <= record.LastUsedStep {
		return errors.New(errors.CodeInvalidCode, "totp step already used")
	}
	record.LastUsedStep = step
	used := usedAt
	record.LastUsedAt = &used
	s.records[credentialID] = record
	return nil
}

func (s *fakeCredentialStore) SetPrimary(_ context.Context, owner, credentialID string) error {
	return nil
}

func (s *fakeCredentialStore) RemoveCredential(_ context.Context, owner, credentialID string) error {
	delete(s.records, credentialID)
	return nil
}

func testConfig() Config {
	cfg := Config{EncryptionKey: strings.Repeat("ab", 32)}
	cfg.applyDefaults()
	return cfg
}

func newTestEngine(t *testing.T, enrollments *fakeEnrollmentStore, credentials *fakeCredentialStore) *Engine {
	t.Helper()
	engine, err := NewEngine(testConfig(), enrollments, credentials)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	fixed := time.Date(2026, 3, 12, 12, 0, 15, 0, time.UTC)
	engine.clock = func() time.Time { return fixed }
	counter := 0
	engine.newID = func() (string, error) {
		counter++
		return fmt.Sprintf("id-%d", counter), nil
	}
	return engine
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := otplib.GenerateCode(secret, at)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func TestSetupStoresSealedEnrollment(t *testing.T) {
	enrollments := newFakeEnrollmentStore()
	engine := newTestEngine(t, enrollments, newFakeCredentialStore())

	result, err := engine.Setup(context.Background(), "owner-1", "owner-1@example.com")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if result.Secret == "" {
		t.Fatal("expected a secret")
	}
	if !strings.HasPrefix(result.ProvisioningURI, "otpauth://totp/") {
		t.Fatalf("provisioning uri = %q", result.ProvisioningURI)
	}
	if !strings.Contains(result.ProvisioningURI, "owner-1%40example.com") {
		t.Fatalf("uri does not name the account: %q", result.ProvisioningURI)
	}
	if len(result.QRPNG) == 0 || !bytes.HasPrefix(result.QRPNG, []byte("\x89PNG")) {
		t.Fatal("expected a png qr image")
	}

	enrollment, ok := enrollments.enrollments["owner-1"]
	if !ok {
		t.Fatal("expected stored enrollment")
	}
	if bytes.Contains(enrollment.SecretEnc, []byte(result.Secret)) {
		t.Fatal("seed must not be stored in the clear")
	}
	opened, err := engine.sealer.open(enrollment.SecretEnc)
	if err != nil {
		t.Fatalf("open sealed seed: %v", err)
	}
	if string(opened) != result.Secret {
		t.Fatal("sealed seed does not round-trip")
	}
	if !enrollment.ExpiresAt.After(enrollment.CreatedAt) {
		t.Fatal("expected expiry after creation")
	}
}

func TestSetupRejectsActiveCredential(t *testing.T) {
	credentials := newFakeCredentialStore()
	credentials.records["cred-1"] = storage.CredentialRecord{
		ID: "cred-1", Owner: "owner-1", Type: credential.TypeTOTP,
	}
	engine := newTestEngine(t, newFakeEnrollmentStore(), credentials)

	_, err := engine.Setup(context.Background(), "owner-1", "")
	if errors.CodeOf(err) != errors.CodeTOTPAlreadyActive {
		t.Fatalf("expected totp already active, got %v", err)
	}
}

func TestSetupReplacesPendingEnrollment(t *testing.T) {
	enrollments := newFakeEnrollmentStore()
	engine := newTestEngine(t, enrollments, newFakeCredentialStore())

	first, err := engine.Setup(context.Background(), "owner-1", "")
	if err != nil {
		t.Fatalf("first setup: %v", err)
	}
	// Fail a code against the first seed so attempts is non-zero.
	if _, err := engine.VerifySetup(context.Background(), "owner-1", "000000"); errors.CodeOf(err) != errors.CodeInvalidCode {
		t.Fatalf("expected invalid code, got %v", err)
	}

	second, err := engine.Setup(context.Background(), "owner-1", "")
	if err != nil {
		t.Fatalf("second setup: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("expected a fresh seed")
	}
	if enrollments.enrollments["owner-1"].Attempts != 0 {
		t.Fatal("expected attempts reset on re-setup")
	}

	// Only the latest seed verifies.
	oldCode := codeAt(t, first.Secret, engine.clock())
	if _, err := engine.VerifySetup(context.Background(), "owner-1", oldCode); errors.CodeOf(err) != errors.CodeInvalidCode {
		t.Fatalf("expected invalid code for stale seed, got %v", err)
	}
	newCode := codeAt(t, second.Secret, engine.clock())
	if _, err := engine.VerifySetup(context.Background(), "owner-1", newCode); err != nil {
		t.Fatalf("verify against fresh seed: %v", err)
	}
}

func TestVerifySetupActivatesCredential(t *testing.T) {
	enrollments := newFakeEnrollmentStore()
	credentials := newFakeCredentialStore()
	engine := newTestEngine(t, enrollments, credentials)

	result, err := engine.Setup(context.Background(), "owner-1", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	created, err := engine.VerifySetup(context.Background(), "owner-1", codeAt(t, result.Secret, engine.clock()))
	if err != nil {
		t.Fatalf("verify setup: %v", err)
	}
	if created.Type != credential.TypeTOTP {
		t.Fatalf("type = %q", created.Type)
	}

	record, ok := credentials.records[created.ID]
	if !ok {
		t.Fatal("expected persisted credential")
	}
	if record.LastUsedStep == 0 {
		t.Fatal("expected confirmation step recorded")
	}
	if len(record.SecretEnc) == 0 {
		t.Fatal("expected sealed seed carried onto credential")
	}
	if _, ok := enrollments.enrollments["owner-1"]; ok {
		t.Fatal("expected enrollment cleared")
	}

	// The confirmation code is spent.
	_, err = engine.VerifyLogin(context.Background(), "owner-1", codeAt(t, result.Secret, engine.clock()))
	if errors.CodeOf(err) != errors.CodeInvalidCode {
		t.Fatalf("expected replayed confirmation code rejected, got %v", err)
	}
}

func TestVerifySetupAcceptsAdjacentStep(t *testing.T) {
	engine := newTestEngine(t, newFakeEnrollmentStore(), newFakeCredentialStore())
	result, err := engine.Setup(context.Background(), "owner-1", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	// A code from the previous step is still inside the skew window.
	previous := engine.clock().Add(-30 * time.Second)
	if _, err := engine.VerifySetup(context.Background(), "owner-1", codeAt(t, result.Secret, previous)); err != nil {
		t.Fatalf("verify with previous-step code: %v", err)
	}
}

func TestVerifySetupRejectsCodeOutsideWindow(t *testing.T) {
	engine := newTestEngine(t, newFakeEnrollmentStore(), newFakeCredentialStore())
	result, err := engine.Setup(context.Background(), "owner-1", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	stale := engine.clock().Add(-5 * time.Minute)
	_, err = engine.VerifySetup(context.Background(), "owner-1", codeAt(t, result.Secret, stale))
	if errors.CodeOf(err) != errors.CodeInvalidCode {
		t.Fatalf("expected invalid code, got %v", err)
	}
}

func TestVerifySetupAttemptExhaustion(t *testing.T) {
	enrollments := newFakeEnrollmentStore()
	engine := newTestEngine(t, enrollments, newFakeCredentialStore())
	result, err := engine.Setup(context.Background(), "owner-1", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	for i := 0; i < engine.config.SetupAttempts-1; i++ {
		if _, err := engine.VerifySetup(context.Background(), "owner-1", "000000"); errors.CodeOf(err) != errors.CodeInvalidCode {
			t.Fatalf("attempt %d: expected invalid code, got %v", i, err)
		}
	}
	if _, err := engine.VerifySetup(context.Background(), "owner-1", "000000"); errors.CodeOf(err) != errors.CodeTooManyAttempts {
		t.Fatalf("expected too many attempts, got %v", err)
	}

	// Even a correct code is refused once the budget is spent.
	good := codeAt(t, result.Secret, engine.clock())
	if _, err := engine.VerifySetup(context.Background(), "owner-1", good); errors.CodeOf(err) != errors.CodeTooManyAttempts {
		t.Fatalf("expected too many attempts for correct code, got %v", err)
	}
}

func TestVerifySetupWithoutEnrollment(t *testing.T) {
	engine := newTestEngine(t, newFakeEnrollmentStore(), newFakeCredentialStore())
	_, err := engine.VerifySetup(context.Background(), "owner-1", "123456")
	if errors.CodeOf(err) != errors.CodeTOTPNotEnrolled {
		t.Fatalf("expected not enrolled, got %v", err)
	}
}

func TestVerifySetupExpiredEnrollment(t *testing.T) {
	enrollments := newFakeEnrollmentStore()
	engine := newTestEngine(t, enrollments, newFakeCredentialStore())
	result, err := engine.Setup(context.Background(), "owner-1", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	late := engine.clock().Add(engine.config.EnrollmentTTL + time.Second)
	engine.clock = func() time.Time { return late }

	_, err = engine.VerifySetup(context.Background(), "owner-1", codeAt(t, result.Secret, late))
	if errors.CodeOf(err) != errors.CodeTOTPNotEnrolled {
		t.Fatalf("expected not enrolled after expiry, got %v", err)
	}
	if _, ok := enrollments.enrollments["owner-1"]; ok {
		t.Fatal("expected expired enrollment removed")
	}
}

func TestVerifyLoginAdvancesStep(t *testing.T) {
	credentials := newFakeCredentialStore()
	engine := newTestEngine(t, newFakeEnrollmentStore(), credentials)

	result, err := engine.Setup(context.Background(), "owner-1", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := engine.VerifySetup(context.Background(), "owner-1", codeAt(t, result.Secret, engine.clock())); err != nil {
		t.Fatalf("verify setup: %v", err)
	}

	// Next window: a fresh code verifies, then replaying it fails.
	next := engine.clock().Add(30 * time.Second)
	engine.clock = func() time.Time { return next }
	code := codeAt(t, result.Secret, next)

	verified, err := engine.VerifyLogin(context.Background(), "owner-1", code)
	if err != nil {
		t.Fatalf("verify login: %v", err)
	}
	if verified.Type != credential.TypeTOTP {
		t.Fatalf("type = %q", verified.Type)
	}
	if verified.LastUsedAt == nil {
		t.Fatal("expected last used timestamp")
	}

	_, err = engine.VerifyLogin(context.Background(), "owner-1", code)
	if errors.CodeOf(err) != errors.CodeInvalidCode {
		t.Fatalf("expected replay rejected, got %v", err)
	}
}

func TestVerifyLoginWrongCode(t *testing.T) {
	credentials := newFakeCredentialStore()
	engine := newTestEngine(t, newFakeEnrollmentStore(), credentials)

	result, err := engine.Setup(context.Background(), "owner-1", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := engine.VerifySetup(context.Background(), "owner-1", codeAt(t, result.Secret, engine.clock())); err != nil {
		t.Fatalf("verify setup: %v", err)
	}

	next := engine.clock().Add(30 * time.Second)
	engine.clock = func() time.Time { return next }

	if _, err := engine.VerifyLogin(context.Background(), "owner-1", "000000"); errors.CodeOf(err) != errors.CodeInvalidCode {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if _, err := engine.VerifyLogin(context.Background(), "owner-1", "12345"); errors.CodeOf(err) != errors.CodeInvalidCode {
		t.Fatalf("expected invalid code for short input, got %v", err)
	}
}

func TestVerifyLoginWithoutCredential(t *testing.T) {
	engine := newTestEngine(t, newFakeEnrollmentStore(), newFakeCredentialStore())
	_, err := engine.VerifyLogin(context.Background(), "owner-1", "123456")
	if errors.CodeOf(err) != errors.CodeTOTPNotEnrolled {
		t.Fatalf("expected not enrolled, got %v", err)
	}
}

func TestSealerRejectsTamperedBox(t *testing.T) {
	engine := newTestEngine(t, newFakeEnrollmentStore(), newFakeCredentialStore())
	box, err := engine.sealer.seal([]byte("SEED"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	box[len(box)-1] ^= 0xff
	if _, err := engine.sealer.open(box); err == nil {
		t.Fatal("expected tampered box to fail")
	}
}
