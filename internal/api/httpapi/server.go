package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/quantauth/quantauth/internal/credential"
	"github.com/quantauth/quantauth/internal/passkey"
	"github.com/quantauth/quantauth/internal/totp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Service is the manager surface the transport delegates to.
type Service interface {
	BeginPasskeyRegistration(ctx context.Context, owner, deviceName string) (passkey.RegistrationStart, error)
	FinishPasskeyRegistration(ctx context.Context, ceremonyID, owner string, responseJSON []byte) (credential.Credential, error)
	BeginPasskeyAuthentication(ctx context.Context, owner string) (passkey.AuthenticationStart, error)
	FinishPasskeyAuthentication(ctx context.Context, ceremonyID, owner string, responseJSON []byte) (credential.Credential, error)

	SetupTOTP(ctx context.Context, owner, accountName string) (totp.SetupResult, error)
	VerifyTOTPSetup(ctx context.Context, owner, code string) (credential.Credential, error)
	VerifyTOTPLogin(ctx context.Context, owner, code string) (credential.Credential, error)

	ListCredentials(ctx context.Context, owner string) ([]credential.Credential, error)
	RemoveCredential(ctx context.Context, owner, credentialID string) error
	SetPrimaryCredential(ctx context.Context, owner, credentialID string) error
}

// Server hosts the credential manager's HTTP endpoints.
type Server struct {
	service Service
	tracer  trace.Tracer
}

// NewServer builds a server over the credential service.
func NewServer(service Service) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service is required")
	}
	return &Server{
		service: service,
		tracer:  otel.Tracer("quantauth/httpapi"),
	}, nil
}

// RegisterRoutes registers all endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}

	mux.HandleFunc("POST /v1/passkeys/register/begin", s.traced("passkeys.register.begin", s.handleRegisterBegin))
	mux.HandleFunc("POST /v1/passkeys/register/finish", s.traced("passkeys.register.finish", s.handleRegisterFinish))
	mux.HandleFunc("POST /v1/passkeys/login/begin", s.traced("passkeys.login.begin", s.handleLoginBegin))
	mux.HandleFunc("POST /v1/passkeys/login/finish", s.traced("passkeys.login.finish", s.handleLoginFinish))

	mux.HandleFunc("POST /v1/totp/setup", s.traced("totp.setup", s.handleTOTPSetup))
	mux.HandleFunc("POST /v1/totp/verify-setup", s.traced("totp.verify_setup", s.handleTOTPVerifySetup))
	mux.HandleFunc("POST /v1/totp/verify-login", s.traced("totp.verify_login", s.handleTOTPVerifyLogin))

	mux.HandleFunc("GET /v1/credentials", s.traced("credentials.list", s.handleListCredentials))
	mux.HandleFunc("POST /v1/credentials/primary", s.traced("credentials.set_primary", s.handleSetPrimary))
	mux.HandleFunc("DELETE /v1/credentials/{id}", s.traced("credentials.remove", s.handleRemoveCredential))

	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func (s *Server) traced(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), name)
		defer span.End()
		next(w, r.WithContext(ctx))
	}
}
