package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/quantauth/quantauth/internal/credential"
	"github.com/quantauth/quantauth/internal/platform/errors"
)

type registerBeginRequest struct {
	Owner      string `json:"owner"`
	DeviceName string `json:"deviceName,omitempty"`
}

type registerBeginResponse struct {
	CeremonyID            string          `json:"ceremonyId"`
	Nonce                 string          `json:"nonce"`
	RPID                  string          `json:"rpId"`
	RPOrigins             []string        `json:"rpOrigins"`
	ExcludedCredentialIDs []string        `json:"excludedCredentialIds"`
	CreationOptions       json.RawMessage `json:"creationOptions"`
}

type ceremonyFinishRequest struct {
	CeremonyID string          `json:"ceremonyId"`
	Owner      string          `json:"owner"`
	Response   json.RawMessage `json:"response"`
}

type registerFinishResponse struct {
	CredentialID string    `json:"credentialId"`
	DeviceName   string    `json:"deviceName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type loginBeginRequest struct {
	Owner string `json:"owner"`
}

type loginBeginResponse struct {
	CeremonyID           string          `json:"ceremonyId,omitempty"`
	Nonce                string          `json:"nonce,omitempty"`
	AllowedCredentialIDs []string        `json:"allowedCredentialIds"`
	RequestOptions       json.RawMessage `json:"requestOptions,omitempty"`
}

type loginFinishResponse struct {
	CredentialID string    `json:"credentialId"`
	VerifiedAt   time.Time `json:"verifiedAt"`
}

type totpSetupRequest struct {
	Owner       string `json:"owner"`
	AccountName string `json:"accountName,omitempty"`
}

type totpSetupResponse struct {
	Secret          string    `json:"secret"`
	ProvisioningURI string    `json:"provisioningUri"`
	QRPNG           []byte    `json:"qrPng"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

type totpVerifyRequest struct {
	Owner string `json:"owner"`
	Code  string `json:"code"`
}

type totpVerifySetupResponse struct {
	CredentialID string `json:"credentialId"`
}

type totpVerifyLoginResponse struct {
	Verified     bool   `json:"verified"`
	CredentialID string `json:"credentialId"`
}

type credentialView struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	DeviceName string     `json:"deviceName,omitempty"`
	IsPrimary  bool       `json:"isPrimary"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

type listCredentialsResponse struct {
	Credentials []credentialView `json:"credentials"`
}

type setPrimaryRequest struct {
	Owner string `json:"owner"`
	ID    string `json:"id"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func decodeBody(r *http.Request, into any) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(into); err != nil {
		return errors.Wrap(errors.CodeInvalidInput, "request body is not valid json", err)
	}
	return nil
}

func (s *Server) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	var req registerBeginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	start, err := s.service.BeginPasskeyRegistration(r.Context(), req.Owner, req.DeviceName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerBeginResponse{
		CeremonyID:            start.CeremonyID,
		Nonce:                 start.Nonce,
		RPID:                  start.RPID,
		RPOrigins:             start.RPOrigins,
		ExcludedCredentialIDs: start.ExcludedKeyIDs,
		CreationOptions:       start.CreationOptions,
	})
}

func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	var req ceremonyFinishRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.service.FinishPasskeyRegistration(r.Context(), req.CeremonyID, req.Owner, req.Response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerFinishResponse{
		CredentialID: created.ID,
		DeviceName:   created.DeviceName,
		CreatedAt:    created.CreatedAt,
	})
}

func (s *Server) handleLoginBegin(w http.ResponseWriter, r *http.Request) {
	var req loginBeginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	start, err := s.service.BeginPasskeyAuthentication(r.Context(), req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginBeginResponse{
		CeremonyID:           start.CeremonyID,
		Nonce:                start.Nonce,
		AllowedCredentialIDs: start.AllowedKeyIDs,
		RequestOptions:       start.RequestOptions,
	})
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req ceremonyFinishRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	verified, err := s.service.FinishPasskeyAuthentication(r.Context(), req.CeremonyID, req.Owner, req.Response)
	if err != nil {
		writeError(w, err)
		return
	}
	verifiedAt := verified.CreatedAt
	if verified.LastUsedAt != nil {
		verifiedAt = *verified.LastUsedAt
	}
	writeJSON(w, http.StatusOK, loginFinishResponse{
		CredentialID: verified.ID,
		VerifiedAt:   verifiedAt,
	})
}

func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	var req totpSetupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.service.SetupTOTP(r.Context(), req.Owner, req.AccountName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totpSetupResponse{
		Secret:          result.Secret,
		ProvisioningURI: result.ProvisioningURI,
		QRPNG:           result.QRPNG,
		ExpiresAt:       result.ExpiresAt,
	})
}

func (s *Server) handleTOTPVerifySetup(w http.ResponseWriter, r *http.Request) {
	var req totpVerifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.service.VerifyTOTPSetup(r.Context(), req.Owner, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, totpVerifySetupResponse{CredentialID: created.ID})
}

func (s *Server) handleTOTPVerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req totpVerifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	verified, err := s.service.VerifyTOTPLogin(r.Context(), req.Owner, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totpVerifyLoginResponse{Verified: true, CredentialID: verified.ID})
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	credentials, err := s.service.ListCredentials(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]credentialView, 0, len(credentials))
	for _, c := range credentials {
		views = append(views, viewOf(c))
	}
	writeJSON(w, http.StatusOK, listCredentialsResponse{Credentials: views})
}

func (s *Server) handleSetPrimary(w http.ResponseWriter, r *http.Request) {
	var req setPrimaryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.service.SetPrimaryCredential(r.Context(), req.Owner, req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleRemoveCredential(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	credentialID := r.PathValue("id")
	if err := s.service.RemoveCredential(r.Context(), owner, credentialID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func viewOf(c credential.Credential) credentialView {
	return credentialView{
		ID:         c.ID,
		Type:       string(c.Type),
		DeviceName: c.DeviceName,
		IsPrimary:  c.IsPrimary,
		CreatedAt:  c.CreatedAt,
		LastUsedAt: c.LastUsedAt,
	}
}
