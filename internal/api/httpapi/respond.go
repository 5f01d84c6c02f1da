package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/quantauth/quantauth/internal/platform/errors"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

// writeError maps a domain error onto the wire. Every 403 shares one
// generic body regardless of which check failed.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := code.HTTPStatus()

	if status == http.StatusInternalServerError {
		log.Printf("httpapi: internal error: %v", err)
		writeJSON(w, status, errorResponse{Code: string(errors.CodeUnknown)})
		return
	}
	if status == http.StatusForbidden {
		writeJSON(w, status, errorResponse{Code: "DENIED", Message: "verification failed"})
		return
	}

	body := errorResponse{Code: string(code)}
	if code.UserVisible() {
		body.Message = err.Error()
	}
	writeJSON(w, status, body)
}
