package api

import (
	"encoding/json"
	"net/http"

	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// writeDomainError maps an error's code to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	code := domainerrors.CodeOf(err)
	writeError(w, statusFor(code), string(code), err.Error())
}

func statusFor(code domainerrors.Code) int {
	switch code {
	case domainerrors.CodeValidation:
		return http.StatusBadRequest
	case domainerrors.CodeInvalidTransition,
		domainerrors.CodeTerminalCase,
		domainerrors.CodeConcurrentModification:
		return http.StatusConflict
	case domainerrors.CodeUnknownCase:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
