// respond.go - The JSON response envelope shared by every handler.
package server

import (
	"encoding/json"
	"net/http"
)

// Machine-readable error codes carried in the response envelope. Clients
// branch on the code, never on the human-readable message.
const (
	codeOK               = "ok"
	codeInvalidRequest   = "invalid_request"
	codeIntegrityError   = "integrity_error"
	codeIncompleteUpload = "incomplete_upload"
	codeUnauthorized     = "unauthorized"
	codeForbidden        = "forbidden"
	codeNotFound         = "not_found"
	codeConflict         = "conflict"
	codeMergeInProgress  = "merge_in_progress"
	codeStorageError     = "storage_error"
	codeInternalError    = "internal_error"
)

// apiResponse is the uniform body for both success and failure.
type apiResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   bool   `json:"error"`
}

func writeResponse(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		Error("response encode failed", nil, err)
	}
}

// respondJSON writes a success envelope.
func respondJSON(w http.ResponseWriter, status int, message string, data any) {
	writeResponse(w, status, apiResponse{Code: codeOK, Message: message, Data: data})
}

// respondError writes a failure envelope with a machine-readable code.
func respondError(w http.ResponseWriter, status int, code, message string) {
	writeResponse(w, status, apiResponse{Code: code, Message: message, Error: true})
}

// respondErrorData is respondError with extra structured detail, used where
// clients need more than the code to act (e.g. the missing chunk index).
func respondErrorData(w http.ResponseWriter, status int, code, message string, data any) {
	writeResponse(w, status, apiResponse{Code: code, Message: message, Data: data, Error: true})
}
