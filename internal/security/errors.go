package security

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorResponse is the JSON envelope for every error the edge writes itself.
type ErrorResponse struct {
	Error     ErrorDetail `json:"error"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorDetail describes a single error.
type ErrorDetail struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// WriteError writes an error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, errorType, message string) {
	writeErrorDetail(w, status, ErrorDetail{Message: message, Type: errorType, Code: status})
}

func writeErrorDetail(w http.ResponseWriter, status int, detail ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: detail, Timestamp: time.Now().Unix()})
}
