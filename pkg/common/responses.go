// Package common holds small helpers shared across HTTP surfaces.
package common

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the envelope every debug endpoint responds with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo carries error details in a response.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondJSON writes data wrapped in the response envelope.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) error {
	response := APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(response)
}

// RespondError writes an error response in the envelope.
func RespondError(w http.ResponseWriter, status int, code, message string) error {
	response := APIResponse{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(response)
}
