// Package handlers implements the queue daemon's HTTP API: the client
// surface used by the web frontend and the worker surface used by model
// runners. Responses follow the fixed JSON shapes both sides parse.
package handlers

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// writeBadSecret reports a missing or wrong request secret. The body
// shape is fixed: clients match on the "error" key.
func writeBadSecret(w http.ResponseWriter) {
	WriteJSON(w, http.StatusOK, map[string]string{"error": "bad_secret"})
}

// writeBadID reports an operation against a task id the queue is not
// tracking.
func writeBadID(w http.ResponseWriter) {
	WriteJSON(w, http.StatusOK, map[string]map[string]string{
		"error": {"type": "bad_id"},
	})
}

// writeOkayStatus acknowledges a state-changing worker request.
func writeOkayStatus(w http.ResponseWriter) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "okay"})
}
