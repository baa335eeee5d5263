package httpx

import (
	"encoding/json"
	"net/http"
	"time"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends a structured error body with a stable machine code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{
		"code":      code,
		"message":   msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
