package ingress

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, token string) {
	writeJSON(w, code, map[string]string{"error": token})
}

func writeStatus(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusOK, fields)
}
