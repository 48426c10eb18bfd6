package app

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeGatewayError maps a taskgate.Error's Kind to the HTTP status the
// spec assigns it (§7) and writes it as a JSON error body.
func writeGatewayError(w http.ResponseWriter, err error) {
	writeError(w, statusForErr(err), err.Error())
}
