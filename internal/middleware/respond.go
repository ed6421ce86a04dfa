package middleware

import (
	"encoding/json"
	"net/http"

	"go-file-transfer/internal/model"
)

// writeFailure answers with the error envelope before any handler ran.
func writeFailure(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.Failure(code, message, ""))
}
