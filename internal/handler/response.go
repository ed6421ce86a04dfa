package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"go-file-transfer/internal/model"
	"go-file-transfer/pkg/apierror"
)

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	writeEnvelope(w, status, model.Success(data, meta))
}

// writeError maps service errors onto the envelope. Anything that is not an
// APIError or a known sentinel is logged and hidden behind INTERNAL_ERROR.
func writeError(w http.ResponseWriter, err error) {
	status, code, message, details := classify(err)
	writeEnvelope(w, status, model.Failure(code, message, details))
}

func classify(err error) (status int, code string, message string, details string) {
	var apiErr *apierror.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.HTTPStatus, apiErr.Code, apiErr.Message, apiErr.Details
	case errors.Is(err, model.ErrTaskNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Task not found", ""
	case errors.Is(err, os.ErrPermission):
		return http.StatusForbidden, "PERMISSION_DENIED", "Permission denied on the filesystem", err.Error()
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound, "NOT_FOUND", "Path not found", err.Error()
	}

	slog.Error("unhandled error", "error", err)
	return http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected server error", ""
}

func writeEnvelope(w http.ResponseWriter, status int, body model.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierror.New("BAD_REQUEST", "invalid JSON body", err.Error(), http.StatusBadRequest)
	}
	return nil
}
