package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"go-file-transfer/internal/model"
)

const defaultRequestTimeout = 30 * time.Second

// Timeout bounds short JSON requests. http.TimeoutHandler buffers the whole
// response, so upload bodies and websocket upgrades are routed around it.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	body, _ := json.Marshal(model.Failure("REQUEST_TIMEOUT", "request timed out", "limit "+timeout.String()))

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, string(body))
	}
}
