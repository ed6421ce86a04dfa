package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// Clients poll the task list every second and stream chunk after chunk, so
// successful requests on these routes are logged at debug level only.
var chattyRoutes = map[string]bool{
	"/health":                     true,
	"/api/v1/tasks":               true,
	"/api/v1/tasks/paged":         true,
	"/api/v1/tasks/upload":        true,
	"/api/v1/tasks/upload/chunks": true,
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", time.Since(started),
			"client_ip", extractClientIP(r),
			"bytes_out", recorder.written,
		}
		if r.ContentLength > 0 {
			attrs = append(attrs, "bytes_in", r.ContentLength)
		}
		if recorder.status >= 400 {
			if r.URL.RawQuery != "" {
				attrs = append(attrs, "query", r.URL.RawQuery)
			}
			attrs = append(attrs, errorAttrs(recorder.errBody.Bytes())...)
		}

		switch {
		case recorder.status >= 500:
			slog.Error("request", attrs...)
		case recorder.status >= 400:
			slog.Warn("request", attrs...)
		case chattyRoutes[strings.TrimSuffix(r.URL.Path, "/")]:
			slog.Debug("request", attrs...)
		default:
			slog.Info("request", attrs...)
		}
	})
}

// errorAttrs lifts the error code and message out of an envelope body.
func errorAttrs(body []byte) []any {
	var parsed struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details string `json:"details"`
		} `json:"error"`
	}
	if len(body) == 0 || json.Unmarshal(body, &parsed) != nil || parsed.Error == nil {
		return nil
	}

	attrs := []any{"error_code", parsed.Error.Code, "error_message", parsed.Error.Message}
	if parsed.Error.Details != "" {
		attrs = append(attrs, "error_details", parsed.Error.Details)
	}
	return attrs
}

// statusRecorder keeps the status, the byte count and, for failures, the
// body. It must stay hijackable for the websocket route.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	errBody     bytes.Buffer
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.status = statusCode
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status >= 400 && rw.errBody.Len() < 4096 {
		rw.errBody.Write(b)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// Unwrap lets http.ResponseController reach the connection deadlines.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
