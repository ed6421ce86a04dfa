package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/rs/cors"
)

// CORS admits browser clients from origins. Only GET and POST are routed;
// Retry-After is exposed so a rate-limited page can back off.
func CORS(origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{"Retry-After", requestIDHeader},
		MaxAge:         3600,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		opts.AllowedOrigins = []string{"*"}
	}
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		opts.Logger = corsLogger{}
	}

	return cors.New(opts).Handler
}

// corsLogger routes preflight decisions to slog at debug level.
type corsLogger struct{}

func (corsLogger) Printf(format string, args ...interface{}) {
	slog.Debug("cors", "detail", fmt.Sprintf(format, args...))
}
