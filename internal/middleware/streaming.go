package middleware

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// UploadTimeout guards request bodies of upload routes without buffering the
// response the way http.TimeoutHandler does. It enforces:
//   - maxDuration: absolute limit for one upload request.
//   - idleTimeout: maximum time between two successful body reads; a stalled
//     client is cut off and its request context cancelled.
func UploadTimeout(maxDuration, idleTimeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), maxDuration)
			defer cancel()

			rc := http.NewResponseController(w)
			deadline := time.Now().Add(maxDuration)
			_ = rc.SetReadDeadline(deadline)
			_ = rc.SetWriteDeadline(deadline)

			body := &idleBody{
				ReadCloser:  r.Body,
				rc:          rc,
				idleTimeout: idleTimeout,
				cancel:      cancel,
			}
			body.resetIdle()
			defer body.stop()

			r = r.WithContext(ctx)
			r.Body = body
			next.ServeHTTP(w, r)
		})
	}
}

// idleBody wraps a request body with an inactivity timer. Every read resets
// the countdown; when it fires the read deadline is moved to now so a blocked
// read fails immediately.
type idleBody struct {
	io.ReadCloser
	rc          *http.ResponseController
	idleTimeout time.Duration
	cancel      context.CancelFunc
	mu          sync.Mutex
	idleTimer   *time.Timer
	stopped     bool
}

func (b *idleBody) resetIdle() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped || b.idleTimeout <= 0 {
		return
	}
	if b.idleTimer != nil {
		b.idleTimer.Stop()
	}

	b.idleTimer = time.AfterFunc(b.idleTimeout, func() {
		_ = b.rc.SetReadDeadline(time.Now())
		b.cancel()
	})
}

func (b *idleBody) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	if b.idleTimer != nil {
		b.idleTimer.Stop()
	}
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.resetIdle()
	}
	return n, err
}
