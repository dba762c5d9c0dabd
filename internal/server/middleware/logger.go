package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// statusRecorder remembers the status written by the wrapped handler. It stays hijackable so
// the WebSocket upgrade can take over the connection.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// NewRequestLogger logs each connection request when it arrives and again when its handler
// returns. For an upgraded socket that is when the connection ends, so the logged duration is
// the connection's lifetime.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ip string
			if meta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = meta.IP
			}
			reqLogger := logger.With(slog.String("path", r.URL.Path), slog.String("ip", ip))
			reqLogger.Info("Connection request", slog.String("method", r.Method))

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			reqLogger.Info("Connection request finished",
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
