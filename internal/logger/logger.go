// Package logger builds the process-wide zap logger.
package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger with ISO8601 timestamps for "production" and a
// human-readable console logger otherwise. It never fails: a broken
// configuration degrades to a no-op logger.
func New(env string) *zap.Logger {
	var (
		base *zap.Logger
		err  error
	)
	if strings.EqualFold(env, "production") {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		base, err = cfg.Build()
	} else {
		base, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewNop()
	}
	return base
}

// RequestLogger logs one line per HTTP request with the chi request ID.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
			)
		})
	}
}
