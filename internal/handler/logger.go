package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"

	"github.com/tobiasma/picfetch/internal/logger"
	"github.com/tobiasma/picfetch/internal/tracing"
)

// Logger logs each proxy request once it completes, using zap.
func Logger(log *logger.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(h, w, r)

		logFields := []interface{}{
			"http-method", r.Method,
			"remote-addr", r.RemoteAddr,
			"user-agent", r.UserAgent(),
			"uri", r.URL.String(),
			"upstream-url", r.URL.Query().Get("url"),
			"status-code", m.Code,
			"bytes-written", m.Written,
			"elapsed", m.Duration.Round(time.Microsecond).String(),
		}

		if traceID, spanID := tracing.TraceInfo(r.Context()); traceID != "" {
			logFields = append(logFields, "trace-id", traceID, "span-id", spanID)
		}

		if ctxErr := r.Context().Err(); ctxErr != nil {
			logFields = append(logFields, "context-error", ctxErr.Error())
		}

		switch {
		case m.Code == http.StatusServiceUnavailable && r.Context().Err() == context.Canceled:
			// Client disconnected before the fetch finished
			log.Infow("request cancelled by client", logFields...)
		case m.Code == http.StatusServiceUnavailable && r.Context().Err() == context.DeadlineExceeded:
			log.Errorw("request timeout", logFields...)
		case m.Code == http.StatusBadGateway || m.Code == http.StatusGatewayTimeout:
			// The upstream image server failed, not us
			log.Warnw("upstream fetch failed", logFields...)
		case m.Code >= 500:
			log.Errorw("request completed", logFields...)
		default:
			log.Debugw("request completed", logFields...)
		}
	})
}

// LogFields prepends trace correlation ids to the given log fields.
func LogFields(r *http.Request, keysAndValues ...interface{}) []interface{} {
	traceID, spanID := tracing.TraceInfo(r.Context())
	if traceID == "" {
		return keysAndValues
	}

	return append([]interface{}{
		"trace-id", traceID,
		"span-id", spanID,
	}, keysAndValues...)
}
