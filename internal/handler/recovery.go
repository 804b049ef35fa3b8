package handler

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/tobiasma/picfetch/internal/logger"
	"github.com/tobiasma/picfetch/internal/tracing"
)

// Recovery turns handler panics into 500 responses instead of dropped
// connections.
func Recovery(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			logFields := []interface{}{
				"panic", fmt.Sprintf("%v", rec),
				"uri", r.URL.String(),
				"stacktrace", string(debug.Stack()),
			}
			if traceID, spanID := tracing.TraceInfo(r.Context()); traceID != "" {
				logFields = append(logFields, "trace-id", traceID, "span-id", spanID)
			}
			log.Errorw("panic handling request", logFields...)

			http.Error(w, "something went wrong", http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}
