package handler

import (
	"net/http"

	"github.com/tobiasma/picfetch/internal/tracing"
)

// Tracer starts a span per request, named by the matched route.
func Tracer(tracer *tracing.Tracer, h http.Handler, matcher RouteMatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), matcher.Match(r))
		defer span.End()

		h.ServeHTTP(w, r.WithContext(ctx))
	})
}
