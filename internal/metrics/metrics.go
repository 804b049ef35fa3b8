// Package metrics runs the operational http listener.
package metrics

import (
	"context"
	"expvar"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tobiasma/picfetch/internal/health"
	"github.com/tobiasma/picfetch/internal/logger"
)

// Serve exposes prometheus metrics, expvars, and the health snapshot.
// It blocks until ctx is done, then shuts the listener down.
func Serve(ctx context.Context, log *logger.Logger, checker *health.Checker, listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())
	mux.Handle("/health", checker)

	server := &http.Server{
		Addr:     listen,
		Handler:  mux,
		ErrorLog: logger.NewHTTPErrorLog(log),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("error shutting down the metrics server: %s", err)
		}
	}()

	log.Infof("metrics server listening on %s", listen)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("error shutting down the metrics server: %s", err)
	}
}
