package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jamiealquiza/envy"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tobiasma/picfetch/cache"
	"github.com/tobiasma/picfetch/downloader"
	"github.com/tobiasma/picfetch/image"
	"github.com/tobiasma/picfetch/internal/cmd"
	"github.com/tobiasma/picfetch/internal/health"
	"github.com/tobiasma/picfetch/internal/logger"
	"github.com/tobiasma/picfetch/internal/metrics"
	"github.com/tobiasma/picfetch/internal/proxyapi"
	"github.com/tobiasma/picfetch/internal/tracing"
)

// Commandline flags
var (
	// Global
	listen        = flag.String("listen", ":8080", "listen address (tcp host:port or unix socket path)")
	metricsListen = flag.String("metrics-listen", "127.0.0.1:8083", "metrics listen address")
	loglevel      = zap.LevelFlag("log-level", zap.InfoLevel, "log level (default \"info\") (debug, info, warn, error, dpanic, panic, fatal)")

	// Image cache
	memoryCapacity   = flag.Uint64("cache-capacity", 100<<20, "image cache memory capacity in bytes")
	memoryAfterPurge = flag.Uint64("cache-purge-floor", 60<<20, "image cache usage to drain to when the capacity is crossed")

	// Download coordinator
	maxConcurrent  = flag.Int("max-concurrent", 4, "simultaneous in-flight downloads")
	prioritization = flag.String("prioritization", "fifo", "admission queue discipline (fifo, lifo)")
	requestTimeout = flag.Duration("request-timeout", 60*time.Second, "per-request timeout")
	userAgent      = flag.String("user-agent", "picfetch", "User-Agent for upstream requests")

	// Image decoder
	workers = flag.Int("workers", 3, "decode queue concurrency")
)

func main() {
	ctx := context.Background()

	// Parse environment variables
	envy.Parse("PICFETCH")

	// Parse commandline flags
	flag.Parse()

	// Initialize the logger
	log := logger.New(*loglevel)
	defer log.Sync()

	// Set GOMAXPROCS
	maxprocs.Set(maxprocs.Logger(log.Infof))

	// Set up context for shutting down
	shutdownCtx, shutdown := signal.NotifyContext(ctx, os.Interrupt, os.Kill, syscall.SIGTERM)
	defer shutdown()

	tracer := tracing.New(log)

	// Initialize the image cache
	imageCache, err := cache.New(*memoryCapacity, *memoryAfterPurge)
	if err != nil {
		log.Fatalf("error initializing cache: %s", err)
	}

	// Initialize the download coordinator
	prio := downloader.FIFO
	if strings.EqualFold(*prioritization, "lifo") {
		prio = downloader.LIFO
	}

	contentTypes := image.NewContentTypes()
	contentTypes.Add("image/webp")

	bus := downloader.NewBus()
	d, err := downloader.New(shutdownCtx, downloader.Config{
		MaxConcurrent:          *maxConcurrent,
		Prioritization:         prio,
		Cache:                  imageCache,
		Runner:                 downloader.NewHTTPRunner(downloader.HTTPRunnerOptions{UserAgent: *userAgent, Logger: log.SugaredLogger, Bus: bus}),
		DecodeWorkers:          *workers,
		RequestTimeout:         *requestTimeout,
		AcceptableContentTypes: contentTypes,
		Logger:                 log.SugaredLogger,
		Bus:                    bus,
	})
	if err != nil {
		log.Fatalf("error initializing downloader: %s", err)
	}

	// Log request lifecycle events
	events, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	go func() {
		for event := range events {
			log.Debugw("request event", "type", event.Type.String(), "url", event.Request.URL)
		}
	}()

	// Purge the image cache on memory-pressure signal
	memoryWarning := make(chan os.Signal, 1)
	signal.Notify(memoryWarning, syscall.SIGUSR1)
	go func() {
		for range memoryWarning {
			imageCache.Clear()
			log.Infof("image cache cleared on memory warning")
		}
	}()

	// Initialize and start the health checker
	checker := &health.Checker{
		Ctx:        shutdownCtx,
		Cache:      imageCache,
		Downloader: d,
		Log:        log,
	}
	go checker.Run()

	// Start and listen on http
	api := proxyapi.NewAPI(d, log, tracer, cmd.HandlerTimeout)
	server := &http.Server{
		Handler:      api.Router(),
		ReadTimeout:  cmd.ReadTimeout,
		WriteTimeout: cmd.WriteTimeout,
		IdleTimeout:  cmd.IdleTimeout,
		ErrorLog:     logger.NewHTTPErrorLog(log),
	}

	// Determine network type: TCP if address contains ":", otherwise Unix socket
	network := "unix"
	if strings.Contains(*listen, ":") {
		network = "tcp"
	} else {
		os.Remove(*listen)
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, network, *listen)
	if err != nil {
		log.Fatalf("error creating %s listener: %s", network, err.Error())
	}

	var group errgroup.Group
	group.Go(func() error {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	log.Infof("http server listening on %s", *listen)

	// Start the metrics http server
	group.Go(func() error {
		metrics.Serve(shutdownCtx, log, checker, *metricsListen)
		return nil
	})

	// Wait for shutdown
	<-shutdownCtx.Done()
	log.Infof("shutting down: %s", shutdownCtx.Err())

	// Shut down http server
	serverCtx, serverCancel := context.WithTimeout(context.Background(), cmd.WriteTimeout)
	defer serverCancel()
	if err := server.Shutdown(serverCtx); err != nil {
		log.Warnf("error shutting down: %s", err)
	}

	if err := group.Wait(); err != nil {
		log.Errorf("error shutting down the http server: %s", err)
	}
}
