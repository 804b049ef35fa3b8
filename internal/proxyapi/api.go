// Package proxyapi is the http facade over the download engine.
package proxyapi

import (
	"expvar"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/cors"

	"github.com/gorilla/mux"

	"github.com/tobiasma/picfetch/downloader"
	"github.com/tobiasma/picfetch/filter"
	"github.com/tobiasma/picfetch/internal/handler"
	"github.com/tobiasma/picfetch/internal/logger"
	"github.com/tobiasma/picfetch/internal/tracing"
)

const (
	responseCacheTTL      = 5 * time.Minute
	responseCacheCapacity = 10_000
)

// encodedImage is a ready-to-serve encoded response.
type encodedImage struct {
	data        []byte
	contentType string
	etag        string
}

// API is the proxy http api.
type API struct {
	Downloader     *downloader.Downloader
	Log            *logger.Logger
	Tracer         *tracing.Tracer
	HandlerTimeout time.Duration

	filters       *filter.Registry
	responseCache *expirable.LRU[string, *encodedImage] // caches encoded responses
}

// NewAPI creates a new API instance with initialized caches.
func NewAPI(d *downloader.Downloader, log *logger.Logger, tracer *tracing.Tracer, handlerTimeout time.Duration) *API {
	responseCache := expirable.NewLRU[string, *encodedImage](responseCacheCapacity, nil, responseCacheTTL)

	// Publish cache size gauge metric (only if not already registered)
	if expvar.Get("gauge_proxyapi_cache_size") == nil {
		expvar.Publish("gauge_proxyapi_cache_size", expvar.Func(func() any {
			return responseCache.Len()
		}))
	}

	return &API{
		Downloader:     d,
		Log:            log,
		Tracer:         tracer,
		HandlerTimeout: handlerTimeout,
		filters:        builtinFilters(),
		responseCache:  responseCache,
	}
}

// builtinFilters registers the pipeline steps the query parameters can
// name.
func builtinFilters() *filter.Registry {
	registry := filter.NewRegistry()

	registry.Register("scale", func(args ...string) (filter.Filter, error) {
		w, h, err := sizeArgs(args)
		if err != nil {
			return nil, err
		}
		return filter.ScaledToSize{Width: w, Height: h}, nil
	})

	registry.Register("fit", func(args ...string) (filter.Filter, error) {
		w, h, err := sizeArgs(args)
		if err != nil {
			return nil, err
		}
		return filter.AspectScaledToFit{Width: w, Height: h}, nil
	})

	registry.Register("fill", func(args ...string) (filter.Filter, error) {
		w, h, err := sizeArgs(args)
		if err != nil {
			return nil, err
		}
		return filter.AspectScaledToFill{Width: w, Height: h}, nil
	})

	registry.Register("blur", func(args ...string) (filter.Filter, error) {
		if len(args) != 1 {
			return nil, errArgs("blur", args)
		}
		sigma, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return nil, err
		}
		return filter.Blur{Sigma: sigma}, nil
	})

	registry.Register("grayscale", func(args ...string) (filter.Filter, error) {
		if len(args) != 0 {
			return nil, errArgs("grayscale", args)
		}
		return filter.Grayscale{}, nil
	})

	return registry
}

// Utility methods for logging
func (a *API) logError(r *http.Request, message string, err error) {
	a.Log.Errorw(message, handler.LogFields(r, "error", err)...)
}

// Router returns a http router
func (a *API) Router() http.Handler {
	router := mux.NewRouter()

	router.NotFoundHandler = handler.Handler(a.notFoundHandler)

	// Redirect trailing slashes
	router.StrictSlash(true)

	// Fetch route
	router.Handle("/fetch", handler.Handler(a.fetchHandler)).Methods("GET").Name("proxyapi.fetch")

	// Query parameters:
	// ?url={url} - The remote image to fetch (required)
	// ?w={width}&h={height} - Target size
	// ?fit=scale|fit|fill - Resize mode
	// ?blur={amount} - Blur the image by {amount}
	// ?grayscale - Grayscale the image
	// ?format=jpg|png|gif|webp - Output encoding
	// ?quality={1-100} - Output quality for lossy encodings

	// Set up handlers
	cors := cors.New(cors.Options{
		AllowedMethods: []string{"GET"},
		AllowedOrigins: []string{"*"},
		ExposedHeaders: []string{"Content-Type", "ETag"},
	})

	httpHandler := cors.Handler(router)
	httpHandler = handler.Recovery(a.Log, httpHandler)
	httpHandler = http.TimeoutHandler(httpHandler, a.HandlerTimeout, "Something went wrong. Timed out.")
	httpHandler = handler.Logger(a.Log, httpHandler)

	routeMatcher := &handler.MuxRouteMatcher{Router: router}
	httpHandler = handler.Tracer(a.Tracer, httpHandler, routeMatcher)
	httpHandler = handler.Metrics(httpHandler, routeMatcher)

	return httpHandler
}

func (a *API) notFoundHandler(w http.ResponseWriter, r *http.Request) *handler.Error {
	return handler.NotFound()
}
