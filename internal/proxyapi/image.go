package proxyapi

import (
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tobiasma/picfetch/downloader"
	"github.com/tobiasma/picfetch/filter"
	"github.com/tobiasma/picfetch/image"
	"github.com/tobiasma/picfetch/internal/handler"
	"github.com/tobiasma/picfetch/internal/params"
)

// Metrics for the response cache and the engine
var (
	cacheHits       = expvar.NewInt("counter_proxyapi_cache_hits")
	cacheMisses     = expvar.NewInt("counter_proxyapi_cache_misses")
	fetchesStarted  = expvar.NewInt("counter_proxyapi_fetches_started")
	fetchesFailed   = expvar.NewInt("counter_proxyapi_fetches_failed")
	queueFullErrors = expvar.NewInt("counter_proxyapi_queue_full_errors")
)

func (a *API) fetchHandler(w http.ResponseWriter, r *http.Request) *handler.Error {
	// Validate the query parameters
	p, err := params.GetParams(r)
	if err != nil {
		return handler.BadRequest(err.Error())
	}

	// Check the encoded-response cache first; the engine's image
	// cache sits below it and holds decoded rasters
	cacheKey := buildCacheKey(p)
	if entry, ok := a.responseCache.Get(cacheKey); ok {
		cacheHits.Add(1)
		return a.sendImage(w, r, entry)
	}
	cacheMisses.Add(1)

	pipeline, err := a.pipeline(p)
	if err != nil {
		return handler.BadRequest(err.Error())
	}

	// Fetch through the engine; duplicate in-flight URLs share one
	// network attempt inside the coordinator
	fetchesStarted.Add(1)
	result := make(chan downloader.Response, 1)
	receipt := a.Downloader.Download(downloader.NewRequest(p.URL), downloader.DownloadOptions{
		Filter: pipeline,
		Completion: func(resp downloader.Response) {
			result <- resp
		},
	})

	select {
	case resp := <-result:
		if !resp.Result.Ok() {
			return a.fetchError(r, resp.Result.Err)
		}

		encoded, err := encode(resp.Result.Image, p.Extension, p.Quality)
		if err != nil {
			a.logError(r, "error encoding image", err)
			return handler.InternalServerError()
		}

		entry := &encodedImage{
			data:        encoded,
			contentType: contentTypeFor(p.Extension),
			etag:        etagFor(encoded),
		}
		a.responseCache.Add(cacheKey, entry)

		return a.sendImage(w, r, entry)

	case <-r.Context().Done():
		// Client went away; release our subscription
		if receipt != nil {
			a.Downloader.Cancel(receipt)
		}
		return handler.InternalServerError()
	}
}

func (a *API) fetchError(r *http.Request, err error) *handler.Error {
	fetchesFailed.Add(1)

	var validation *image.ValidationError
	switch {
	case errors.Is(err, image.ErrQueueFull):
		queueFullErrors.Add(1)
		a.logError(r, "error fetching image: decode queue is full", err)
		return handler.ServiceUnavailable()
	case errors.Is(err, downloader.ErrInvalidURL):
		return handler.BadRequest(err.Error())
	case errors.As(err, &validation), errors.Is(err, image.ErrSerializationFailed):
		a.logError(r, "upstream served an unusable response", err)
		return handler.BadRequest(err.Error())
	default:
		a.logError(r, "error fetching image", err)
		return handler.GatewayTimeout()
	}
}

// sendImage writes an encoded image with caching headers.
func (a *API) sendImage(w http.ResponseWriter, r *http.Request, entry *encodedImage) *handler.Error {
	if match := r.Header.Get("If-None-Match"); match != "" && match == entry.etag {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	w.Header().Set("Content-Type", entry.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(entry.data)))
	w.Header().Set("Cache-Control", "public, max-age=86400, stale-while-revalidate=60")
	w.Header().Set("ETag", entry.etag)

	w.Write(entry.data)

	return nil
}

// pipeline builds the filter chain a request asks for, or nil when the
// image passes through untransformed.
func (a *API) pipeline(p *params.Params) (filter.Filter, error) {
	var steps []filter.Filter

	if p.Width > 0 || p.Height > 0 {
		name := "fit"
		switch p.Fit {
		case "scale":
			name = "scale"
		case "fill":
			name = "fill"
		}

		resize, err := a.filters.Build(name, strconv.Itoa(p.Width), strconv.Itoa(p.Height))
		if err != nil {
			return nil, err
		}
		steps = append(steps, resize)
	}

	if p.Blur {
		blur, err := a.filters.Build("blur", strconv.Itoa(p.BlurAmount))
		if err != nil {
			return nil, err
		}
		steps = append(steps, blur)
	}

	if p.Grayscale {
		grayscale, err := a.filters.Build("grayscale")
		if err != nil {
			return nil, err
		}
		steps = append(steps, grayscale)
	}

	switch len(steps) {
	case 0:
		return nil, nil
	case 1:
		return steps[0], nil
	default:
		return filter.Compose(steps...), nil
	}
}

// buildCacheKey creates a unique key for the encoded-response cache.
func buildCacheKey(p *params.Params) string {
	key := fmt.Sprintf("%s-%s-%dx%d-q%d%s", p.URL, p.Fit, p.Width, p.Height, p.Quality, p.Extension)

	if p.Blur {
		key += fmt.Sprintf("-blur_%d", p.BlurAmount)
	}

	if p.Grayscale {
		key += "-grayscale"
	}

	return key
}
