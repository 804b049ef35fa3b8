package proxyapi

import (
	"bytes"
	"context"
	stdimage "image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tobiasma/picfetch/cache"
	"github.com/tobiasma/picfetch/downloader"
	"github.com/tobiasma/picfetch/internal/logger"
	"github.com/tobiasma/picfetch/internal/params"
	"github.com/tobiasma/picfetch/internal/tracing"
)

func upstream(t *testing.T, w, h int) *httptest.Server {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))))
	payload := buf.Bytes()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
}

func newTestAPI(t *testing.T) *API {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := logger.New(zap.ErrorLevel)

	imageCache, err := cache.New(10<<20, 5<<20)
	require.NoError(t, err)

	d, err := downloader.New(ctx, downloader.Config{
		Cache:  imageCache,
		Logger: log.SugaredLogger,
	})
	require.NoError(t, err)

	return NewAPI(d, log, tracing.New(log), 10*time.Second)
}

func TestFetchAndTransform(t *testing.T) {
	server := upstream(t, 40, 20)
	defer server.Close()

	api := newTestAPI(t)
	router := api.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/fetch?url="+server.URL+"&w=10&h=10&format=png", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("ETag"))

	decoded, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 10, decoded.Bounds().Dx())
	assert.Equal(t, 5, decoded.Bounds().Dy())
}

func TestResponseCacheHit(t *testing.T) {
	server := upstream(t, 8, 8)
	defer server.Close()

	api := newTestAPI(t)
	router := api.Router()

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest("GET", "/fetch?url="+server.URL+"&format=png", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest("GET", "/fetch?url="+server.URL+"&format=png", nil))
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, first.Header().Get("ETag"), second.Header().Get("ETag"))
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
}

func TestNotModified(t *testing.T) {
	server := upstream(t, 8, 8)
	defer server.Close()

	api := newTestAPI(t)
	router := api.Router()

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest("GET", "/fetch?url="+server.URL+"&format=png", nil))
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest("GET", "/fetch?url="+server.URL+"&format=png", nil)
	req.Header.Set("If-None-Match", etag)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, req)
	assert.Equal(t, http.StatusNotModified, second.Code)
}

func TestBadParams(t *testing.T) {
	api := newTestAPI(t)
	router := api.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/fetch?w=100", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpstreamServesNonImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	api := newTestAPI(t)
	router := api.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/fetch?url="+server.URL, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotFoundRoute(t *testing.T) {
	api := newTestAPI(t)
	router := api.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPipelineIdentifiers(t *testing.T) {
	api := newTestAPI(t)

	pipeline, err := api.pipeline(&params.Params{
		URL:        "https://h/x",
		Width:      10,
		Height:     10,
		Fit:        "fit",
		Blur:       true,
		BlurAmount: 2,
		Grayscale:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "aspect-fit-10x10_blur-2_grayscale", pipeline.ID())

	pipeline, err = api.pipeline(&params.Params{URL: "https://h/x"})
	require.NoError(t, err)
	assert.Nil(t, pipeline)
}
