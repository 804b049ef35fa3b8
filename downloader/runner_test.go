package downloader

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobiasma/picfetch/image"
)

func awaitCompletion(t *testing.T, results <-chan *RawResponse) *RawResponse {
	t.Helper()

	select {
	case raw := <-results:
		return raw
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return nil
	}
}

func TestHTTPRunnerFetch(t *testing.T) {
	payload := []byte("fake image bytes")
	var gotAuth, gotUserAgent string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.UserAgent()
		if user, pass, ok := r.BasicAuth(); ok {
			gotAuth = user + ":" + pass
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer server.Close()

	runner := NewHTTPRunner(HTTPRunnerOptions{UserAgent: "picfetch-test"})

	results := make(chan *RawResponse, 1)
	var progress []Progress

	h := runner.NewHandle(NewRequest(server.URL), RunOptions{
		Credential: &Credential{Username: "user", Password: "secret"},
		Timeout:    5 * time.Second,
		Progress:   func(p Progress) { progress = append(progress, p) },
		Completion: func(raw *RawResponse) { results <- raw },
	})

	assert.Equal(t, StateSuspended, h.State())
	h.Start()

	raw := awaitCompletion(t, results)
	require.NoError(t, raw.Err)
	assert.Equal(t, payload, raw.Data)
	assert.Equal(t, http.StatusOK, raw.HTTPResponse.StatusCode)
	assert.Equal(t, StateCompleted, h.State())

	assert.Equal(t, "user:secret", gotAuth)
	assert.Equal(t, "picfetch-test", gotUserAgent)

	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, int64(len(payload)), last.BytesRead)
}

func TestHTTPRunnerRequestHeaders(t *testing.T) {
	var gotAccept string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	runner := NewHTTPRunner(HTTPRunnerOptions{})

	req := NewRequest(server.URL)
	req.Header = http.Header{"Accept": []string{"image/png"}}

	results := make(chan *RawResponse, 1)
	h := runner.NewHandle(req, RunOptions{
		Completion: func(raw *RawResponse) { results <- raw },
	})
	h.Start()

	raw := awaitCompletion(t, results)
	require.NoError(t, raw.Err)
	assert.Equal(t, "image/png", gotAccept)
}

func TestHTTPRunnerCancelSuspended(t *testing.T) {
	bus := NewBus()
	events, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	runner := NewHTTPRunner(HTTPRunnerOptions{Bus: bus})

	h := runner.NewHandle(NewRequest("https://h/never"), RunOptions{
		Completion: func(raw *RawResponse) { t.Error("completion must not fire for a cancelled handle") },
	})

	h.Cancel()
	assert.Equal(t, StateCancelled, h.State())

	// Starting after cancel is a no-op
	h.Start()
	assert.Equal(t, StateCancelled, h.State())

	assert.Equal(t, EventSuspended, (<-events).Type)
	assert.Equal(t, EventCancelled, (<-events).Type)
}

func TestHTTPRunnerLifecycleEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer server.Close()

	bus := NewBus()
	events, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	runner := NewHTTPRunner(HTTPRunnerOptions{Bus: bus})

	results := make(chan *RawResponse, 1)
	h := runner.NewHandle(NewRequest(server.URL), RunOptions{
		Completion: func(raw *RawResponse) { results <- raw },
	})
	h.Start()
	awaitCompletion(t, results)

	assert.Equal(t, EventSuspended, (<-events).Type)
	assert.Equal(t, EventResumed, (<-events).Type)

	completed := <-events
	assert.Equal(t, EventCompleted, completed.Type)
	assert.Equal(t, []byte("data"), completed.Data)
}

func TestHTTPRunnerFileURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.png")
	require.NoError(t, os.WriteFile(path, []byte("local bytes"), 0o644))

	runner := NewHTTPRunner(HTTPRunnerOptions{})

	results := make(chan *RawResponse, 1)
	h := runner.NewHandle(NewRequest("file://"+path), RunOptions{
		Completion: func(raw *RawResponse) { results <- raw },
	})
	h.Start()

	raw := awaitCompletion(t, results)
	require.NoError(t, raw.Err)
	assert.Equal(t, []byte("local bytes"), raw.Data)
}

func TestHTTPRunnerFileURLMissing(t *testing.T) {
	runner := NewHTTPRunner(HTTPRunnerOptions{})

	results := make(chan *RawResponse, 1)
	h := runner.NewHandle(NewRequest("file:///does/not/exist"), RunOptions{
		Completion: func(raw *RawResponse) { results <- raw },
	})
	h.Start()

	raw := awaitCompletion(t, results)
	require.Error(t, raw.Err)

	var validation *image.ValidationError
	require.ErrorAs(t, raw.Err, &validation)
	assert.Equal(t, image.ReasonDataFileReadFailed, validation.Reason)
}

func TestHTTPRunnerTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	runner := NewHTTPRunner(HTTPRunnerOptions{})

	results := make(chan *RawResponse, 1)
	h := runner.NewHandle(NewRequest(server.URL), RunOptions{
		Timeout:    2 * time.Second,
		Completion: func(raw *RawResponse) { results <- raw },
	})
	h.Start()

	raw := awaitCompletion(t, results)
	assert.Error(t, raw.Err)
	assert.Nil(t, raw.Data)
}
