package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tobiasma/picfetch/image"
)

// State is a request handle's lifecycle state.
type State int32

const (
	// StateSuspended means the handle was created but not started.
	StateSuspended State = iota

	// StateRunning means the request is in flight.
	StateRunning

	// StateCompleted means the completion callback has been invoked.
	StateCompleted

	// StateCancelled means the handle was cancelled before starting.
	StateCancelled
)

// Progress reports download progress. TotalBytes is -1 when the
// server sent no Content-Length.
type Progress struct {
	BytesRead  int64
	TotalBytes int64
}

// RawResponse is what a runner hands back when a request finishes.
type RawResponse struct {
	Request      *Request
	HTTPResponse *http.Response
	Data         []byte
	Err          error
}

// RunOptions configure one request handle.
type RunOptions struct {
	Credential *Credential
	Timeout    time.Duration

	// Progress, when set, is called from the runner's read loop.
	Progress func(Progress)

	// Completion is called exactly once when the request finishes,
	// on the runner's goroutine. Required.
	Completion func(*RawResponse)
}

// Handle is one cancellable network operation.
type Handle interface {
	Request() *Request
	State() State

	// Start begins the request. No-op unless the handle is suspended.
	Start()

	// Cancel stops a suspended handle. A running request is left to
	// finish.
	Cancel()
}

// Runner produces request handles. Handles are created suspended; the
// coordinator decides when to start them.
type Runner interface {
	NewHandle(req *Request, opts RunOptions) Handle
}

// HTTPRunnerOptions configure an HTTPRunner.
type HTTPRunnerOptions struct {
	// Client overrides the pooled default client.
	Client *http.Client

	UserAgent string
	Logger    *zap.SugaredLogger
	Bus       *Bus
}

// HTTPRunner runs requests over net/http. It also serves file URLs
// from the local filesystem.
type HTTPRunner struct {
	client    *http.Client
	userAgent string
	log       *zap.SugaredLogger
	bus       *Bus
}

// NewHTTPRunner creates a runner with a pooled transport.
func NewHTTPRunner(opts HTTPRunnerOptions) *HTTPRunner {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        500,
				MaxIdleConnsPerHost: 100,
				MaxConnsPerHost:     256,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		}
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &HTTPRunner{
		client:    client,
		userAgent: opts.UserAgent,
		log:       log,
		bus:       opts.Bus,
	}
}

// NewHandle implements Runner.
func (r *HTTPRunner) NewHandle(req *Request, opts RunOptions) Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &httpHandle{
		runner: r,
		req:    req,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		state:  StateSuspended,
	}

	r.bus.Publish(Event{Type: EventSuspended, Request: req})
	return h
}

type httpHandle struct {
	runner *HTTPRunner
	req    *Request
	opts   RunOptions
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
}

func (h *httpHandle) Request() *Request {
	return h.req
}

func (h *httpHandle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *httpHandle) Start() {
	h.mu.Lock()
	if h.state != StateSuspended {
		h.mu.Unlock()
		return
	}
	h.state = StateRunning
	h.mu.Unlock()

	h.runner.bus.Publish(Event{Type: EventResumed, Request: h.req})
	go h.run()
}

func (h *httpHandle) Cancel() {
	h.mu.Lock()
	if h.state != StateSuspended {
		h.mu.Unlock()
		// A running request is left to finish and still delivers its
		// completion.
		return
	}
	h.state = StateCancelled
	h.mu.Unlock()

	h.cancel()
	h.runner.bus.Publish(Event{Type: EventCancelled, Request: h.req})
}

func (h *httpHandle) finish(raw *RawResponse) {
	h.mu.Lock()
	h.state = StateCompleted
	h.mu.Unlock()

	if raw.Err == nil {
		h.runner.bus.Publish(Event{Type: EventCompleted, Request: h.req, Data: raw.Data})
	} else {
		h.runner.bus.Publish(Event{Type: EventCompleted, Request: h.req})
	}

	h.opts.Completion(raw)
}

func (h *httpHandle) run() {
	u, err := h.req.parsedURL()
	if err != nil {
		h.finish(&RawResponse{Request: h.req, Err: err})
		return
	}

	if u.Scheme == "file" {
		h.runFile(u.Path)
		return
	}

	ctx := h.ctx
	if h.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, h.req.method(), u.String(), nil)
	if err != nil {
		h.finish(&RawResponse{Request: h.req, Err: fmt.Errorf("building request: %w", err)})
		return
	}

	for key, values := range h.req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if h.runner.userAgent != "" {
		httpReq.Header.Set("User-Agent", h.runner.userAgent)
	}
	if h.opts.Credential != nil {
		httpReq.SetBasicAuth(h.opts.Credential.Username, h.opts.Credential.Password)
	}

	resp, err := h.runner.client.Do(httpReq)
	if err != nil {
		h.runner.log.Debugw("fetch failed", "url", h.req.URL, "error", err)
		h.finish(&RawResponse{Request: h.req, Err: err})
		return
	}
	defer resp.Body.Close()

	data, err := h.readBody(resp)
	if err != nil {
		h.finish(&RawResponse{Request: h.req, HTTPResponse: resp, Err: fmt.Errorf("reading response body: %w", err)})
		return
	}

	h.finish(&RawResponse{Request: h.req, HTTPResponse: resp, Data: data})
}

// readBody reads the response body, reporting progress per chunk.
func (h *httpHandle) readBody(resp *http.Response) ([]byte, error) {
	if h.opts.Progress == nil {
		return io.ReadAll(resp.Body)
	}

	total := resp.ContentLength
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	var read int64

	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			read += int64(n)
			h.opts.Progress(Progress{BytesRead: read, TotalBytes: total})
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (h *httpHandle) runFile(path string) {
	if path == "" {
		h.finish(&RawResponse{Request: h.req, Err: &image.ValidationError{Reason: image.ReasonDataFileNil}})
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		h.finish(&RawResponse{Request: h.req, Err: &image.ValidationError{Reason: image.ReasonDataFileReadFailed}})
		return
	}

	if h.opts.Progress != nil {
		h.opts.Progress(Progress{BytesRead: int64(len(data)), TotalBytes: int64(len(data))})
	}

	h.finish(&RawResponse{Request: h.req, Data: data})
}
