package downloader

import (
	"context"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tobiasma/picfetch/filter"
	"github.com/tobiasma/picfetch/image"
)

// Prioritization is the admission queue discipline for requests held
// back by the concurrency cap.
type Prioritization int

const (
	// FIFO starts held-back requests oldest first.
	FIFO Prioritization = iota

	// LIFO starts held-back requests newest first.
	LIFO
)

// ImageCache is the slice of the cache the coordinator needs: storage
// keyed by URL fingerprint plus optional filter identifier.
type ImageCache interface {
	AddForRequest(img *image.Image, urlString, filterID string)
	GetForRequest(urlString, filterID string) (*image.Image, bool)
}

// Result carries either a decoded image or the error that prevented
// one.
type Result struct {
	Image *image.Image
	Err   error
}

// Ok reports whether the result holds an image.
func (r Result) Ok() bool {
	return r.Err == nil
}

// Response is the completion payload delivered to each subscriber.
type Response struct {
	Request      *Request
	HTTPResponse *http.Response
	Data         []byte
	Result       Result

	// FromCache is set when the response was served synchronously
	// from the image cache.
	FromCache bool
}

// Config configures a Downloader. The zero value of every field has a
// usable default except Cache, which stays nil (no caching).
type Config struct {
	// MaxConcurrent bounds in-flight requests. Default 4.
	MaxConcurrent int

	// Prioritization picks the admission queue discipline. Default
	// FIFO.
	Prioritization Prioritization

	// Cache receives decoded images and serves hits synchronously.
	Cache ImageCache

	// Runner produces request handles. Default: an HTTPRunner wired
	// to Logger and Bus.
	Runner Runner

	// Decoder turns bytes into images. Default: StdDecoder.
	Decoder image.Decoder

	// DecodeWorkers sizes the serializing decode queue. Default 1.
	DecodeWorkers int

	// Credential is attached to every request.
	Credential *Credential

	// RequestTimeout is the per-request HTTP timeout. Default 60s.
	RequestTimeout time.Duration

	// AcceptableContentTypes gates server responses. Default: the
	// standard image set.
	AcceptableContentTypes *image.ContentTypes

	// CallbackExecutor delivers completions. Default: a serial
	// executor preserving subscription order.
	CallbackExecutor Executor

	// ProgressExecutor delivers progress callbacks. Default:
	// CallbackExecutor.
	ProgressExecutor Executor

	Logger *zap.SugaredLogger
	Bus    *Bus
}

// subscriber is one pending completion for a URL's network attempt.
type subscriber struct {
	receiptID  string
	filter     filter.Filter
	completion func(Response)
}

// responseHandler is the coalescing record for one URL: the in-flight
// (or queued) attempt plus everyone waiting on it.
type responseHandler struct {
	urlID       string
	handlerID   string
	handle      Handle
	subscribers []subscriber
}

// Downloader coordinates downloads: it coalesces duplicate requests,
// enforces the concurrency cap, and dispatches decoded images to
// subscribers and the cache.
type Downloader struct {
	cfg        Config
	runner     Runner
	serializer *image.Serializer
	callback   Executor
	progress   Executor
	log        *zap.SugaredLogger
	ctx        context.Context

	mu       sync.Mutex
	handlers map[string]*responseHandler
	queued   deque.Deque[Handle]
	active   int
}

// New creates a Downloader. Decode workers and callback delivery run
// until ctx is done.
func New(ctx context.Context, cfg Config) (*Downloader, error) {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 4
	}
	if cfg.DecodeWorkers < 1 {
		cfg.DecodeWorkers = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.Decoder == nil {
		cfg.Decoder = &image.StdDecoder{}
	}
	if cfg.AcceptableContentTypes == nil {
		cfg.AcceptableContentTypes = image.NewContentTypes()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.CallbackExecutor == nil {
		cfg.CallbackExecutor = newSerialExecutor(ctx).execute
	}
	if cfg.ProgressExecutor == nil {
		cfg.ProgressExecutor = cfg.CallbackExecutor
	}
	if cfg.Runner == nil {
		cfg.Runner = NewHTTPRunner(HTTPRunnerOptions{
			Logger: cfg.Logger,
			Bus:    cfg.Bus,
		})
	}

	d := &Downloader{
		cfg:        cfg,
		runner:     cfg.Runner,
		serializer: image.NewSerializer(ctx, cfg.DecodeWorkers, cfg.Decoder),
		callback:   cfg.CallbackExecutor,
		progress:   cfg.ProgressExecutor,
		log:        cfg.Logger,
		ctx:        ctx,
		handlers:   make(map[string]*responseHandler),
	}

	go d.serializer.Run()

	return d, nil
}

// DownloadOptions configure one Download call.
type DownloadOptions struct {
	// ReceiptID identifies the subscription. Default: a fresh UUID.
	ReceiptID string

	// Filter is applied to the decoded image before caching and
	// delivery.
	Filter filter.Filter

	// Progress receives download progress. Only the first subscriber
	// for a URL gets progress; later subscribers joining the same
	// attempt have theirs dropped.
	Progress func(Progress)

	// Completion receives the response exactly once.
	Completion func(Response)
}

// Receipt identifies one subscription to a download. Cancelling it
// affects only that subscriber.
type Receipt struct {
	Handle Handle
	ID     string
}

// Download fetches, decodes, filters, and caches the image named by
// req. It returns nil when the response was served synchronously from
// the cache or the request URL is invalid (the completion then
// receives ErrInvalidURL); otherwise the receipt cancels this
// subscription.
func (d *Downloader) Download(req *Request, opt DownloadOptions) *Receipt {
	receiptID := opt.ReceiptID
	if receiptID == "" {
		receiptID = uuid.NewString()
	}

	urlID, err := req.Fingerprint()
	if err != nil {
		d.complete(opt.Completion, Response{
			Request: req,
			Result:  Result{Err: err},
		})
		return nil
	}

	filterID := ""
	if opt.Filter != nil {
		filterID = opt.Filter.ID()
	}

	d.mu.Lock()

	// Coalesce: join an attempt already pending for this URL
	if h, ok := d.handlers[urlID]; ok {
		h.subscribers = append(h.subscribers, subscriber{
			receiptID:  receiptID,
			filter:     opt.Filter,
			completion: opt.Completion,
		})
		handle := h.handle
		d.mu.Unlock()

		return &Receipt{Handle: handle, ID: receiptID}
	}

	// Cache hit: deliver synthesized success, nothing to cancel
	if d.cfg.Cache != nil && !req.ForceRefresh {
		if img, ok := d.cfg.Cache.GetForRequest(urlID, filterID); ok {
			d.mu.Unlock()

			d.complete(opt.Completion, Response{
				Request:   req,
				Result:    Result{Image: img},
				FromCache: true,
			})
			return nil
		}
	}

	handlerID := uuid.NewString()
	runOpts := RunOptions{
		Credential: d.cfg.Credential,
		Timeout:    d.cfg.RequestTimeout,
		Completion: func(raw *RawResponse) {
			d.dispatch(urlID, handlerID, raw)
		},
	}
	if opt.Progress != nil {
		progressFn := opt.Progress
		runOpts.Progress = func(p Progress) {
			d.progress(func() { progressFn(p) })
		}
	}

	handle := d.runner.NewHandle(req, runOpts)

	if d.active < d.cfg.MaxConcurrent {
		handle.Start()
		d.active++
	} else {
		switch d.cfg.Prioritization {
		case LIFO:
			d.queued.PushFront(handle)
		default:
			d.queued.PushBack(handle)
		}
	}

	d.handlers[urlID] = &responseHandler{
		urlID:     urlID,
		handlerID: handlerID,
		handle:    handle,
		subscribers: []subscriber{{
			receiptID:  receiptID,
			filter:     opt.Filter,
			completion: opt.Completion,
		}},
	}

	d.mu.Unlock()

	return &Receipt{Handle: handle, ID: receiptID}
}

// DownloadBatch downloads each request with a fresh receipt. Receipts
// come back in input order; requests served from the cache are
// omitted.
func (d *Downloader) DownloadBatch(reqs []*Request, opt DownloadOptions) []*Receipt {
	receipts := make([]*Receipt, 0, len(reqs))
	for _, req := range reqs {
		perReq := opt
		perReq.ReceiptID = ""
		if r := d.Download(req, perReq); r != nil {
			receipts = append(receipts, r)
		}
	}
	return receipts
}

// Cancel removes the receipt's subscription and delivers a
// request-cancelled failure to it. The network attempt is cancelled
// only when its last subscriber goes and it hasn't started yet.
func (d *Downloader) Cancel(r *Receipt) {
	if r == nil {
		return
	}

	req := r.Handle.Request()
	urlID, err := req.Fingerprint()
	if err != nil {
		return
	}

	d.mu.Lock()

	h, ok := d.handlers[urlID]
	if !ok {
		d.mu.Unlock()
		return
	}

	var cancelled *subscriber
	for i := range h.subscribers {
		if h.subscribers[i].receiptID == r.ID {
			sub := h.subscribers[i]
			cancelled = &sub
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			break
		}
	}

	if len(h.subscribers) == 0 && h.handle.State() == StateSuspended {
		h.handle.Cancel()
		delete(d.handlers, urlID)
	}

	d.mu.Unlock()

	if cancelled != nil {
		d.complete(cancelled.completion, Response{
			Request: req,
			Result:  Result{Err: ErrRequestCancelled},
		})
	}
}

// ActiveCount returns the number of in-flight requests.
func (d *Downloader) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// QueuedCount returns the number of requests held back by the
// concurrency cap.
func (d *Downloader) QueuedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queued.Len()
}

// dispatch handles a runner completion: bookkeeping under the lock,
// then decode, filter, cache, and fan-out without it.
func (d *Downloader) dispatch(urlID, handlerID string, raw *RawResponse) {
	d.mu.Lock()

	h, ok := d.handlers[urlID]
	if !ok || h.handlerID != handlerID {
		// Stale attempt: superseded or fully cancelled
		d.active--
		d.startNextLocked()
		d.mu.Unlock()
		return
	}

	delete(d.handlers, urlID)
	d.active--
	d.startNextLocked()

	d.mu.Unlock()

	if raw.Err != nil {
		d.failAll(h, raw, raw.Err)
		return
	}

	if err := d.validate(raw); err != nil {
		d.failAll(h, raw, err)
		return
	}

	img, err := d.serializer.Decode(d.ctx, raw.Data)
	if err != nil {
		d.failAll(h, raw, err)
		return
	}

	// One transform per distinct filter identifier, shared across
	// subscribers
	filtered := make(map[string]*image.Image)

	for _, sub := range h.subscribers {
		result := img
		filterID := ""

		if sub.filter != nil {
			filterID = sub.filter.ID()
			if cached, ok := filtered[filterID]; ok {
				result = cached
			} else {
				result = sub.filter.Apply(img)
				filtered[filterID] = result
			}
		}

		if d.cfg.Cache != nil {
			d.cfg.Cache.AddForRequest(result, urlID, filterID)
		}

		d.complete(sub.completion, Response{
			Request:      raw.Request,
			HTTPResponse: raw.HTTPResponse,
			Data:         raw.Data,
			Result:       Result{Image: result},
		})
	}
}

// startNextLocked admits queued requests while the cap allows,
// skipping handles cancelled while they waited.
func (d *Downloader) startNextLocked() {
	for d.active < d.cfg.MaxConcurrent && d.queued.Len() > 0 {
		handle := d.queued.PopFront()
		if handle.State() != StateSuspended {
			continue
		}
		handle.Start()
		d.active++
	}
}

func (d *Downloader) validate(raw *RawResponse) error {
	u, err := raw.Request.parsedURL()
	if err != nil {
		return err
	}

	mimeType := ""
	if raw.HTTPResponse != nil {
		if err := image.ValidateStatus(raw.HTTPResponse.StatusCode); err != nil {
			return err
		}

		contentType := raw.HTTPResponse.Header.Get("Content-Type")
		if contentType != "" {
			if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
				mimeType = parsed
			}
		}
	}

	return d.cfg.AcceptableContentTypes.Validate(u, mimeType, len(raw.Data))
}

func (d *Downloader) failAll(h *responseHandler, raw *RawResponse, err error) {
	d.log.Debugw("download failed", "url", h.urlID, "error", err)

	for _, sub := range h.subscribers {
		d.complete(sub.completion, Response{
			Request:      raw.Request,
			HTTPResponse: raw.HTTPResponse,
			Data:         raw.Data,
			Result:       Result{Err: err},
		})
	}
}

func (d *Downloader) complete(completion func(Response), resp Response) {
	if completion == nil {
		return
	}
	d.callback(func() { completion(resp) })
}
