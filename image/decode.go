package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/chai2010/webp"
)

// ErrSerializationFailed is returned when a response body can't be
// decoded into an image.
var ErrSerializationFailed = errors.New("image serialization failed")

// Decoder turns a byte buffer into a decoded image.
type Decoder interface {
	Decode(data []byte) (*Image, error)
}

// StdDecoder decodes through the standard image codecs, falling back
// to webp for buffers the standard registry doesn't recognize.
type StdDecoder struct {
	// Scale is assigned to every decoded image. Zero means 1.
	Scale float64

	// Inflate eagerly materializes pixel data after decoding.
	Inflate bool
}

// Decode implements Decoder.
func (d *StdDecoder) Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrSerializationFailed
	}

	raster, _, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		// Try webp before giving up
		raster, err = webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrSerializationFailed, err)
		}
	}

	img := FromRaster(raster, d.Scale)
	if d.Inflate {
		img.Inflate()
	}

	return img, nil
}

// Serializer funnels all decoding through a worker queue so that
// non-thread-safe codecs never run concurrently.
type Serializer struct {
	queue *Queue
}

// NewSerializer creates a Serializer decoding with the given decoder
// on the given number of workers. Run on the returned serializer must
// be called for Decode to make progress; it blocks until ctx is done.
func NewSerializer(ctx context.Context, workers int, decoder Decoder) *Serializer {
	// Shared by all workers so decodes never overlap
	var mu sync.Mutex

	return &Serializer{
		queue: NewQueue(ctx, workers, func(_ context.Context, data []byte) (*Image, error) {
			mu.Lock()
			defer mu.Unlock()
			return decoder.Decode(data)
		}),
	}
}

// Run starts the decode workers and blocks until shutdown.
func (s *Serializer) Run() {
	s.queue.Run()
}

// Decode decodes data on the worker queue.
func (s *Serializer) Decode(ctx context.Context, data []byte) (*Image, error) {
	return s.queue.Process(ctx, data)
}
