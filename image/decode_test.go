package image

import (
	"bytes"
	"context"
	stdimage "image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestStdDecoderDecodesPNG(t *testing.T) {
	d := &StdDecoder{}

	img, err := d.Decode(pngBytes(t, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, img.Width())
	assert.Equal(t, 2, img.Height())
	assert.Equal(t, float64(1), img.Scale())
	assert.EqualValues(t, 3*2*4, img.TotalBytes())
}

func TestStdDecoderEmptyBuffer(t *testing.T) {
	d := &StdDecoder{}

	_, err := d.Decode(nil)
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestStdDecoderGarbage(t *testing.T) {
	d := &StdDecoder{}

	_, err := d.Decode([]byte("not an image"))
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestStdDecoderScale(t *testing.T) {
	d := &StdDecoder{Scale: 2}

	img, err := d.Decode(pngBytes(t, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, 2, img.Width())
	assert.Equal(t, 2, img.Height())
	assert.EqualValues(t, 4*4*4, img.TotalBytes())
}

func TestInflateIdempotent(t *testing.T) {
	img := FromRaster(stdimage.NewGray(stdimage.Rect(0, 0, 2, 2)), 1)
	assert.False(t, img.Inflated())

	img.Inflate()
	assert.True(t, img.Inflated())
	first := img.Raster()

	img.Inflate()
	assert.Same(t, first, img.Raster())

	_, ok := img.Raster().(*stdimage.RGBA)
	assert.True(t, ok)
}

func TestSerializerDecodesOnWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSerializer(ctx, 2, &StdDecoder{})
	go s.Run()

	data := pngBytes(t, 5, 5)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			img, err := s.Decode(ctx, data)
			if err == nil && img.Width() != 5 {
				err = assert.AnError
			}
			done <- err
		}()
	}

	for i := 0; i < 8; i++ {
		assert.NoError(t, <-done)
	}
}

func TestSerializerPropagatesDecodeError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSerializer(ctx, 1, &StdDecoder{})
	go s.Run()

	_, err := s.Decode(ctx, []byte("junk"))
	assert.ErrorIs(t, err, ErrSerializationFailed)
}
