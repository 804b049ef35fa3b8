package proxyapi

import (
	"bytes"
	"fmt"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/twmb/murmur3"

	"github.com/tobiasma/picfetch/image"
)

func errArgs(name string, args []string) error {
	return fmt.Errorf("filter %q: wrong argument count %d", name, len(args))
}

func sizeArgs(args []string) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, errArgs("resize", args)
	}

	var w, h float64
	if _, err := fmt.Sscanf(args[0], "%g", &w); err != nil {
		return 0, 0, err
	}
	if _, err := fmt.Sscanf(args[1], "%g", &h); err != nil {
		return 0, 0, err
	}

	return w, h, nil
}

// encode serializes a decoded image into the requested container.
func encode(img *image.Image, extension string, quality int) ([]byte, error) {
	raster := img.Raster()
	buf := &bytes.Buffer{}

	var err error
	switch extension {
	case ".png":
		err = imaging.Encode(buf, raster, imaging.PNG)
	case ".gif":
		err = imaging.Encode(buf, raster, imaging.GIF)
	case ".webp":
		err = webp.Encode(buf, raster, &webp.Options{Quality: float32(quality)})
	default:
		err = imaging.Encode(buf, raster, imaging.JPEG, imaging.JPEGQuality(quality))
	}

	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func contentTypeFor(extension string) string {
	switch extension {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func etagFor(data []byte) string {
	return fmt.Sprintf("\"%016x\"", murmur3.Sum64(data))
}
