// Package params parses and validates the proxy's query parameters.
package params

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	maxDimension  = 5000
	maxBlurAmount = 10
)

// Params are the validated parameters of a proxy request.
type Params struct {
	URL        string
	Width      int
	Height     int
	Fit        string // "scale", "fit" or "fill"
	Blur       bool
	BlurAmount int
	Grayscale  bool
	Extension  string // ".jpg", ".png", ".gif" or ".webp"
	Quality    int
}

// GetParams parses the query parameters from an http request.
func GetParams(r *http.Request) (*Params, error) {
	q := r.URL.Query()

	imageURL := q.Get("url")
	if imageURL == "" {
		return nil, fmt.Errorf("missing url parameter")
	}

	parsed, err := url.Parse(imageURL)
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("invalid url parameter")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("url must use http or https")
	}

	width, err := parseDimension(q.Get("w"))
	if err != nil {
		return nil, fmt.Errorf("invalid width: %s", err)
	}

	height, err := parseDimension(q.Get("h"))
	if err != nil {
		return nil, fmt.Errorf("invalid height: %s", err)
	}

	fit := strings.ToLower(q.Get("fit"))
	switch fit {
	case "", "fit":
		fit = "fit"
	case "scale", "fill":
	default:
		return nil, fmt.Errorf("invalid fit: %q", fit)
	}

	blur, blurAmount, err := parseBlur(q)
	if err != nil {
		return nil, err
	}

	extension, err := parseExtension(q.Get("format"))
	if err != nil {
		return nil, err
	}

	quality := 85
	if s := q.Get("quality"); s != "" {
		quality, err = strconv.Atoi(s)
		if err != nil || quality < 1 || quality > 100 {
			return nil, fmt.Errorf("invalid quality: %q", s)
		}
	}

	_, grayscale := q["grayscale"]

	return &Params{
		URL:        imageURL,
		Width:      width,
		Height:     height,
		Fit:        fit,
		Blur:       blur,
		BlurAmount: blurAmount,
		Grayscale:  grayscale,
		Extension:  extension,
		Quality:    quality,
	}, nil
}

func parseDimension(s string) (int, error) {
	if s == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("not a positive integer: %q", s)
	}
	if v > maxDimension {
		return 0, fmt.Errorf("%d exceeds the maximum of %d", v, maxDimension)
	}

	return v, nil
}

func parseBlur(q url.Values) (bool, int, error) {
	if _, ok := q["blur"]; !ok {
		return false, 0, nil
	}

	amount := 5
	if s := q.Get("blur"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > maxBlurAmount {
			return false, 0, fmt.Errorf("invalid blur amount: %q", s)
		}
		amount = v
	}

	return true, amount, nil
}

func parseExtension(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "jpg", "jpeg":
		return ".jpg", nil
	case "png":
		return ".png", nil
	case "gif":
		return ".gif", nil
	case "webp":
		return ".webp", nil
	default:
		return "", fmt.Errorf("invalid format: %q", format)
	}
}
