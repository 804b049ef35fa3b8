package image

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ValidationReason says which gate a response failed.
type ValidationReason int

const (
	ReasonMissingContentType ValidationReason = iota
	ReasonUnacceptableContentType
	ReasonUnacceptableStatusCode
	ReasonDataFileNil
	ReasonDataFileReadFailed
)

func (r ValidationReason) String() string {
	switch r {
	case ReasonMissingContentType:
		return "missing content type"
	case ReasonUnacceptableContentType:
		return "unacceptable content type"
	case ReasonUnacceptableStatusCode:
		return "unacceptable status code"
	case ReasonDataFileNil:
		return "data file nil"
	case ReasonDataFileReadFailed:
		return "data file read failed"
	default:
		return "unknown"
	}
}

// ValidationError is a response validation failure.
type ValidationError struct {
	Reason      ValidationReason
	ContentType string
	StatusCode  int
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonUnacceptableContentType:
		return fmt.Sprintf("response validation failed: unacceptable content type %q", e.ContentType)
	case ReasonUnacceptableStatusCode:
		return fmt.Sprintf("response validation failed: unacceptable status code %d", e.StatusCode)
	default:
		return fmt.Sprintf("response validation failed: %s", e.Reason)
	}
}

// defaultContentTypes are the MIME types accepted from servers unless
// extended at runtime.
var defaultContentTypes = []string{
	"image/tiff",
	"image/jpeg",
	"image/gif",
	"image/png",
	"image/ico",
	"image/x-icon",
	"image/bmp",
	"image/x-bmp",
	"image/x-xbitmap",
	"image/x-ms-bmp",
	"image/x-win-bitmap",
}

// ContentTypes is a runtime-extensible set of acceptable image MIME
// types.
type ContentTypes struct {
	mu    sync.RWMutex
	types []string
}

// NewContentTypes returns the default acceptable set.
func NewContentTypes() *ContentTypes {
	return &ContentTypes{types: append([]string(nil), defaultContentTypes...)}
}

// Add extends the acceptable set.
func (c *ContentTypes) Add(types ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = append(c.types, types...)
}

// List returns a snapshot of the acceptable set.
func (c *ContentTypes) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.types...)
}

// ValidateStatus accepts 2xx status codes.
func ValidateStatus(status int) error {
	if status < 200 || status >= 300 {
		return &ValidationError{Reason: ReasonUnacceptableStatusCode, StatusCode: status}
	}
	return nil
}

// Validate gates a response body before decoding. Local file URLs skip
// content-type validation, as does an empty body.
func (c *ContentTypes) Validate(u *url.URL, mimeType string, dataLen int) error {
	if u != nil && u.Scheme == "file" {
		return nil
	}

	if dataLen == 0 {
		return nil
	}

	if mimeType == "" {
		return &ValidationError{Reason: ReasonMissingContentType}
	}

	for _, accepted := range c.List() {
		if mimeMatches(accepted, mimeType) {
			return nil
		}
	}

	return &ValidationError{Reason: ReasonUnacceptableContentType, ContentType: mimeType}
}

// mimeMatches reports whether a T/S mime type matches an acceptable
// entry, where each of type and subtype may be "*".
func mimeMatches(accepted, mimeType string) bool {
	if accepted == "*/*" {
		return true
	}

	at, as, ok := splitMime(accepted)
	if !ok {
		return false
	}
	mt, ms, ok := splitMime(mimeType)
	if !ok {
		return false
	}

	return partMatches(at, mt) && partMatches(as, ms)
}

func splitMime(s string) (string, string, bool) {
	t, sub, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "/")
	if !ok || t == "" || sub == "" {
		return "", "", false
	}
	return t, sub, true
}

func partMatches(accepted, got string) bool {
	return accepted == "*" || got == "*" || accepted == got
}
