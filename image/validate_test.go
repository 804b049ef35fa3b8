package image

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()

	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestValidateStatus(t *testing.T) {
	assert.NoError(t, ValidateStatus(200))
	assert.NoError(t, ValidateStatus(204))
	assert.NoError(t, ValidateStatus(299))

	for _, status := range []int{199, 301, 304, 404, 500} {
		err := ValidateStatus(status)
		require.Error(t, err)

		var validation *ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, ReasonUnacceptableStatusCode, validation.Reason)
		assert.Equal(t, status, validation.StatusCode)
	}
}

func TestValidateContentType(t *testing.T) {
	c := NewContentTypes()
	u := mustURL(t, "https://h/x.png")

	tests := []struct {
		name     string
		mimeType string
		dataLen  int
		reason   ValidationReason
		ok       bool
	}{
		{"png", "image/png", 10, 0, true},
		{"jpeg", "image/jpeg", 10, 0, true},
		{"bmp variant", "image/x-ms-bmp", 10, 0, true},
		{"case insensitive", "Image/PNG", 10, 0, true},
		{"html", "text/html", 10, ReasonUnacceptableContentType, false},
		{"webp not in default set", "image/webp", 10, ReasonUnacceptableContentType, false},
		{"missing", "", 10, ReasonMissingContentType, false},
		{"empty body passes regardless", "text/html", 0, 0, true},
		{"malformed", "image", 10, ReasonUnacceptableContentType, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := c.Validate(u, test.mimeType, test.dataLen)
			if test.ok {
				assert.NoError(t, err)
				return
			}

			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, test.reason, validation.Reason)
		})
	}
}

func TestValidateFileURLSkipsContentType(t *testing.T) {
	c := NewContentTypes()

	err := c.Validate(mustURL(t, "file:///tmp/x.bin"), "application/octet-stream", 10)
	assert.NoError(t, err)
}

func TestContentTypesExtensibleAtRuntime(t *testing.T) {
	c := NewContentTypes()
	u := mustURL(t, "https://h/x.webp")

	require.Error(t, c.Validate(u, "image/webp", 10))

	c.Add("image/webp")
	assert.NoError(t, c.Validate(u, "image/webp", 10))
}

func TestWildcardMatching(t *testing.T) {
	u := mustURL(t, "https://h/x")

	c := NewContentTypes()
	c.Add("*/*")
	assert.NoError(t, c.Validate(u, "application/octet-stream", 10))

	c = NewContentTypes()
	c.Add("image/*")
	assert.NoError(t, c.Validate(u, "image/avif", 10))
	assert.Error(t, c.Validate(u, "video/mp4", 10))
}
