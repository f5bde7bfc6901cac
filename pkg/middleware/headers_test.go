package middleware

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestForwardHeaderScrubbing is Testable Property 6 and E6: denied headers
// never reach the downstream transport even if listed in forward_headers;
// CRLF/NUL are stripped.
func TestForwardHeaderScrubbing(t *testing.T) {
	src := http.Header{
		"X-Api-Key":           {"v1\r\nX-Inject: evil"},
		"Cookie":              {"session=abc"},
		"Proxy-Authorization": {"Basic xyz"},
		"Sec-Fetch-Mode":      {"cors"},
		"Host":                {"evil.example"},
	}

	out := ForwardHeaders([]string{"X-Api-Key", "Cookie", "Proxy-Authorization", "Sec-Fetch-Mode", "Host"}, src)

	assert.Equal(t, map[string]string{"X-Api-Key": "v1X-Inject: evil"}, out)
}

func TestForwardHeadersArrayCollapses(t *testing.T) {
	src := http.Header{"X-Trace": {"first", "second"}}
	out := ForwardHeaders([]string{"X-Trace"}, src)
	assert.Equal(t, "first", out["X-Trace"])
}

func TestIsDeniedHeaderCaseInsensitive(t *testing.T) {
	assert.True(t, isDeniedHeader("COOKIE"))
	assert.True(t, isDeniedHeader("Sec-Fetch-Site"))
	assert.True(t, isDeniedHeader("Proxy-Foo"))
	assert.False(t, isDeniedHeader("X-Api-Key"))
}
