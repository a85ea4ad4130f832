package httpclient

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRequestIncludesHostAndContentLength(t *testing.T) {
	req := &Request{
		Method: "POST",
		URL:    "http://example.com/submit",
		Header: map[string]string{"X-Test": "1"},
		Body:   []byte("payload"),
	}
	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	out := string(buildRequest(req, u, "example.com", "80"))

	require.Contains(t, out, "POST /submit HTTP/1.1\r\n")
	require.Contains(t, out, "Host: example.com\r\n")
	require.Contains(t, out, "Content-Length: 7\r\n")
	require.Contains(t, out, "X-Test: 1\r\n")
	require.Contains(t, out, "Connection: close\r\n")
	require.Contains(t, out, "\r\n\r\npayload")
}

func TestBuildRequestNonStandardPortInHostHeader(t *testing.T) {
	req := &Request{URL: "http://example.com:8080/"}
	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	out := string(buildRequest(req, u, "example.com", "8080"))
	require.Contains(t, out, "Host: example.com:8080\r\n")
}

func TestBuildRequestDefaultsToGET(t *testing.T) {
	req := &Request{URL: "http://example.com/"}
	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	out := string(buildRequest(req, u, "example.com", "80"))
	require.Contains(t, out, "GET / HTTP/1.1\r\n")
}

func TestBuildRequestUsesOriginFormNotFullURL(t *testing.T) {
	req := &Request{URL: "http://example.com/submit?x=1"}
	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	out := string(buildRequest(req, u, "example.com", "80"))

	require.Contains(t, out, "GET /submit?x=1 HTTP/1.1\r\n")
	require.NotContains(t, out, "http://example.com")
}
