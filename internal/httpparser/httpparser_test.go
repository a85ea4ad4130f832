package httpparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestParseS2(t *testing.T) {
	input := "GET /a?x=1 HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello"

	var events []string
	p := New(Request)
	p.SetCallbacks(Callbacks{
		OnMessageBegin: func() error { events = append(events, "begin"); return nil },
		OnURL: func(d []byte) error {
			events = append(events, "url:"+string(d))
			return nil
		},
		OnHeaderField: func(d []byte) error {
			events = append(events, "field:"+string(d))
			return nil
		},
		OnHeaderValue: func(d []byte) error {
			events = append(events, "value:"+string(d))
			return nil
		},
		OnHeadersComplete: func() error { events = append(events, "headers-complete"); return nil },
		OnBody: func(d []byte) error {
			events = append(events, "body:"+string(d))
			return nil
		},
		OnMessageComplete: func() error { events = append(events, "complete"); return nil },
	})

	n, err := p.Execute([]byte(input))
	require.NoError(t, err)
	require.Equal(t, len(input), n, "execute must consume exactly 55 bytes")

	require.Equal(t, []string{
		"begin",
		"url:/a?x=1",
		"field:Host", "value:h",
		"field:Content-Length", "value:5",
		"headers-complete",
		"body:hello",
		"complete",
	}, events)

	require.Equal(t, "GET", p.Method)
	require.Equal(t, 1, p.HTTPMajor)
	require.Equal(t, 1, p.HTTPMinor)
	require.EqualValues(t, 5, p.ContentLength)
	require.True(t, p.IsComplete())
}

func TestChunkedResponseS3(t *testing.T) {
	input := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nHello\r\n6\r\n World\r\n0\r\n\r\n"

	var bodies []string
	completed := false
	p := New(Response)
	p.SetCallbacks(Callbacks{
		OnBody: func(d []byte) error {
			bodies = append(bodies, string(d))
			return nil
		},
		OnMessageComplete: func() error { completed = true; return nil },
	})

	n, err := p.Execute([]byte(input))
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Equal(t, []string{"Hello", " World"}, bodies)
	require.True(t, p.Chunked())
	require.True(t, completed)
	require.True(t, p.IsComplete())
}

func TestExecuteAcrossMultipleCallsReassemblesTokens(t *testing.T) {
	full := "GET /x HTTP/1.1\r\nHost: example.com\r\n\r\n"
	p := New(Request)
	var url strings.Builder
	headersComplete := false
	p.SetCallbacks(Callbacks{
		OnURL: func(d []byte) error { url.Write(d); return nil },
		OnHeadersComplete: func() error {
			headersComplete = true
			return nil
		},
	})

	for i := 0; i < len(full); i++ {
		_, err := p.Execute([]byte{full[i]})
		require.NoError(t, err)
	}

	require.Equal(t, "/x", url.String())
	require.True(t, headersComplete)
	require.True(t, p.IsComplete())
}

func TestZeroContentLengthCompletesImmediatelyAtHeaderEnd(t *testing.T) {
	input := "HEAD / HTTP/1.1\r\nHost: h\r\nContent-Length: 0\r\n\r\n"
	p := New(Request)
	n, err := p.Execute([]byte(input))
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.True(t, p.IsComplete(), "a Content-Length: 0 message must complete as soon as headers end")
}

func TestDifferingContentLengthHeadersIsSticky(t *testing.T) {
	input := "GET / HTTP/1.1\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nhello"
	p := New(Request)
	_, err := p.Execute([]byte(input))
	require.Error(t, err)

	_, err2 := p.Execute([]byte("more"))
	require.Error(t, err2, "parser must stay sticky on error")
	require.Equal(t, err, p.Error())
}

func TestRepeatedIdenticalContentLengthIsTolerated(t *testing.T) {
	input := "GET / HTTP/1.1\r\nContent-Length: 5\r\nContent-Length: 5\r\n\r\nhello"
	p := New(Request)
	n, err := p.Execute([]byte(input))
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.True(t, p.IsComplete())
	require.Equal(t, int64(5), p.ContentLength)
}

func TestResetAllowsSecondMessageOnSameStream(t *testing.T) {
	p := New(Request)
	msg := "GET / HTTP/1.1\r\n\r\n"
	n, err := p.Execute([]byte(msg))
	require.NoError(t, err)
	require.Equal(t, len(msg), n)
	require.True(t, p.IsComplete())

	p.Reset()
	require.False(t, p.IsComplete())

	n2, err2 := p.Execute([]byte(msg))
	require.NoError(t, err2)
	require.Equal(t, len(msg), n2)
	require.True(t, p.IsComplete())
}

func TestEitherDetectsResponseByHTTPPrefix(t *testing.T) {
	p := New(Either)
	_, err := p.Execute([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, 204, p.StatusCode)
}
