package httpserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMuxMatchesExactRoute(t *testing.T) {
	m := New()
	var called bool
	m.Handle("GET", "/health", func(w *ResponseWriter, r *Request) {
		called = true
		w.Write([]byte("ok"))
	})

	w := m.dispatch(&Request{Method: "GET", Path: "/health"})
	require.True(t, called)
	require.Equal(t, "ok", string(w.body))
	require.Equal(t, 200, w.status)
}

func TestMuxCapturesPathParams(t *testing.T) {
	m := New()
	var got string
	m.Handle("GET", "/users/:id", func(w *ResponseWriter, r *Request) {
		got = r.Params["id"]
	})

	m.dispatch(&Request{Method: "GET", Path: "/users/42"})
	require.Equal(t, "42", got)
}

func TestMuxMatchesRouteWithQueryString(t *testing.T) {
	m := New()
	var gotQuery string
	m.Handle("GET", "/a", func(w *ResponseWriter, r *Request) {
		w.Write([]byte("ok"))
		gotQuery = r.Query.Get("x")
	})

	w := m.dispatch(&Request{Method: "GET", Path: "/a?x=1"})
	require.Equal(t, "ok", string(w.body))
	require.Equal(t, "1", gotQuery)
}

func TestMuxUnmatchedRouteHitsNotFound(t *testing.T) {
	m := New()
	w := m.dispatch(&Request{Method: "GET", Path: "/missing"})
	require.Equal(t, 404, w.status)
}

func TestMiddlewareRunsInRegistrationOrder(t *testing.T) {
	m := New()
	var order []string
	m.Use(func(next Handler) Handler {
		return func(w *ResponseWriter, r *Request) {
			order = append(order, "outer-before")
			next(w, r)
			order = append(order, "outer-after")
		}
	})
	m.Use(func(next Handler) Handler {
		return func(w *ResponseWriter, r *Request) {
			order = append(order, "inner-before")
			next(w, r)
			order = append(order, "inner-after")
		}
	})
	m.Handle("GET", "/", func(w *ResponseWriter, r *Request) {
		order = append(order, "handler")
	})

	m.dispatch(&Request{Method: "GET", Path: "/"})
	require.Equal(t, []string{
		"outer-before", "inner-before", "handler", "inner-after", "outer-after",
	}, order)
}

func TestEncodeResponseIncludesContentLengthAndConnection(t *testing.T) {
	w := newResponseWriter()
	w.Write([]byte("hello"))
	out := string(encodeResponse(w, false))

	require.Contains(t, out, "HTTP/1.1 200 OK\r\n")
	require.Contains(t, out, "Content-Length: 5\r\n")
	require.Contains(t, out, "Connection: keep-alive\r\n")
	require.Contains(t, out, "\r\n\r\nhello")
}

func TestEncodeResponseConnectionCloseWhenRequested(t *testing.T) {
	w := newResponseWriter()
	out := string(encodeResponse(w, true))
	require.Contains(t, out, "Connection: close\r\n")
}

func TestRequestIsMultipartDetectsContentType(t *testing.T) {
	r := &Request{Header: map[string]string{"content-type": "multipart/form-data; boundary=X"}}
	require.True(t, r.IsMultipart())

	r2 := &Request{Header: map[string]string{"content-type": "application/json"}}
	require.False(t, r2.IsMultipart())
}

func TestParseMultipartDecodesParts(t *testing.T) {
	body := "--X\r\n" +
		"Content-Disposition: form-data; name=\"field\"\r\n" +
		"\r\n" +
		"value\r\n" +
		"--X--\r\n"
	r := &Request{
		Header: map[string]string{"content-type": "multipart/form-data; boundary=X"},
		Body:   []byte(body),
	}

	parts, err := r.ParseMultipart()
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, "field", parts[0].Name)
	require.Equal(t, "value", string(parts[0].Data))
}
