// Package httpclient is a minimal HTTP/1.x client built on internal/tcpconn
// and the root package's coroutine/promise primitive, per spec.md §2's
// "HTTP client/server glue" row and SPEC_FULL.md §4. A request is issued
// from inside a coroutine body (aio.Go) so the blocking-looking Do call
// actually suspends at each connect/read boundary and resumes on the
// loop thread when the underlying I/O completes.
package httpclient

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-aio/aio"
	"github.com/go-aio/aio/internal/httpparser"
	"github.com/go-aio/aio/internal/tcpconn"
	"golang.org/x/sys/unix"
)

// Request is a single HTTP/1.1 request.
type Request struct {
	Method  string
	URL     string
	Header  map[string]string
	Body    []byte
}

// Response is a parsed HTTP/1.1 response.
type Response struct {
	StatusCode int
	Header     map[string]string
	Body       []byte
}

const connectStatus = 1
const readStatus = 1

// Do issues req on loop from inside co's coroutine body, suspending at
// connect, at the request write, and once more until the full response
// is parsed (or the peer closes). Must be called from the function
// passed to aio.Go for loop.
func Do(co *aio.Coroutine, loop *aio.Loop, req *Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, aio.WrapError("httpclient.do", err)
	}
	if u.Scheme != "http" {
		return nil, aio.NewError("httpclient.do", aio.KindInvalidArgument, "only http:// is supported (TLS is an external TLSAdapter contract, see SPEC_FULL.md)")
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
	}

	addr, err := net.ResolveTCPAddr("tcp4", net.JoinHostPort(host, port))
	if err != nil {
		return nil, aio.WrapError("httpclient.resolve", err)
	}

	conn, err := tcpconn.NewSocket(loop.Backend(), unix.AF_INET, loop)
	if err != nil {
		return nil, aio.WrapError("httpclient.socket", err)
	}

	connectP := aio.NewPromise(loop)
	if err := conn.Connect(addr, func(connErr error) {
		status := connectStatus
		if connErr != nil {
			status = 0
		}
		connectP.Complete(status, connErr)
	}); err != nil {
		conn.Destroy(nil)
		return nil, aio.WrapError("httpclient.connect", err)
	}
	status, result := co.Await(connectP)
	if status == 0 {
		conn.Destroy(nil)
		if result != nil {
			return nil, result.(error)
		}
		return nil, aio.NewError("httpclient.connect", aio.KindConnectFailed, "connect failed")
	}

	reqBytes := buildRequest(req, u, host, port)
	writeP := aio.NewPromise(loop)
	if err := conn.Write(reqBytes, func(werr error) {
		st := readStatus
		if werr != nil {
			st = 0
		}
		writeP.Complete(st, werr)
	}); err != nil {
		conn.Destroy(nil)
		return nil, aio.WrapError("httpclient.write", err)
	}
	if st, res := co.Await(writeP); st == 0 {
		conn.Destroy(nil)
		if res != nil {
			return nil, res.(error)
		}
		return nil, aio.WrapError("httpclient.write", nil)
	}

	resp := &Response{Header: make(map[string]string)}
	var bodyBuf []byte
	var curField string

	parser := httpparser.New(httpparser.Response)
	parser.SetCallbacks(httpparser.Callbacks{
		OnHeaderField: func(d []byte) error { curField = string(d); return nil },
		OnHeaderValue: func(d []byte) error {
			resp.Header[strings.ToLower(curField)] = string(d)
			return nil
		},
		OnBody: func(d []byte) error {
			bodyBuf = append(bodyBuf, d...)
			return nil
		},
	})

	readP := aio.NewPromise(loop)
	var readErr error
	conn.ReadStart(func(suggested int) []byte {
		return make([]byte, suggested)
	}, func(data []byte, rerr error) {
		if rerr != nil {
			readErr = rerr
			readP.Complete(0, rerr)
			return
		}
		if len(data) == 0 {
			// EOF: a response with no Content-Length/chunked framing is
			// delimited by connection close (spec.md §4.5).
			readP.Complete(1, nil)
			return
		}
		if _, perr := parser.Execute(data); perr != nil {
			readErr = perr
			readP.Complete(0, perr)
			return
		}
		if parser.IsComplete() {
			readP.Complete(1, nil)
		}
	})

	st, _ := co.Await(readP)
	conn.ReadStop()
	conn.Destroy(nil)
	if st == 0 {
		if readErr != nil {
			return nil, aio.WrapError("httpclient.read", readErr)
		}
		return nil, aio.NewError("httpclient.read", aio.KindReadError, "connection closed before response completed")
	}

	resp.StatusCode = parser.StatusCode
	resp.Body = bodyBuf
	return resp, nil
}

func buildRequest(req *Request, u *url.URL, host, port string) []byte {
	var b strings.Builder
	method := req.Method
	if method == "" {
		method = "GET"
	}
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, u.RequestURI())
	hostHeader := host
	if port != "80" {
		hostHeader = net.JoinHostPort(host, port)
	}
	fmt.Fprintf(&b, "Host: %s\r\n", hostHeader)
	fmt.Fprintf(&b, "Connection: close\r\n")
	if len(req.Body) > 0 {
		fmt.Fprintf(&b, "Content-Length: %s\r\n", strconv.Itoa(len(req.Body)))
	}
	for k, v := range req.Header {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	out := []byte(b.String())
	out = append(out, req.Body...)
	return out
}
